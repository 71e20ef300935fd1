package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// ErrInsufficientBalance is returned when a debit exceeds the current balance.
// The request performs no mutation.
var ErrInsufficientBalance = errors.New("insufficient balance")

// ErrInvalidAmount is returned for zero or negative mutation amounts.
var ErrInvalidAmount = errors.New("amount must be positive")

// ErrConcurrentUpdate is returned when another transaction changed the balance
// between the read and the guarded write. The mutation did not apply; callers
// retry the whole operation.
var ErrConcurrentUpdate = errors.New("balance changed concurrently")

// Ledger applies agent balance mutations together with the current period
// statement's running totals, always inside the caller's transaction.
type Ledger struct{}

func New() *Ledger {
	return &Ledger{}
}

// Credit adds a commission payout to the agent's balance and the period
// statement. All arithmetic happens in Go on exact decimals; the database only
// ever stores values computed here, so no backend's numeric type can introduce
// rounding drift. The conditional write on the previously read balance detects
// concurrent mutations.
func (l *Ledger) Credit(ctx context.Context, tx *gorm.DB, siteID uint, agentID uint64, amount decimal.Decimal, at time.Time) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	if err := l.ensureBalanceRow(ctx, tx, siteID, agentID); err != nil {
		return err
	}
	current, err := l.Balance(ctx, tx, siteID, agentID)
	if err != nil {
		return err
	}
	// The statement row must exist before the balance moves so its opening
	// balance snapshots the pre-mutation value.
	stmt, err := l.ensureStatement(ctx, tx, siteID, agentID, at)
	if err != nil {
		return err
	}

	res := tx.WithContext(ctx).Model(&models.AgentBalance{}).
		Where("site_id = ? AND agent_id = ? AND balance = ?", siteID, agentID, current).
		Update("balance", current.Add(amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	return tx.WithContext(ctx).Model(&models.BalanceStatement{}).
		Where("id = ?", stmt.ID).
		Updates(map[string]interface{}{
			"commission_total": stmt.CommissionTotal.Add(amount),
			"closing_balance":  stmt.ClosingBalance.Add(amount),
		}).Error
}

// Debit withdraws from the agent's balance. A debit beyond the current balance
// fails with ErrInsufficientBalance and performs no mutation; the conditional
// write on the previously read balance is the guard against racing mutations.
func (l *Ledger) Debit(ctx context.Context, tx *gorm.DB, siteID uint, agentID uint64, amount decimal.Decimal, at time.Time) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}

	current, err := l.Balance(ctx, tx, siteID, agentID)
	if err != nil {
		return err
	}
	if current.LessThan(amount) {
		return ErrInsufficientBalance
	}

	stmt, err := l.ensureStatement(ctx, tx, siteID, agentID, at)
	if err != nil {
		return err
	}

	res := tx.WithContext(ctx).Model(&models.AgentBalance{}).
		Where("site_id = ? AND agent_id = ? AND balance = ?", siteID, agentID, current).
		Update("balance", current.Sub(amount))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	return tx.WithContext(ctx).Model(&models.BalanceStatement{}).
		Where("id = ?", stmt.ID).
		Updates(map[string]interface{}{
			"withdrawal_total": stmt.WithdrawalTotal.Add(amount),
			"closing_balance":  stmt.ClosingBalance.Sub(amount),
		}).Error
}

// Balance reads the current balance; missing rows read as zero.
func (l *Ledger) Balance(ctx context.Context, tx *gorm.DB, siteID uint, agentID uint64) (decimal.Decimal, error) {
	var row models.AgentBalance
	err := tx.WithContext(ctx).Where("site_id = ? AND agent_id = ?", siteID, agentID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return row.Balance, nil
}

// RolloverStatements opens the statement row for the period containing at for
// every agent that holds a balance row. Ledger mutations open statements
// lazily anyway, so this only pre-creates rows for idle agents whose opening
// balance would otherwise never be snapshotted for the period. Returns the
// number of statements created.
func (l *Ledger) RolloverStatements(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	var created int64
	const batchSize = 500

	var balances []models.AgentBalance
	err := db.WithContext(ctx).FindInBatches(&balances, batchSize, func(_ *gorm.DB, _ int) error {
		for _, b := range balances {
			stmt := models.BalanceStatement{
				SiteID:         b.SiteID,
				AgentID:        b.AgentID,
				Period:         models.StatementPeriod(at),
				OpeningBalance: b.Balance,
				ClosingBalance: b.Balance,
			}
			res := db.WithContext(ctx).Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "site_id"}, {Name: "agent_id"}, {Name: "period"}},
				DoNothing: true,
			}).Create(&stmt)
			if res.Error != nil {
				return res.Error
			}
			created += res.RowsAffected
		}
		return nil
	}).Error
	return created, err
}

func (l *Ledger) ensureBalanceRow(ctx context.Context, tx *gorm.DB, siteID uint, agentID uint64) error {
	row := models.AgentBalance{SiteID: siteID, AgentID: agentID, Balance: decimal.Zero}
	return tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "site_id"}, {Name: "agent_id"}},
		DoNothing: true,
	}).Create(&row).Error
}

// ensureStatement lazily opens the statement for the mutation's period, with
// opening and closing seeded from the current (pre-mutation) balance. Every
// later mutation moves closing together with a total column, so
// closing = opening + commission_total - withdrawal_total holds for every row.
func (l *Ledger) ensureStatement(ctx context.Context, tx *gorm.DB, siteID uint, agentID uint64, at time.Time) (*models.BalanceStatement, error) {
	period := models.StatementPeriod(at)

	var stmt models.BalanceStatement
	err := tx.WithContext(ctx).
		Where("site_id = ? AND agent_id = ? AND period = ?", siteID, agentID, period).
		First(&stmt).Error
	if err == nil {
		return &stmt, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	current, err := l.Balance(ctx, tx, siteID, agentID)
	if err != nil {
		return nil, err
	}

	stmt = models.BalanceStatement{
		SiteID:         siteID,
		AgentID:        agentID,
		Period:         period,
		OpeningBalance: current,
		ClosingBalance: current,
	}
	res := tx.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "site_id"}, {Name: "agent_id"}, {Name: "period"}},
		DoNothing: true,
	}).Create(&stmt)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost a create race; reload the winner.
		if err := tx.WithContext(ctx).
			Where("site_id = ? AND agent_id = ? AND period = ?", siteID, agentID, period).
			First(&stmt).Error; err != nil {
			return nil, err
		}
	}
	return &stmt, nil
}
