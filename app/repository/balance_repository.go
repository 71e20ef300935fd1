package repository

import (
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// statementRepository implements the StatementRepository interface
type statementRepository struct {
	db *gorm.DB
}

// NewStatementRepository creates a new statement repository instance
func NewStatementRepository(db *gorm.DB) StatementRepository {
	return &statementRepository{db: db}
}

func (r *statementRepository) ListByAgent(siteID uint, agentID uint64, limit int) ([]models.BalanceStatement, error) {
	var statements []models.BalanceStatement
	q := r.db.Where("site_id = ? AND agent_id = ?", siteID, agentID).Order("period DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&statements).Error
	return statements, err
}

func (r *statementRepository) GetByPeriod(siteID uint, agentID uint64, period string) (*models.BalanceStatement, error) {
	var stmt models.BalanceStatement
	err := r.db.Where("site_id = ? AND agent_id = ? AND period = ?", siteID, agentID, period).First(&stmt).Error
	if err != nil {
		return nil, err
	}
	return &stmt, nil
}

// balanceRepository implements the BalanceRepository interface
type balanceRepository struct {
	db *gorm.DB
}

// NewBalanceRepository creates a new balance repository instance
func NewBalanceRepository(db *gorm.DB) BalanceRepository {
	return &balanceRepository{db: db}
}

// Get returns the current balance; agents without a row read as zero.
func (r *balanceRepository) Get(siteID uint, agentID uint64) (decimal.Decimal, error) {
	var row models.AgentBalance
	err := r.db.Where("site_id = ? AND agent_id = ?", siteID, agentID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return row.Balance, nil
}
