package orderstate

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/internal/pkg/commission"
	"github.com/mwaldhauser/PaySettle/internal/pkg/inventory"
)

// ErrTransitionGuard means the stored order status was not pending when a
// settlement effect was applied: a stale or duplicate delivery. Callers treat
// it as a logged no-op.
var ErrTransitionGuard = errors.New("order is not pending")

// Machine applies the one-directional order transitions. Every transition is a
// conditional update guarded on the stored status being exactly pending; the
// guard is the second idempotency layer behind the claim ledger and doubles as
// the replay defense when a provider redelivers with a fresh event id.
type Machine struct {
	commissions *commission.Engine
	inventory   *inventory.Reconciler
}

func NewMachine(engine *commission.Engine, reconciler *inventory.Reconciler) *Machine {
	return &Machine{commissions: engine, inventory: reconciler}
}

// MarkPaid moves pending→paid and computes commissions synchronously inside
// the same transaction, so a partially settled order is never observable.
func (m *Machine) MarkPaid(ctx context.Context, tx *gorm.DB, order *models.Order, settlementRef string, paidAt time.Time) error {
	if paidAt.IsZero() {
		paidAt = time.Now().UTC()
	}
	updates := map[string]interface{}{
		"status":  models.OrderStatusPaid,
		"paid_at": paidAt,
	}
	if settlementRef != "" {
		updates["settlement_ref"] = settlementRef
	}
	if err := m.transition(ctx, tx, order, updates); err != nil {
		return err
	}
	order.Status = models.OrderStatusPaid
	order.PaidAt = &paidAt

	_, err := m.commissions.CreateForOrder(ctx, tx, order)
	return err
}

// MarkFailed moves pending→failed and releases reserved inventory.
func (m *Machine) MarkFailed(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return m.close(ctx, tx, order, models.OrderStatusFailed, "")
}

// MarkCancelled moves pending→cancelled with a reason and releases inventory.
func (m *Machine) MarkCancelled(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	return m.close(ctx, tx, order, models.OrderStatusCancelled, reason)
}

// MarkExpired moves pending→expired and releases inventory.
func (m *Machine) MarkExpired(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	return m.close(ctx, tx, order, models.OrderStatusExpired, "")
}

func (m *Machine) close(ctx context.Context, tx *gorm.DB, order *models.Order, status, reason string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":    status,
		"closed_at": now,
	}
	if reason != "" {
		updates["cancel_reason"] = reason
	}
	if err := m.transition(ctx, tx, order, updates); err != nil {
		return err
	}
	order.Status = status
	order.ClosedAt = &now

	_, err := m.inventory.Release(ctx, tx, order.ID)
	return err
}

func (m *Machine) transition(ctx context.Context, tx *gorm.DB, order *models.Order, updates map[string]interface{}) error {
	res := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status = ?", order.ID, models.OrderStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		log.Infof("[OrderState] order %d (%s) is already terminal, transition skipped", order.ID, order.OrderNo)
		return ErrTransitionGuard
	}
	return nil
}
