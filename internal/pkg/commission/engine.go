package commission

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// DefaultMaxDepth is how many referral levels earn a share of an order.
const DefaultMaxDepth = 2

// DefaultHoldDays is the maturation window before a commission becomes
// eligible for settlement.
const DefaultHoldDays = 7

// ChainResolver yields the ordered ancestor agent ids (L1 first) for a
// purchasing agent. Resolution is owned by the referral domain; the engine
// only consumes it. Implementations must read through the passed handle so
// resolution inside a settlement transaction stays on that transaction.
type ChainResolver interface {
	ResolveChain(ctx context.Context, tx *gorm.DB, agentID uint64, maxDepth int) ([]uint64, error)
}

// PlanLookup resolves the active commission rate for a site and level at a
// point in time, reading through the caller's handle.
type PlanLookup interface {
	ActiveRate(ctx context.Context, tx *gorm.DB, siteID uint, level int, effectiveAt time.Time) (decimal.Decimal, error)
}

// ErrNoActivePlan is returned by PlanLookup implementations when no rate row
// covers the requested level.
var ErrNoActivePlan = errors.New("no active commission plan for level")

// Engine computes multi-level referral commissions when an order settles as
// paid. Amounts derive from the order subtotal (tax and fees excluded) and are
// written once in hold status.
type Engine struct {
	chains   ChainResolver
	plans    PlanLookup
	maxDepth int
	holdTime time.Duration
}

func NewEngine(chains ChainResolver, plans PlanLookup, maxDepth, holdDays int) *Engine {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if holdDays <= 0 {
		holdDays = DefaultHoldDays
	}
	return &Engine{
		chains:   chains,
		plans:    plans,
		maxDepth: maxDepth,
		holdTime: time.Duration(holdDays) * 24 * time.Hour,
	}
}

// CreateForOrder writes one commission per qualifying ancestor level. It runs
// inside the order's settlement transaction after the pending→paid guard, so
// a re-run for the same order never reaches this point; the unique
// (order_id, level) index is the final backstop and makes the insert a no-op
// if it somehow does.
func (e *Engine) CreateForOrder(ctx context.Context, tx *gorm.DB, order *models.Order) ([]models.Commission, error) {
	chain, err := e.chains.ResolveChain(ctx, tx, order.AgentID, e.maxDepth)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, nil
	}

	effectiveAt := time.Now().UTC()
	if order.PaidAt != nil {
		effectiveAt = order.PaidAt.UTC()
	}
	releaseAt := effectiveAt.Add(e.holdTime)

	var created []models.Commission
	for i, agentID := range chain {
		if i >= e.maxDepth {
			break
		}
		level := i + 1

		rate, err := e.plans.ActiveRate(ctx, tx, order.SiteID, level, effectiveAt)
		if err != nil {
			if errors.Is(err, ErrNoActivePlan) {
				log.Infof("[Commission] site %d has no L%d plan, skipping agent %d", order.SiteID, level, agentID)
				continue
			}
			return nil, err
		}

		amount := order.Subtotal.Mul(rate).Round(2)
		if amount.LessThanOrEqual(decimal.Zero) {
			continue
		}

		c := models.Commission{
			SiteID:    order.SiteID,
			OrderID:   order.ID,
			AgentID:   agentID,
			Level:     level,
			Rate:      rate,
			Amount:    amount,
			Status:    models.CommissionStatusHold,
			ReleaseAt: &releaseAt,
		}
		res := tx.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "order_id"}, {Name: "level"}},
			DoNothing: true,
		}).Create(&c)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			log.Warnf("[Commission] order %d level %d already has a commission, skipping", order.ID, level)
			continue
		}
		created = append(created, c)
	}
	return created, nil
}
