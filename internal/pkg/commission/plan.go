package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
	"github.com/mwaldhauser/PaySettle/internal/pkg/cache"
)

// GormPlanLookup reads the versioned commission_plans table. The newest active
// row whose effective window covers the settlement time wins. Queries run on
// the handle the caller passes in, so lookups inside a settlement transaction
// stay on that transaction's connection.
type GormPlanLookup struct{}

func NewGormPlanLookup() *GormPlanLookup {
	return &GormPlanLookup{}
}

func (l *GormPlanLookup) ActiveRate(ctx context.Context, tx *gorm.DB, siteID uint, level int, effectiveAt time.Time) (decimal.Decimal, error) {
	var plan models.CommissionPlan
	err := tx.WithContext(ctx).
		Where("site_id = ? AND level = ? AND is_active = ? AND effective_from <= ?", siteID, level, true, effectiveAt).
		Where("effective_until IS NULL OR effective_until > ?", effectiveAt).
		Order("effective_from DESC").
		First(&plan).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, ErrNoActivePlan
		}
		return decimal.Zero, err
	}
	return plan.Rate, nil
}

// CachedPlanLookup fronts another lookup with a short-lived Redis cache. Rate
// rows change rarely but are read on every settlement.
type CachedPlanLookup struct {
	next PlanLookup
	ttl  time.Duration
}

func NewCachedPlanLookup(next PlanLookup, ttl time.Duration) *CachedPlanLookup {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedPlanLookup{next: next, ttl: ttl}
}

// planCacheKey buckets by effective day so a replayed settlement with an
// older paid-at never reads a rate cached for a different plan window.
func planCacheKey(siteID uint, level int, effectiveAt time.Time) string {
	return fmt.Sprintf("commission:plan:%d:%d:%s", siteID, level, effectiveAt.UTC().Format("2006-01-02"))
}

func (l *CachedPlanLookup) ActiveRate(ctx context.Context, tx *gorm.DB, siteID uint, level int, effectiveAt time.Time) (decimal.Decimal, error) {
	key := planCacheKey(siteID, level, effectiveAt)
	if raw, err := cache.Get(key); err == nil {
		if rate, parseErr := decimal.NewFromString(raw); parseErr == nil {
			return rate, nil
		}
	}

	rate, err := l.next.ActiveRate(ctx, tx, siteID, level, effectiveAt)
	if err != nil {
		return decimal.Zero, err
	}
	// Best-effort: a cache write failure must not block settlement.
	_ = cache.Set(key, rate.String(), l.ttl)
	return rate, nil
}

// GormChainResolver walks the agents table upward through parent links. It is
// the default resolver; deployments with an external referral service swap in
// their own.
type GormChainResolver struct{}

func NewGormChainResolver() *GormChainResolver {
	return &GormChainResolver{}
}

// maxChainWalk bounds the upward walk independently of maxDepth, so skipped
// disabled ancestors and malformed parent cycles cannot spin the resolver.
const maxChainWalk = 16

// ResolveChain collects up to maxDepth active ancestors, nearest first.
// Disabled ancestors are skipped without consuming a level; the walk continues
// through them to the next active parent.
func (r *GormChainResolver) ResolveChain(ctx context.Context, tx *gorm.DB, agentID uint64, maxDepth int) ([]uint64, error) {
	chain := make([]uint64, 0, maxDepth)
	current := agentID
	for steps := 0; len(chain) < maxDepth && steps < maxChainWalk; steps++ {
		var agent models.Agent
		err := tx.WithContext(ctx).First(&agent, current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, err
		}
		if agent.ParentID == 0 {
			break
		}
		var parent models.Agent
		err = tx.WithContext(ctx).First(&parent, agent.ParentID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				break
			}
			return nil, err
		}
		if parent.Status == models.AgentStatusActive {
			chain = append(chain, parent.ID)
		}
		current = parent.ID
	}
	return chain, nil
}
