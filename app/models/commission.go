package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Commission maturity states. New commissions are created on hold; the release
// worker promotes them to ready after the hold window, batch settlement marks
// them paid and credits the agent balance.
const (
	CommissionStatusHold  = "hold"
	CommissionStatusReady = "ready"
	CommissionStatusPaid  = "paid"
)

// Commission is one referral payout entitlement for a paid order. Amount is
// computed once from the order subtotal and never recomputed; the unique
// (order_id, level) index is the final backstop against double creation.
type Commission struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	SiteID    uint            `gorm:"not null;index" json:"site_id"`
	OrderID   uint            `gorm:"not null;index:ux_commissions_order_level,unique,priority:1" json:"order_id"`
	AgentID   uint64          `gorm:"not null;index" json:"agent_id"`
	Level     int             `gorm:"not null;index:ux_commissions_order_level,unique,priority:2" json:"level"`
	Rate      decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
	Amount    decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Status    string          `gorm:"type:varchar(16);not null;default:'hold';index" json:"status"`
	ReleaseAt *time.Time      `gorm:"type:timestamp;default:null;index" json:"release_at,omitempty"`
	SettledAt *time.Time      `gorm:"type:timestamp;default:null" json:"settled_at,omitempty"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// CommissionPlan is a versioned per-site rate table. The active row for a
// (site, level) pair at a point in time decides the rate applied when an order
// settles.
type CommissionPlan struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	SiteID         uint            `gorm:"not null;index:idx_commission_plans_site_level,priority:1" json:"site_id"`
	Level          int             `gorm:"not null;index:idx_commission_plans_site_level,priority:2" json:"level"`
	Rate           decimal.Decimal `gorm:"type:decimal(6,4);not null" json:"rate"`
	EffectiveFrom  time.Time       `gorm:"not null;index" json:"effective_from"`
	EffectiveUntil *time.Time      `gorm:"type:timestamp;default:null" json:"effective_until,omitempty"`
	// No default tag: gorm drops zero-valued fields that carry one, which
	// would silently store a deactivated plan as active.
	IsActive       bool            `gorm:"not null;index" json:"is_active"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
