package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order status values. Every non-pending status is terminal: once an order
// leaves pending it can never transition again.
const (
	OrderStatusPending   = "pending"
	OrderStatusPaid      = "paid"
	OrderStatusFailed    = "failed"
	OrderStatusCancelled = "cancelled"
	OrderStatusExpired   = "expired"
)

// Order is created at checkout by the storefront and mutated only by the
// settlement pipeline's state machine afterwards.
type Order struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	OrderNo           string          `gorm:"type:char(36);uniqueIndex;not null" json:"order_no"`
	SiteID            uint            `gorm:"not null;index;index:ux_orders_site_idem_key,unique,priority:1" json:"site_id"`
	AgentID           uint64          `gorm:"not null;index" json:"agent_id"`
	Status            string          `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	Subtotal          decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"subtotal"`
	TaxTotal          decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0" json:"tax_total"`
	GrandTotal        decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"grand_total"`
	IdempotencyKey    string          `gorm:"type:varchar(64);not null;index:ux_orders_site_idem_key,unique,priority:2" json:"idempotency_key"`
	SettlementRef     string          `gorm:"type:varchar(191);index" json:"settlement_ref"`
	InventoryReleased bool            `gorm:"not null;default:false" json:"inventory_released"`
	CancelReason      string          `gorm:"type:varchar(255)" json:"cancel_reason,omitempty"`
	ExpiresAt         *time.Time      `gorm:"type:timestamp;default:null" json:"expires_at,omitempty"`
	PaidAt            *time.Time      `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	ClosedAt          *time.Time      `gorm:"type:timestamp;default:null" json:"closed_at,omitempty"`
	Items             []OrderItem     `gorm:"foreignKey:OrderID" json:"items,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// OrderItem is a purchased line with the reserved stock quantity that the
// inventory reconciler releases on failure paths.
type OrderItem struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	OrderID   uint            `gorm:"not null;index" json:"order_id"`
	ProductID uint            `gorm:"not null;index" json:"product_id"`
	Quantity  int64           `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// IsTerminalOrderStatus reports whether a status permits no further
// transitions.
func IsTerminalOrderStatus(status string) bool {
	switch status {
	case OrderStatusPaid, OrderStatusFailed, OrderStatusCancelled, OrderStatusExpired:
		return true
	default:
		return false
	}
}
