package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Withdrawal status values.
const (
	WithdrawalStatusRequested = "requested"
	WithdrawalStatusApproved  = "approved"
	WithdrawalStatusRejected  = "rejected"
)

// AgentBalance is the running balance per agent. It is mutated only through
// the ledger's guarded credit/debit operations.
type AgentBalance struct {
	ID        uint            `gorm:"primaryKey" json:"id"`
	SiteID    uint            `gorm:"not null;index:ux_agent_balances_site_agent,unique,priority:1" json:"site_id"`
	AgentID   uint64          `gorm:"not null;index:ux_agent_balances_site_agent,unique,priority:2" json:"agent_id"`
	Balance   decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"balance"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// BalanceStatement is a per-period snapshot. The invariant
// closing = opening + commission_total - withdrawal_total holds for every row.
type BalanceStatement struct {
	ID              uint            `gorm:"primaryKey" json:"id"`
	SiteID          uint            `gorm:"not null;index:ux_balance_statements_key,unique,priority:1" json:"site_id"`
	AgentID         uint64          `gorm:"not null;index:ux_balance_statements_key,unique,priority:2" json:"agent_id"`
	Period          string          `gorm:"type:char(7);not null;index:ux_balance_statements_key,unique,priority:3" json:"period"`
	OpeningBalance  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"opening_balance"`
	ClosingBalance  decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"closing_balance"`
	CommissionTotal decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"commission_total"`
	WithdrawalTotal decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"withdrawal_total"`
	CreatedAt       time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// StatementPeriod formats a timestamp as the statement period key (YYYY-MM).
func StatementPeriod(t time.Time) string {
	return t.UTC().Format("2006-01")
}

// Withdrawal is an agent payout request. Approval debits the balance and
// dispatches the payout through the configured backend.
type Withdrawal struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	SiteID      uint            `gorm:"not null;index" json:"site_id"`
	AgentID     uint64          `gorm:"not null;index" json:"agent_id"`
	Amount      decimal.Decimal `gorm:"type:decimal(14,2);not null" json:"amount"`
	Status      string          `gorm:"type:varchar(16);not null;default:'requested';index" json:"status"`
	PayoutRef   string          `gorm:"type:varchar(191)" json:"payout_ref,omitempty"`
	Note        string          `gorm:"type:varchar(255)" json:"note,omitempty"`
	RequestedAt time.Time       `gorm:"autoCreateTime" json:"requested_at"`
	DecidedAt   *time.Time      `gorm:"type:timestamp;default:null" json:"decided_at,omitempty"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
