package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// OrderRepository defines the interface for order-related database operations.
// State transitions are not here: they go through the order state machine's
// guarded updates only.
type OrderRepository interface {
	Create(order *models.Order) error
	GetByID(id uint) (*models.Order, error)
	GetByOrderNo(orderNo string) (*models.Order, error)
	GetItems(orderID uint) ([]models.OrderItem, error)
	ListByStatus(siteID uint, status string, offset, limit int) ([]models.Order, error)
	CountByStatus(siteID uint, status string) (int64, error)
}

// CommissionRepository defines the interface for commission queries and the
// background maturity promotions.
type CommissionRepository interface {
	GetByID(id uint) (*models.Commission, error)
	ListByOrder(orderID uint) ([]models.Commission, error)
	ListByAgent(siteID uint, agentID uint64, offset, limit int) ([]models.Commission, error)
	ReleaseDue(now time.Time) (int64, error)
	FindReady(limit int) ([]models.Commission, error)
	MarkPaid(tx *gorm.DB, ids []uint, settledAt time.Time) (int64, error)
}

// WithdrawalRepository defines the interface for withdrawal lifecycle
// operations. The balance debit itself belongs to the ledger.
type WithdrawalRepository interface {
	Create(w *models.Withdrawal) error
	GetByID(id uint) (*models.Withdrawal, error)
	ListByAgent(siteID uint, agentID uint64, offset, limit int) ([]models.Withdrawal, error)
	Decide(tx *gorm.DB, id uint, fromStatus, toStatus, note string) (bool, error)
	SetPayoutRef(id uint, payoutRef string) error
}

// StatementRepository defines the read surface for period statements.
type StatementRepository interface {
	ListByAgent(siteID uint, agentID uint64, limit int) ([]models.BalanceStatement, error)
	GetByPeriod(siteID uint, agentID uint64, period string) (*models.BalanceStatement, error)
}

// BalanceRepository defines the read surface for agent balances.
type BalanceRepository interface {
	Get(siteID uint, agentID uint64) (decimal.Decimal, error)
}

// Repositories struct holds all repository instances
type Repositories struct {
	Order      OrderRepository
	Commission CommissionRepository
	Withdrawal WithdrawalRepository
	Statement  StatementRepository
	Balance    BalanceRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Order:      NewOrderRepository(db),
		Commission: NewCommissionRepository(db),
		Withdrawal: NewWithdrawalRepository(db),
		Statement:  NewStatementRepository(db),
		Balance:    NewBalanceRepository(db),
	}
}
