package repository

import (
	"sync"

	"gorm.io/gorm"
)

// Factory manages repository instances and ensures they are singletons
type Factory struct {
	db    *gorm.DB
	repos *Repositories
	once  sync.Once
}

// NewFactory creates a new repository factory
func NewFactory(db *gorm.DB) *Factory {
	return &Factory{
		db: db,
	}
}

// GetRepositories returns a singleton instance of all repositories
func (f *Factory) GetRepositories() *Repositories {
	f.once.Do(func() {
		f.repos = NewRepositories(f.db)
	})
	return f.repos
}

// GetOrderRepository returns the order repository instance
func (f *Factory) GetOrderRepository() OrderRepository {
	return f.GetRepositories().Order
}

// GetCommissionRepository returns the commission repository instance
func (f *Factory) GetCommissionRepository() CommissionRepository {
	return f.GetRepositories().Commission
}

// GetWithdrawalRepository returns the withdrawal repository instance
func (f *Factory) GetWithdrawalRepository() WithdrawalRepository {
	return f.GetRepositories().Withdrawal
}

// GetStatementRepository returns the statement repository instance
func (f *Factory) GetStatementRepository() StatementRepository {
	return f.GetRepositories().Statement
}

// GetBalanceRepository returns the balance repository instance
func (f *Factory) GetBalanceRepository() BalanceRepository {
	return f.GetRepositories().Balance
}

// Global factory instance
var globalFactory *Factory
var factoryOnce sync.Once

// InitializeFactory initializes the global repository factory
func InitializeFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewFactory(db)
	})
}

// GetGlobalFactory returns the global repository factory instance
func GetGlobalFactory() *Factory {
	if globalFactory == nil {
		panic("Repository factory not initialized. Call InitializeFactory first.")
	}
	return globalFactory
}

// GetGlobalRepositories returns the global repositories instance
func GetGlobalRepositories() *Repositories {
	return GetGlobalFactory().GetRepositories()
}
