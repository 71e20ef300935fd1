package repository

import (
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create creates a new order with its items
func (r *orderRepository) Create(order *models.Order) error {
	return r.db.Create(order).Error
}

// GetByID retrieves an order by its ID
func (r *orderRepository) GetByID(id uint) (*models.Order, error) {
	var order models.Order
	err := r.db.First(&order, id).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetByOrderNo retrieves an order by its public order number
func (r *orderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetItems retrieves the line items of an order
func (r *orderRepository) GetItems(orderID uint) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := r.db.Where("order_id = ?", orderID).Find(&items).Error
	return items, err
}

// ListByStatus lists orders of one site filtered by status
func (r *orderRepository) ListByStatus(siteID uint, status string, offset, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := r.db.Where("site_id = ? AND status = ?", siteID, status).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&orders).Error
	return orders, err
}

// CountByStatus counts orders of one site in a given status
func (r *orderRepository) CountByStatus(siteID uint, status string) (int64, error) {
	var count int64
	err := r.db.Model(&models.Order{}).
		Where("site_id = ? AND status = ?", siteID, status).
		Count(&count).Error
	return count, err
}
