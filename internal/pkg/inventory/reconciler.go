package inventory

import (
	"context"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// Reconciler hands reserved stock back when an order fails, is cancelled, or
// expires. The per-order release flag makes the operation single-shot: two
// failure notifications for the same order release stock exactly once.
type Reconciler struct{}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// Release returns reserved stock for the order's items. The conditional
// update on inventory_released is the gate; a second call reports
// released=false and touches nothing.
func (r *Reconciler) Release(ctx context.Context, tx *gorm.DB, orderID uint) (bool, error) {
	res := tx.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND inventory_released = ?", orderID, false).
		Update("inventory_released", true)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		log.Infof("[Inventory] order %d already released, skipping", orderID)
		return false, nil
	}

	var items []models.OrderItem
	if err := tx.WithContext(ctx).Where("order_id = ?", orderID).Find(&items).Error; err != nil {
		return false, err
	}

	for _, item := range items {
		res := tx.WithContext(ctx).Model(&models.Product{}).
			Where("id = ? AND stock_reserved >= ?", item.ProductID, item.Quantity).
			Updates(map[string]interface{}{
				"stock_reserved": gorm.Expr("stock_reserved - ?", item.Quantity),
				"stock":          gorm.Expr("stock + ?", item.Quantity),
			})
		if res.Error != nil {
			return false, res.Error
		}
		if res.RowsAffected == 0 {
			// Reservation already drained elsewhere; releasing below zero
			// would corrupt stock, so we log and leave the row alone.
			log.Warnf("[Inventory] product %d has no reservation for order %d (qty %d)", item.ProductID, orderID, item.Quantity)
		}
	}
	return true, nil
}
