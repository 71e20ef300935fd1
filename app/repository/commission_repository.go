package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// commissionRepository implements the CommissionRepository interface
type commissionRepository struct {
	db *gorm.DB
}

// NewCommissionRepository creates a new commission repository instance
func NewCommissionRepository(db *gorm.DB) CommissionRepository {
	return &commissionRepository{db: db}
}

func (r *commissionRepository) GetByID(id uint) (*models.Commission, error) {
	var c models.Commission
	if err := r.db.First(&c, id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *commissionRepository) ListByOrder(orderID uint) ([]models.Commission, error) {
	var commissions []models.Commission
	err := r.db.Where("order_id = ?", orderID).Order("level ASC").Find(&commissions).Error
	return commissions, err
}

func (r *commissionRepository) ListByAgent(siteID uint, agentID uint64, offset, limit int) ([]models.Commission, error) {
	var commissions []models.Commission
	err := r.db.Where("site_id = ? AND agent_id = ?", siteID, agentID).
		Order("created_at DESC").
		Offset(offset).Limit(limit).
		Find(&commissions).Error
	return commissions, err
}

// ReleaseDue promotes matured hold commissions to ready. Runs as one bulk
// conditional update, so concurrent sweeps cannot double-promote.
func (r *commissionRepository) ReleaseDue(now time.Time) (int64, error) {
	res := r.db.Model(&models.Commission{}).
		Where("status = ? AND release_at IS NOT NULL AND release_at <= ?", models.CommissionStatusHold, now).
		Update("status", models.CommissionStatusReady)
	return res.RowsAffected, res.Error
}

// FindReady returns a settlement batch of ready commissions, oldest first.
func (r *commissionRepository) FindReady(limit int) ([]models.Commission, error) {
	var commissions []models.Commission
	q := r.db.Where("status = ?", models.CommissionStatusReady).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&commissions).Error
	return commissions, err
}

// MarkPaid flips a settlement batch to paid inside the caller's transaction.
// The status filter keeps a concurrently settled commission from being paid
// twice.
func (r *commissionRepository) MarkPaid(tx *gorm.DB, ids []uint, settledAt time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&models.Commission{}).
		Where("id IN ? AND status = ?", ids, models.CommissionStatusReady).
		Updates(map[string]interface{}{
			"status":     models.CommissionStatusPaid,
			"settled_at": settledAt,
		})
	return res.RowsAffected, res.Error
}
