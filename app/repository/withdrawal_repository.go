package repository

import (
	"time"

	"gorm.io/gorm"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// withdrawalRepository implements the WithdrawalRepository interface
type withdrawalRepository struct {
	db *gorm.DB
}

// NewWithdrawalRepository creates a new withdrawal repository instance
func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepository{db: db}
}

func (r *withdrawalRepository) Create(w *models.Withdrawal) error {
	return r.db.Create(w).Error
}

func (r *withdrawalRepository) GetByID(id uint) (*models.Withdrawal, error) {
	var w models.Withdrawal
	if err := r.db.First(&w, id).Error; err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *withdrawalRepository) ListByAgent(siteID uint, agentID uint64, offset, limit int) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	err := r.db.Where("site_id = ? AND agent_id = ?", siteID, agentID).
		Order("requested_at DESC").
		Offset(offset).Limit(limit).
		Find(&withdrawals).Error
	return withdrawals, err
}

// Decide moves a withdrawal between lifecycle states with a conditional
// update; decided=false means another decision won the race.
func (r *withdrawalRepository) Decide(tx *gorm.DB, id uint, fromStatus, toStatus, note string) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":     toStatus,
		"decided_at": &now,
	}
	if note != "" {
		updates["note"] = note
	}
	res := tx.Model(&models.Withdrawal{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *withdrawalRepository) SetPayoutRef(id uint, payoutRef string) error {
	return r.db.Model(&models.Withdrawal{}).
		Where("id = ?", id).
		Update("payout_ref", payoutRef).Error
}
