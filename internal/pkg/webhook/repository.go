package webhook

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwaldhauser/PaySettle/app/models"
)

// Repository provides the pipeline's storage operations. It is bound to a DB
// handle, so constructing it from a transaction scopes every operation to that
// transaction; the claim insert and the business transition then share one
// atomic unit.
type Repository interface {
	ClaimEvent(claim *models.IdempotencyClaim) (bool, error)
	CreateEvent(event *models.WebhookEvent) error
	FinalizeEvent(id uint, status, errorMessage string, latencyMS int64) error
	GetEvent(id uint) (*models.WebhookEvent, error)
	GetEventBySourceID(source, providerEventID string) (*models.WebhookEvent, error)
	FindOrderByOrderNo(orderNo string) (*models.Order, error)
	ListEventsBefore(cutoff time.Time, limit int) ([]models.WebhookEvent, error)
	PurgeBefore(cutoff time.Time) (events int64, claims int64, err error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a pipeline repository backed by GORM. Pass a
// transaction handle to scope the operations to that transaction.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

// ClaimEvent is the atomic first-writer-wins insert. RowsAffected zero means
// the key already exists: another delivery claimed the event first.
func (r *gormRepository) ClaimEvent(claim *models.IdempotencyClaim) (bool, error) {
	res := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "site_id"},
			{Name: "source"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(claim)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// CreateEvent appends the audit row. A failed earlier attempt may have left a
// terminal row for the same event id, so the insert upserts back to pending
// for the retry.
func (r *gormRepository) CreateEvent(event *models.WebhookEvent) error {
	if err := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "source"},
			{Name: "provider_event_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"error_message",
			"payload",
		}),
	}).Create(event).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.Where("source = ? AND provider_event_id = ?", event.Source, event.ProviderEventID).
		First(event).Error
}

func (r *gormRepository) FinalizeEvent(id uint, status, errorMessage string, latencyMS int64) error {
	now := time.Now()
	return r.db.Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":        status,
		"error_message": errorMessage,
		"latency_ms":    latencyMS,
		"processed_at":  &now,
	}).Error
}

func (r *gormRepository) GetEvent(id uint) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	if err := r.db.First(&event, id).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) GetEventBySourceID(source, providerEventID string) (*models.WebhookEvent, error) {
	var event models.WebhookEvent
	err := r.db.Where("source = ? AND provider_event_id = ?", source, providerEventID).First(&event).Error
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (r *gormRepository) FindOrderByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	err := r.db.Where("order_no = ?", orderNo).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) ListEventsBefore(cutoff time.Time, limit int) ([]models.WebhookEvent, error) {
	var events []models.WebhookEvent
	q := r.db.Where("received_at < ?", cutoff).Order("received_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&events).Error
	return events, err
}

// PurgeBefore removes aged audit rows and claims. Settled business state is
// untouched; the sweep only bounds storage growth.
func (r *gormRepository) PurgeBefore(cutoff time.Time) (int64, int64, error) {
	events := r.db.Where("received_at < ?", cutoff).Delete(&models.WebhookEvent{})
	if events.Error != nil {
		return 0, 0, events.Error
	}
	claims := r.db.Where("created_at < ?", cutoff).Delete(&models.IdempotencyClaim{})
	if claims.Error != nil {
		return events.RowsAffected, 0, claims.Error
	}
	return events.RowsAffected, claims.RowsAffected, nil
}
