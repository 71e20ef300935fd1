package models

import "time"

// IdempotencyClaim is the first-writer-wins record proving that an event
// identifier has begun processing. The unique insert is the atomicity point:
// a successful insert means "first and only processor", a conflict means
// "already claimed". Rows are immutable and removed only by the retention
// sweep.
type IdempotencyClaim struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	SiteID          uint      `gorm:"not null;index:ux_idempotency_claims_key,unique,priority:1" json:"site_id"`
	Source          string    `gorm:"type:varchar(20);not null;index:ux_idempotency_claims_key,unique,priority:2" json:"source"`
	ProviderEventID string    `gorm:"type:varchar(191);not null;index:ux_idempotency_claims_key,unique,priority:3" json:"provider_event_id"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
