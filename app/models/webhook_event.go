package models

import "time"

// Webhook sources. Stripe delivers card-payment settlement events, Fireblocks
// delivers custody transfer status updates.
const (
	WebhookSourceStripe     = "stripe"
	WebhookSourceFireblocks = "fireblocks"
)

// Webhook event processing status. The row is written once on receipt and
// mutated exactly once to a terminal status; it carries no business effect.
const (
	WebhookStatusPending   = "pending"
	WebhookStatusProcessed = "processed"
	WebhookStatusFailed    = "failed"
	WebhookStatusDuplicate = "duplicate"
)

// WebhookEvent is the durable audit record of every verified inbound delivery,
// kept independent of whether the delivery produced a business effect.
type WebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	SiteID          uint       `gorm:"not null;index" json:"site_id"`
	Source          string     `gorm:"type:varchar(20);not null;index:ux_webhook_events_source_event,unique,priority:1;index" json:"source"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_webhook_events_source_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	OrderRef        string     `gorm:"type:varchar(191);index" json:"order_ref"`
	Payload         string     `gorm:"type:longtext;not null" json:"payload"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	ErrorMessage    string     `gorm:"type:text" json:"error_message,omitempty"`
	LatencyMS       int64      `gorm:"not null;default:0" json:"latency_ms"`
	ReceivedAt      time.Time  `gorm:"autoCreateTime;index" json:"received_at"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
}
