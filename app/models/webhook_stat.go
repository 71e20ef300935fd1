package models

import "time"

// WebhookStat holds per-source daily delivery counters, flushed from Redis by
// the counter worker.
type WebhookStat struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Source    string    `gorm:"type:varchar(20);not null;index:ux_webhook_stats_source_date,unique,priority:1" json:"source"`
	StatDate  string    `gorm:"type:char(10);not null;index:ux_webhook_stats_source_date,unique,priority:2" json:"stat_date"`
	Received  int64     `gorm:"not null;default:0" json:"received"`
	Processed int64     `gorm:"not null;default:0" json:"processed"`
	Failed    int64     `gorm:"not null;default:0" json:"failed"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
