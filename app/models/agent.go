package models

import "time"

const (
	AgentStatusActive   = "active"
	AgentStatusDisabled = "disabled"
)

// Agent is a referral-network member. ParentID links to the direct referrer
// and forms the chain the commission engine walks upward.
type Agent struct {
	ID        uint64    `gorm:"primaryKey" json:"id"`
	SiteID    uint      `gorm:"not null;index" json:"site_id"`
	ParentID  uint64    `gorm:"not null;default:0;index" json:"parent_id"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Status    string    `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
