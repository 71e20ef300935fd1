package models

import "time"

// Product tracks sellable stock. StockReserved is incremented at checkout and
// either consumed on payment or handed back by the inventory reconciler.
type Product struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	SiteID        uint      `gorm:"not null;index:ux_products_site_sku,unique,priority:1" json:"site_id"`
	SKU           string    `gorm:"type:varchar(64);not null;index:ux_products_site_sku,unique,priority:2" json:"sku"`
	Name          string    `gorm:"type:varchar(255);not null" json:"name"`
	Stock         int64     `gorm:"not null;default:0" json:"stock"`
	StockReserved int64     `gorm:"not null;default:0" json:"stock_reserved"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
