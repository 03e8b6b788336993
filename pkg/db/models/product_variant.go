package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ProductVariant is a purchasable SKU. The catalog owns the row; the counters
// are written exclusively by the inventory ledger.
type ProductVariant struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	ProductID          uuid.UUID `gorm:"column:product_id;type:uuid;not null;index"`
	SKU                string    `gorm:"column:sku;not null;uniqueIndex"`
	Name               string    `gorm:"column:name;not null"`
	UnitPriceMinor     int64     `gorm:"column:unit_price_minor;not null"`
	DiscountPriceMinor *int64    `gorm:"column:discount_price_minor"`
	// AvailableQty is nil when stock data is unknown; such variants cannot be sold.
	AvailableQty *int      `gorm:"column:available_qty"`
	ReservedQty  int       `gorm:"column:reserved_qty;not null;default:0"`
	Version      int64     `gorm:"column:version;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (ProductVariant) TableName() string { return "product_variants" }

func (v *ProductVariant) BeforeCreate(*gorm.DB) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	return nil
}

// Sellable returns available minus reserved, or 0 when availability is unknown.
func (v ProductVariant) Sellable() int {
	if v.AvailableQty == nil {
		return 0
	}
	if s := *v.AvailableQty - v.ReservedQty; s > 0 {
		return s
	}
	return 0
}

func (v ProductVariant) InStock() bool {
	return v.Sellable() > 0
}
