package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/enums"
)

// Reservation binds an order to its inventory holds.
type Reservation struct {
	ID         uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID               `gorm:"column:order_id;type:uuid;not null;uniqueIndex"`
	Status     enums.ReservationStatus `gorm:"column:status;type:text;not null;default:'held'"`
	Items      []ReservationItem       `gorm:"foreignKey:ReservationID"`
	ResolvedAt *time.Time              `gorm:"column:resolved_at"`
	CreatedAt  time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (Reservation) TableName() string { return "reservations" }

func (r *Reservation) BeforeCreate(*gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

type ReservationItem struct {
	ReservationID uuid.UUID `gorm:"column:reservation_id;type:uuid;primaryKey"`
	VariantID     uuid.UUID `gorm:"column:variant_id;type:uuid;primaryKey"`
	Quantity      int       `gorm:"column:quantity;not null"`
}

func (ReservationItem) TableName() string { return "reservation_items" }
