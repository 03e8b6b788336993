package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/enums"
	"github.com/stitchline/storefront-backend/pkg/types"
)

// Order is the checkout aggregate. Status columns change only through the
// order state machine; price columns are a snapshot and never recomputed.
type Order struct {
	ID          uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrderNumber string            `gorm:"column:order_number;not null;uniqueIndex"`
	OrderType   enums.OrderType   `gorm:"column:order_type;type:text;not null;default:'regular'"`
	Status      enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending_payment';index"`

	CustomerUserID *uuid.UUID `gorm:"column:customer_user_id;type:uuid;index"`
	CustomerName   string     `gorm:"column:customer_name;not null"`
	CustomerEmail  string     `gorm:"column:customer_email;not null"`
	CustomerPhone  *string    `gorm:"column:customer_phone"`

	ShippingLocation string                 `gorm:"column:shipping_location;not null"`
	ShippingAddress  *types.ShippingAddress `gorm:"column:shipping_address;type:jsonb;serializer:json"`

	Currency                   enums.Currency `gorm:"column:currency;type:text;not null"`
	SubtotalMinor              int64          `gorm:"column:subtotal_minor;not null"`
	DiscountMinor              int64          `gorm:"column:discount_minor;not null;default:0"`
	ShippingFeeMinor           int64          `gorm:"column:shipping_fee_minor;not null"`
	TaxMinor                   int64          `gorm:"column:tax_minor;not null"`
	TotalMinor                 int64          `gorm:"column:total_minor;not null"`
	FreeShippingThresholdMinor int64          `gorm:"column:free_shipping_threshold_minor;not null;default:0"`
	TaxRatePercent             string         `gorm:"column:tax_rate_percent;not null;default:'0'"`

	Measurements types.Measurements `gorm:"column:measurements;type:jsonb;serializer:json"`
	Notes        *string            `gorm:"column:notes"`

	PaymentProvider   *string `gorm:"column:payment_provider"`
	PaymentReference  *string `gorm:"column:payment_reference;uniqueIndex"`
	PaymentSessionURL *string `gorm:"column:payment_session_url"`

	ExpiresAt    time.Time  `gorm:"column:expires_at;not null;index"`
	PaidAt       *time.Time `gorm:"column:paid_at"`
	ProcessingAt *time.Time `gorm:"column:processing_at"`
	ShippedAt    *time.Time `gorm:"column:shipped_at"`
	CancelledAt  *time.Time `gorm:"column:cancelled_at"`
	ExpiredAt    *time.Time `gorm:"column:expired_at"`
	CancelReason *string    `gorm:"column:cancel_reason"`

	Lines       []OrderLine  `gorm:"foreignKey:OrderID"`
	Reservation *Reservation `gorm:"foreignKey:OrderID"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(*gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}

// OrderLine is the immutable per-variant snapshot taken at checkout.
type OrderLine struct {
	ID                      uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OrderID                 uuid.UUID `gorm:"column:order_id;type:uuid;not null;index"`
	VariantID               uuid.UUID `gorm:"column:variant_id;type:uuid;not null"`
	ProductID               uuid.UUID `gorm:"column:product_id;type:uuid;not null"`
	SKU                     string    `gorm:"column:sku;not null"`
	Name                    string    `gorm:"column:name;not null"`
	UnitPriceMinor          int64     `gorm:"column:unit_price_minor;not null"`
	EffectiveUnitPriceMinor int64     `gorm:"column:effective_unit_price_minor;not null"`
	DiscountPercent         int       `gorm:"column:discount_percent;not null;default:0"`
	Quantity                int       `gorm:"column:quantity;not null"`
	LineTotalMinor          int64     `gorm:"column:line_total_minor;not null"`
	CreatedAt               time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (OrderLine) TableName() string { return "order_lines" }

func (l *OrderLine) BeforeCreate(*gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// OrderStatusEvent is the append-only audit trail of order transitions.
type OrderStatusEvent struct {
	ID         uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	OrderID    uuid.UUID          `gorm:"column:order_id;type:uuid;not null;index"`
	FromStatus *enums.OrderStatus `gorm:"column:from_status;type:text"`
	ToStatus   enums.OrderStatus  `gorm:"column:to_status;type:text;not null"`
	Event      string             `gorm:"column:event;not null"`
	Reason     *string            `gorm:"column:reason"`
	CreatedAt  time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (OrderStatusEvent) TableName() string { return "order_status_events" }

func (e *OrderStatusEvent) BeforeCreate(*gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}
