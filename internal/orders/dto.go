package orders

import (
	"time"

	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/internal/pricing"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	"github.com/stitchline/storefront-backend/pkg/types"
)

// Money carries an amount in minor units next to its display form.
type Money struct {
	Minor   int64  `json:"minor"`
	Amount  string `json:"amount"`
	Display string `json:"display"`
}

func newMoney(minor int64, currency enums.Currency) Money {
	return Money{Minor: minor, Amount: pricing.MajorString(minor), Display: pricing.Format(minor, currency)}
}

// OrderLineView is the customer-facing projection of an order line.
type OrderLineView struct {
	VariantID       uuid.UUID `json:"variant_id"`
	SKU             string    `json:"sku"`
	Name            string    `json:"name"`
	Quantity        int       `json:"quantity"`
	UnitPrice       Money     `json:"unit_price"`
	EffectivePrice  Money     `json:"effective_unit_price"`
	DiscountPercent int       `json:"discount_percent,omitempty"`
	LineTotal       Money     `json:"line_total"`
}

// OrderView is the read-only status projection served by GET /orders/{orderNumber}.
type OrderView struct {
	OrderNumber           string                 `json:"order_number"`
	OrderType             enums.OrderType        `json:"order_type"`
	Status                enums.OrderStatus      `json:"status"`
	Currency              enums.Currency         `json:"currency"`
	Lines                 []OrderLineView        `json:"lines"`
	Subtotal              Money                  `json:"subtotal"`
	Discount              Money                  `json:"discount"`
	ShippingLocation      string                 `json:"shipping_location"`
	ShippingFee           Money                  `json:"shipping_fee"`
	FreeShippingThreshold *Money                 `json:"free_shipping_threshold,omitempty"`
	TaxRatePercent        string                 `json:"tax_rate_percent"`
	Tax                   Money                  `json:"tax"`
	Total                 Money                  `json:"total"`
	Measurements          types.Measurements     `json:"measurements,omitempty"`
	PaymentReference      *string                `json:"payment_reference,omitempty"`
	PaymentSessionURL     *string                `json:"payment_session_url,omitempty"`
	ExpiresAt             *time.Time             `json:"expires_at,omitempty"`
	PaidAt                *time.Time             `json:"paid_at,omitempty"`
	ShippedAt             *time.Time             `json:"shipped_at,omitempty"`
	CancelledAt           *time.Time             `json:"cancelled_at,omitempty"`
	CancelReason          *string                `json:"cancel_reason,omitempty"`
	ExpiredAt             *time.Time             `json:"expired_at,omitempty"`
	ShippingAddress       *types.ShippingAddress `json:"shipping_address,omitempty"`
	CreatedAt             time.Time              `json:"created_at"`
}

// NewOrderView projects an order. The session url and expiry are only shown
// while the customer can still pay.
func NewOrderView(order *models.Order) OrderView {
	view := OrderView{
		OrderNumber:      order.OrderNumber,
		OrderType:        order.OrderType,
		Status:           order.Status,
		Currency:         order.Currency,
		Lines:            make([]OrderLineView, 0, len(order.Lines)),
		Subtotal:         newMoney(order.SubtotalMinor, order.Currency),
		Discount:         newMoney(order.DiscountMinor, order.Currency),
		ShippingLocation: order.ShippingLocation,
		ShippingFee:      newMoney(order.ShippingFeeMinor, order.Currency),
		TaxRatePercent:   order.TaxRatePercent,
		Tax:              newMoney(order.TaxMinor, order.Currency),
		Total:            newMoney(order.TotalMinor, order.Currency),
		Measurements:     order.Measurements,
		PaymentReference: order.PaymentReference,
		PaidAt:           order.PaidAt,
		ShippedAt:        order.ShippedAt,
		CancelledAt:      order.CancelledAt,
		CancelReason:     order.CancelReason,
		ExpiredAt:        order.ExpiredAt,
		ShippingAddress:  order.ShippingAddress,
		CreatedAt:        order.CreatedAt,
	}
	if order.FreeShippingThresholdMinor > 0 {
		threshold := newMoney(order.FreeShippingThresholdMinor, order.Currency)
		view.FreeShippingThreshold = &threshold
	}
	if order.Status == enums.OrderStatusPendingPayment {
		expires := order.ExpiresAt
		view.ExpiresAt = &expires
		view.PaymentSessionURL = order.PaymentSessionURL
	}
	view.appendLines(order)
	return view
}

// Redacted drops the fields that identify or describe the customer: the
// delivery address, body measurements and the free-text cancel reason.
// Anyone holding the order number gets this view.
func (v OrderView) Redacted() OrderView {
	v.ShippingAddress = nil
	v.Measurements = nil
	v.CancelReason = nil
	return v
}

func (v *OrderView) appendLines(order *models.Order) {
	for _, line := range order.Lines {
		v.Lines = append(v.Lines, OrderLineView{
			VariantID:       line.VariantID,
			SKU:             line.SKU,
			Name:            line.Name,
			Quantity:        line.Quantity,
			UnitPrice:       newMoney(line.UnitPriceMinor, order.Currency),
			EffectivePrice:  newMoney(line.EffectiveUnitPriceMinor, order.Currency),
			DiscountPercent: line.DiscountPercent,
			LineTotal:       newMoney(line.LineTotalMinor, order.Currency),
		})
	}
}
