package payloads

import (
	"time"

	"github.com/stitchline/storefront-backend/pkg/enums"
)

// OrderNotification is the body of every order.* event. The notification
// service only needs enough to address the customer and render a summary.
type OrderNotification struct {
	OrderNumber      string            `json:"order_number"`
	OrderType        enums.OrderType   `json:"order_type"`
	Status           enums.OrderStatus `json:"status"`
	PreviousStatus   enums.OrderStatus `json:"previous_status,omitempty"`
	Event            string            `json:"event,omitempty"`
	Reason           string            `json:"reason,omitempty"`
	TotalMinor       int64             `json:"total_minor"`
	Currency         string            `json:"currency"`
	CustomerName     string            `json:"customer_name"`
	CustomerEmail    string            `json:"customer_email"`
	PaymentReference string            `json:"payment_reference,omitempty"`
	ExpiresAt        *time.Time        `json:"expires_at,omitempty"`
}

// PaymentMismatch reports a gateway outcome that could not be applied to the order.
type PaymentMismatch struct {
	OrderNumber      string            `json:"order_number"`
	OrderStatus      enums.OrderStatus `json:"order_status"`
	Provider         string            `json:"provider"`
	PaymentReference string            `json:"payment_reference"`
	GatewayStatus    string            `json:"gateway_status"`
	AmountPaidMinor  int64             `json:"amount_paid_minor"`
	TotalMinor       int64             `json:"total_minor"`
	Currency         string            `json:"currency"`
	Reason           string            `json:"reason"`
}
