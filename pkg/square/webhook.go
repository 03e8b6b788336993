package square

import (
	"context"
	"encoding/json"
	"strings"

	sq "github.com/square/square-go-sdk"

	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

// SignatureHeader carries the base64 HMAC-SHA256 of notification URL plus body.
const SignatureHeader = "x-square-hmacsha256-signature"

const EventPaymentUpdated = "payment.updated"

// Square payment statuses.
const (
	PaymentApproved  = "APPROVED"
	PaymentPending   = "PENDING"
	PaymentCompleted = "COMPLETED"
	PaymentCanceled  = "CANCELED"
	PaymentFailed    = "FAILED"
)

// WebhookEvent is the subset of a payment notification the storefront acts on.
type WebhookEvent struct {
	EventID     string
	Type        string
	PaymentID   string
	OrderID     string
	Status      string
	AmountMinor int64
	Currency    string
}

type webhookEnvelope struct {
	EventID string `json:"event_id"`
	Type    string `json:"type"`
	Data    struct {
		Object struct {
			Payment *sq.Payment `json:"payment"`
		} `json:"object"`
	} `json:"data"`
}

// ValidSignature checks a notification against the configured signature key
// and notification URL.
func (c *Client) ValidSignature(ctx context.Context, body []byte, signature string) bool {
	if c == nil || len(body) == 0 || strings.TrimSpace(signature) == "" || c.notificationURL == "" {
		return false
	}
	err := c.sdk.Webhooks.VerifySignature(ctx, &sq.VerifySignatureRequest{
		RequestBody:     string(body),
		SignatureHeader: strings.TrimSpace(signature),
		SignatureKey:    c.webhookSecret,
		NotificationURL: c.notificationURL,
	})
	return err == nil
}

// ParseWebhook decodes a payment notification. Only payment events carry a
// usable order id.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed square webhook")
	}
	payment := env.Data.Object.Payment
	if payment == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square webhook carries no payment")
	}
	event := &WebhookEvent{
		EventID:     env.EventID,
		Type:        env.Type,
		PaymentID:   stringValue(payment.GetID()),
		OrderID:     stringValue(payment.GetOrderID()),
		Status:      strings.ToUpper(stringValue(payment.GetStatus())),
		AmountMinor: moneyAmount(payment.GetAmountMoney()),
		Currency:    moneyCurrency(payment.GetAmountMoney()),
	}
	if event.OrderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "square webhook missing order id")
	}
	return event, nil
}
