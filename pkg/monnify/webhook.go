package monnify

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
const SignatureHeader = "monnify-signature"

// Payment statuses reported by Monnify.
const (
	StatusPaid          = "PAID"
	StatusOverpaid      = "OVERPAID"
	StatusPartiallyPaid = "PARTIALLY_PAID"
	StatusPending       = "PENDING"
	StatusFailed        = "FAILED"
	StatusExpired       = "EXPIRED"
	StatusCancelled     = "CANCELLED"
	StatusReversed      = "REVERSED"
)

// EventSuccessfulTransaction is the event type of completed collections.
const EventSuccessfulTransaction = "SUCCESSFUL_TRANSACTION"

// WebhookEvent is a transaction notification posted by Monnify.
type WebhookEvent struct {
	EventType string      `json:"eventType"`
	EventData WebhookData `json:"eventData"`
}

type WebhookData struct {
	TransactionReference string          `json:"transactionReference"`
	PaymentReference     string          `json:"paymentReference"`
	PaymentStatus        string          `json:"paymentStatus"`
	AmountPaid           decimal.Decimal `json:"amountPaid"`
	TotalPayable         decimal.Decimal `json:"totalPayable"`
	Currency             string          `json:"currency"`
	PaidOn               string          `json:"paidOn"`
}

// AmountPaidMinor converts the paid amount to minor units.
func (d WebhookData) AmountPaidMinor() int64 {
	return toMinor(d.AmountPaid)
}

// ValidSignature checks the signature header against the raw body in constant time.
func (c *Client) ValidSignature(body []byte, signature string) bool {
	return ValidSignature(c.secretKey, body, signature)
}

// ValidSignature is the keyed form of Client.ValidSignature.
func ValidSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 || secret == "" {
		return false
	}
	return hmac.Equal(got, sign(secret, body))
}

// Sign returns the hex signature Monnify would send for body.
func Sign(secret string, body []byte) string {
	return hex.EncodeToString(sign(secret, body))
}

func sign(secret string, body []byte) []byte {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}

// ParseWebhook decodes a notification body.
func ParseWebhook(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "malformed monnify webhook")
	}
	if event.EventData.PaymentReference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "monnify webhook missing payment reference")
	}
	event.EventData.PaymentStatus = strings.ToUpper(strings.TrimSpace(event.EventData.PaymentStatus))
	if event.EventData.PaymentStatus == "" && event.EventType == EventSuccessfulTransaction {
		event.EventData.PaymentStatus = StatusPaid
	}
	return &event, nil
}

func basicAuth(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
