package payments

import (
	"context"
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Outcome is the provider-neutral result of a payment attempt.
type Outcome string

const (
	OutcomePaid    Outcome = "paid"
	OutcomeFailed  Outcome = "failed"
	OutcomePending Outcome = "pending"
)

// SessionRequest describes the hosted checkout to open for an order.
type SessionRequest struct {
	OrderNumber   string
	AmountMinor   int64
	Currency      string
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	Description   string
	RedirectURL   string
}

// Session is an opened hosted checkout. Reference is what the provider
// reports back in webhooks and verification.
type Session struct {
	Provider  string
	Reference string
	URL       string
}

// Transaction is a provider's view of a payment.
type Transaction struct {
	Provider        string
	Reference       string
	GatewayStatus   string
	Outcome         Outcome
	AmountPaidMinor int64
	Currency        string
}

// WebhookEvent is a parsed notification. EventID is the provider's id or,
// when the provider sends none, a hash of the payload.
type WebhookEvent struct {
	EventID string
	Transaction
}

// Gateway is implemented by each payment provider.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
	SignatureHeader() string
	ValidateSignature(ctx context.Context, body []byte, signature string) bool
	ParseWebhook(body []byte) (*WebhookEvent, error)
}

// PayloadEventID derives a stable event id from the raw notification body.
func PayloadEventID(body []byte) string {
	sum := blake2b.Sum256(body)
	return hex.EncodeToString(sum[:])
}
