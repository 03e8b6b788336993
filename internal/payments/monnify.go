package payments

import (
	"context"

	"github.com/stitchline/storefront-backend/pkg/config"
	"github.com/stitchline/storefront-backend/pkg/monnify"
)

type monnifyClient interface {
	InitTransaction(ctx context.Context, req monnify.InitTransactionRequest) (*monnify.InitTransactionResponse, error)
	QueryTransaction(ctx context.Context, paymentReference string) (*monnify.Transaction, error)
	ValidSignature(body []byte, signature string) bool
}

// MonnifyGateway adapts the Monnify collections client.
type MonnifyGateway struct {
	client monnifyClient
}

func NewMonnifyGateway(client monnifyClient) *MonnifyGateway {
	return &MonnifyGateway{client: client}
}

func (g *MonnifyGateway) Name() string { return config.ProviderMonnify }

func (g *MonnifyGateway) SignatureHeader() string { return monnify.SignatureHeader }

// CreateSession uses the order number as the payment reference.
func (g *MonnifyGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	resp, err := g.client.InitTransaction(ctx, monnify.InitTransactionRequest{
		AmountMinor:      req.AmountMinor,
		CustomerName:     req.CustomerName,
		CustomerEmail:    req.CustomerEmail,
		CustomerPhone:    req.CustomerPhone,
		PaymentReference: req.OrderNumber,
		Description:      req.Description,
		CurrencyCode:     req.Currency,
		RedirectURL:      req.RedirectURL,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		Provider:  g.Name(),
		Reference: resp.PaymentReference,
		URL:       resp.CheckoutURL,
	}, nil
}

func (g *MonnifyGateway) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	txn, err := g.client.QueryTransaction(ctx, reference)
	if err != nil {
		return nil, err
	}
	ref := txn.PaymentReference
	if ref == "" {
		ref = reference
	}
	return &Transaction{
		Provider:        g.Name(),
		Reference:       ref,
		GatewayStatus:   txn.PaymentStatus,
		Outcome:         monnifyOutcome(txn.PaymentStatus),
		AmountPaidMinor: txn.AmountPaidMinor(),
		Currency:        txn.CurrencyCode,
	}, nil
}

func (g *MonnifyGateway) ValidateSignature(_ context.Context, body []byte, signature string) bool {
	return g.client.ValidSignature(body, signature)
}

func (g *MonnifyGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	event, err := monnify.ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	data := event.EventData
	eventID := PayloadEventID(body)
	if data.TransactionReference != "" {
		eventID = data.TransactionReference + ":" + data.PaymentStatus
	}
	return &WebhookEvent{
		EventID: eventID,
		Transaction: Transaction{
			Provider:        g.Name(),
			Reference:       data.PaymentReference,
			GatewayStatus:   data.PaymentStatus,
			Outcome:         monnifyOutcome(data.PaymentStatus),
			AmountPaidMinor: data.AmountPaidMinor(),
			Currency:        data.Currency,
		},
	}, nil
}

// Partial payments map to paid; the amount check downstream flags them.
func monnifyOutcome(status string) Outcome {
	switch status {
	case monnify.StatusPaid, monnify.StatusOverpaid, monnify.StatusPartiallyPaid:
		return OutcomePaid
	case monnify.StatusFailed, monnify.StatusExpired, monnify.StatusCancelled, monnify.StatusReversed:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}
