package payments

import (
	"context"

	"github.com/stitchline/storefront-backend/pkg/config"
	"github.com/stitchline/storefront-backend/pkg/square"
)

type squareClient interface {
	CreatePaymentLink(ctx context.Context, params square.PaymentLinkParams) (*square.PaymentLink, error)
	GetOrder(ctx context.Context, orderID string) (*square.OrderStatus, error)
	ValidSignature(ctx context.Context, body []byte, signature string) bool
}

// SquareGateway adapts Square payment links. The Square order id is the
// payment reference.
type SquareGateway struct {
	client squareClient
}

func NewSquareGateway(client squareClient) *SquareGateway {
	return &SquareGateway{client: client}
}

func (g *SquareGateway) Name() string { return config.ProviderSquare }

func (g *SquareGateway) SignatureHeader() string { return square.SignatureHeader }

func (g *SquareGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	link, err := g.client.CreatePaymentLink(ctx, square.PaymentLinkParams{
		ReferenceID:    req.OrderNumber,
		Description:    req.Description,
		AmountMinor:    req.AmountMinor,
		Currency:       req.Currency,
		BuyerEmail:     req.CustomerEmail,
		RedirectURL:    req.RedirectURL,
		IdempotencyKey: "checkout-" + req.OrderNumber,
	})
	if err != nil {
		return nil, err
	}
	return &Session{
		Provider:  g.Name(),
		Reference: link.OrderID,
		URL:       link.URL,
	}, nil
}

func (g *SquareGateway) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	order, err := g.client.GetOrder(ctx, reference)
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Provider:        g.Name(),
		Reference:       order.OrderID,
		GatewayStatus:   order.State,
		Outcome:         squareOrderOutcome(order),
		AmountPaidMinor: order.AmountPaidMinor,
		Currency:        order.Currency,
	}, nil
}

func (g *SquareGateway) ValidateSignature(ctx context.Context, body []byte, signature string) bool {
	return g.client.ValidSignature(ctx, body, signature)
}

func (g *SquareGateway) ParseWebhook(body []byte) (*WebhookEvent, error) {
	event, err := square.ParseWebhook(body)
	if err != nil {
		return nil, err
	}
	eventID := event.EventID
	if eventID == "" {
		eventID = PayloadEventID(body)
	}
	return &WebhookEvent{
		EventID: eventID,
		Transaction: Transaction{
			Provider:        g.Name(),
			Reference:       event.OrderID,
			GatewayStatus:   event.Status,
			Outcome:         squarePaymentOutcome(event.Status),
			AmountPaidMinor: event.AmountMinor,
			Currency:        event.Currency,
		},
	}, nil
}

func squarePaymentOutcome(status string) Outcome {
	switch status {
	case square.PaymentCompleted:
		return OutcomePaid
	case square.PaymentFailed, square.PaymentCanceled:
		return OutcomeFailed
	default:
		return OutcomePending
	}
}

// An open order that is fully paid counts as paid; Square completes it later.
func squareOrderOutcome(order *square.OrderStatus) Outcome {
	switch order.State {
	case "COMPLETED":
		return OutcomePaid
	case "CANCELED":
		return OutcomeFailed
	}
	if order.TotalMinor > 0 && order.AmountPaidMinor >= order.TotalMinor {
		return OutcomePaid
	}
	return OutcomePending
}
