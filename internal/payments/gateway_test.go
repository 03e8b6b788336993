package payments

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/monnify"
	"github.com/stitchline/storefront-backend/pkg/square"
)

type fakeMonnify struct {
	initReq  monnify.InitTransactionRequest
	txn      *monnify.Transaction
	validSig bool
}

func (f *fakeMonnify) InitTransaction(_ context.Context, req monnify.InitTransactionRequest) (*monnify.InitTransactionResponse, error) {
	f.initReq = req
	return &monnify.InitTransactionResponse{
		TransactionReference: "MNFY|1",
		PaymentReference:     req.PaymentReference,
		CheckoutURL:          "https://checkout.example/MNFY|1",
	}, nil
}

func (f *fakeMonnify) QueryTransaction(_ context.Context, ref string) (*monnify.Transaction, error) {
	if f.txn == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return f.txn, nil
}

func (f *fakeMonnify) ValidSignature(_ []byte, _ string) bool { return f.validSig }

type fakeSquare struct {
	params square.PaymentLinkParams
	order  *square.OrderStatus
}

func (f *fakeSquare) CreatePaymentLink(_ context.Context, p square.PaymentLinkParams) (*square.PaymentLink, error) {
	f.params = p
	return &square.PaymentLink{ID: "PL1", OrderID: "SQORDER1", URL: "https://square.link/u/1"}, nil
}

func (f *fakeSquare) GetOrder(_ context.Context, _ string) (*square.OrderStatus, error) {
	return f.order, nil
}

func (f *fakeSquare) ValidSignature(_ context.Context, _ []byte, _ string) bool { return true }

func TestMonnifyCreateSessionUsesOrderNumberAsReference(t *testing.T) {
	client := &fakeMonnify{}
	g := NewMonnifyGateway(client)

	session, err := g.CreateSession(context.Background(), SessionRequest{
		OrderNumber:   "ORD-20261018-ABCDEF",
		AmountMinor:   5000,
		Currency:      "NGN",
		CustomerEmail: "ada@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "monnify", session.Provider)
	assert.Equal(t, "ORD-20261018-ABCDEF", session.Reference)
	assert.Equal(t, "ORD-20261018-ABCDEF", client.initReq.PaymentReference)
	assert.Equal(t, int64(5000), client.initReq.AmountMinor)
}

func TestMonnifyOutcomes(t *testing.T) {
	cases := map[string]Outcome{
		monnify.StatusPaid:          OutcomePaid,
		monnify.StatusOverpaid:      OutcomePaid,
		monnify.StatusPartiallyPaid: OutcomePaid,
		monnify.StatusFailed:        OutcomeFailed,
		monnify.StatusExpired:       OutcomeFailed,
		monnify.StatusCancelled:     OutcomeFailed,
		monnify.StatusReversed:      OutcomeFailed,
		monnify.StatusPending:       OutcomePending,
		"":                          OutcomePending,
	}
	for status, want := range cases {
		assert.Equal(t, want, monnifyOutcome(status), status)
	}
}

func TestMonnifyVerifyTransaction(t *testing.T) {
	client := &fakeMonnify{txn: &monnify.Transaction{
		PaymentReference: "ORD-1",
		PaymentStatus:    monnify.StatusPartiallyPaid,
		AmountPaid:       decimal.RequireFromString("25.50"),
		CurrencyCode:     "NGN",
	}}
	g := NewMonnifyGateway(client)

	txn, err := g.VerifyTransaction(context.Background(), "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, OutcomePaid, txn.Outcome)
	assert.Equal(t, int64(2550), txn.AmountPaidMinor)
	assert.Equal(t, monnify.StatusPartiallyPaid, txn.GatewayStatus)

	_, err = NewMonnifyGateway(&fakeMonnify{}).VerifyTransaction(context.Background(), "ORD-2")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMonnifyParseWebhookEventIdentity(t *testing.T) {
	g := NewMonnifyGateway(&fakeMonnify{})

	withRef := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION","eventData":{"transactionReference":"MNFY|9","paymentReference":"ORD-1","paymentStatus":"PAID","amountPaid":"50.00"}}`)
	event, err := g.ParseWebhook(withRef)
	require.NoError(t, err)
	assert.Equal(t, "MNFY|9:PAID", event.EventID)
	assert.Equal(t, "ORD-1", event.Reference)
	assert.Equal(t, OutcomePaid, event.Outcome)
	assert.Equal(t, int64(5000), event.AmountPaidMinor)

	withoutRef := []byte(`{"eventType":"FAILED_TRANSACTION","eventData":{"paymentReference":"ORD-1","paymentStatus":"FAILED"}}`)
	event, err = g.ParseWebhook(withoutRef)
	require.NoError(t, err)
	assert.Equal(t, PayloadEventID(withoutRef), event.EventID)
	assert.Equal(t, OutcomeFailed, event.Outcome)
}

func TestSquareCreateSession(t *testing.T) {
	client := &fakeSquare{}
	g := NewSquareGateway(client)

	session, err := g.CreateSession(context.Background(), SessionRequest{OrderNumber: "ORD-1", AmountMinor: 100, Currency: "NGN"})
	require.NoError(t, err)
	assert.Equal(t, "square", session.Provider)
	assert.Equal(t, "SQORDER1", session.Reference)
	assert.Equal(t, "ORD-1", client.params.ReferenceID)
	assert.Equal(t, "checkout-ORD-1", client.params.IdempotencyKey)
}

func TestSquareOutcomes(t *testing.T) {
	assert.Equal(t, OutcomePaid, squarePaymentOutcome(square.PaymentCompleted))
	assert.Equal(t, OutcomeFailed, squarePaymentOutcome(square.PaymentFailed))
	assert.Equal(t, OutcomeFailed, squarePaymentOutcome(square.PaymentCanceled))
	assert.Equal(t, OutcomePending, squarePaymentOutcome(square.PaymentApproved))

	assert.Equal(t, OutcomePaid, squareOrderOutcome(&square.OrderStatus{State: "COMPLETED"}))
	assert.Equal(t, OutcomeFailed, squareOrderOutcome(&square.OrderStatus{State: "CANCELED"}))
	assert.Equal(t, OutcomePaid, squareOrderOutcome(&square.OrderStatus{State: "OPEN", TotalMinor: 100, AmountPaidMinor: 100}))
	assert.Equal(t, OutcomePending, squareOrderOutcome(&square.OrderStatus{State: "OPEN", TotalMinor: 100, AmountPaidMinor: 40}))
}

func TestSquareParseWebhookFallsBackToPayloadHash(t *testing.T) {
	g := NewSquareGateway(&fakeSquare{})
	body := []byte(`{"type":"payment.updated","data":{"object":{"payment":{"id":"P1","order_id":"SQORDER1","status":"COMPLETED","amount_money":{"amount":100,"currency":"NGN"}}}}}`)

	event, err := g.ParseWebhook(body)
	require.NoError(t, err)
	assert.Equal(t, PayloadEventID(body), event.EventID)
	assert.Equal(t, "SQORDER1", event.Reference)
	assert.Equal(t, OutcomePaid, event.Outcome)
}

func TestPayloadEventIDIsStable(t *testing.T) {
	a := PayloadEventID([]byte(`{"a":1}`))
	assert.Len(t, a, 64)
	assert.Equal(t, a, PayloadEventID([]byte(`{"a":1}`)))
	assert.NotEqual(t, a, PayloadEventID([]byte(`{"a":2}`)))
}

func TestRegistry(t *testing.T) {
	mon := NewMonnifyGateway(&fakeMonnify{})
	sq := NewSquareGateway(&fakeSquare{})

	_, err := NewRegistry(nil)
	require.Error(t, err)

	r, err := NewRegistry(mon, sq, nil)
	require.NoError(t, err)
	assert.Equal(t, "monnify", r.Primary().Name())

	g, err := r.Get("")
	require.NoError(t, err)
	assert.Equal(t, "monnify", g.Name())

	g, err = r.Get(" Square ")
	require.NoError(t, err)
	assert.Equal(t, "square", g.Name())

	_, err = r.Get("paystack")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}
