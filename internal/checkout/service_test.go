package checkout

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/internal/catalog"
	"github.com/stitchline/storefront-backend/internal/inventory"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/internal/payments"
	"github.com/stitchline/storefront-backend/internal/pricing"
	cartrules "github.com/stitchline/storefront-backend/pkg/checkout"
	"github.com/stitchline/storefront-backend/pkg/config"
	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/db/dbtest"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
	"github.com/stitchline/storefront-backend/pkg/types"
)

type fakeGateway struct {
	mu       sync.Mutex
	err      error
	delay    time.Duration
	requests []payments.SessionRequest
}

func (g *fakeGateway) Name() string { return "monnify" }

func (g *fakeGateway) CreateSession(ctx context.Context, req payments.SessionRequest) (*payments.Session, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()
	if g.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, ctx.Err(), "monnify init timed out")
		case <-time.After(g.delay):
		}
	}
	if g.err != nil {
		return nil, g.err
	}
	return &payments.Session{
		Provider:  "monnify",
		Reference: req.OrderNumber,
		URL:       "https://pay.example/" + req.OrderNumber,
	}, nil
}

func (g *fakeGateway) VerifyTransaction(context.Context, string) (*payments.Transaction, error) {
	return nil, errors.New("not used")
}
func (g *fakeGateway) SignatureHeader() string { return "x-test-signature" }
func (g *fakeGateway) ValidateSignature(context.Context, []byte, string) bool { return true }
func (g *fakeGateway) ParseWebhook([]byte) (*payments.WebhookEvent, error) {
	return nil, errors.New("not used")
}

type fakeRegistry struct{ gateway payments.Gateway }

func (r fakeRegistry) Primary() payments.Gateway { return r.gateway }

type harness struct {
	conn    *gorm.DB
	svc     Service
	orders  orders.Service
	ledger  *inventory.Ledger
	outbox  *outbox.Repository
	gateway *fakeGateway
	now     time.Time
}

func newHarness(t *testing.T, sessionTimeout time.Duration) *harness {
	t.Helper()
	conn := dbtest.Open(t)
	ledger, err := inventory.NewLedger(conn)
	require.NoError(t, err)
	outboxRepo := outbox.NewRepository(conn)
	logg := logger.New(logger.Options{ServiceName: "checkout-test", Output: &bytes.Buffer{}})
	h := &harness{
		conn:    conn,
		ledger:  ledger,
		outbox:  outboxRepo,
		gateway: &fakeGateway{},
		now:     time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC),
	}
	clock := func() time.Time { return h.now }

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(conn),
		TxRunner:   db.FromGorm(conn),
		Outbox:     outbox.NewService(outboxRepo, nil),
		Inventory:  orders.NewInventoryLedger(ledger),
		Logger:     logg,
		Clock:      clock,
	})
	require.NoError(t, err)
	h.orders = orderSvc

	resolver, err := catalog.NewService(catalog.NewRepository(conn))
	require.NoError(t, err)
	engine, err := pricing.NewEngine(pricing.Config{
		Currency:                   enums.CurrencyNGN,
		ShippingFees:               map[string]int64{"Lagos": 250000, "Abuja": 400000},
		FreeShippingThresholdMinor: 10000000,
		TaxRatePercent:             decimal.RequireFromString("7.5"),
	})
	require.NoError(t, err)

	svc, err := NewService(ServiceParams{
		TxRunner:  db.FromGorm(conn),
		Catalog:   resolver,
		Pricing:   engine,
		Inventory: NewLedgerReserver(ledger),
		Orders:    orderSvc,
		Gateways:  fakeRegistry{gateway: h.gateway},
		Checkout:  config.CheckoutConfig{ReservationTTL: 30 * time.Minute, MaxLines: 10},
		Payments:  config.PaymentsConfig{SessionTimeout: sessionTimeout, RedirectPath: "/orders/confirmation"},
		PublicURL: "https://shop.example/",
		Logger:    logg,
		Clock:     clock,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func (h *harness) reserved(t *testing.T, variantID uuid.UUID) int {
	t.Helper()
	v, err := h.ledger.Get(context.Background(), variantID)
	require.NoError(t, err)
	return v.ReservedQty
}

func (h *harness) orderCount(t *testing.T) int64 {
	t.Helper()
	var n int64
	require.NoError(t, h.conn.Model(&models.Order{}).Count(&n).Error)
	return n
}

func customer() Customer {
	return Customer{Name: " Chiamaka Obi ", Email: "Chiamaka@Example.com", Phone: "08031234567"}
}

func TestCheckoutCreatesPendingOrderWithSession(t *testing.T) {
	h := newHarness(t, time.Second)
	shirt := dbtest.SeedVariant(t, h.conn, "Agbada, indigo", 4500000, 5)
	fila := dbtest.SeedVariant(t, h.conn, "Fila cap", 800000, 10)

	result, err := h.svc.Checkout(context.Background(), Request{
		Lines: []cartrules.LineInput{
			{VariantID: shirt.ID, Quantity: 1},
			{VariantID: fila.ID, Quantity: 1},
			{VariantID: fila.ID, Quantity: 1},
		},
		ShippingLocation: "Lagos",
		ShippingAddress:  &types.ShippingAddress{Line1: "12 Admiralty Way", City: "Lekki", State: "Lagos", Country: "ng"},
		Customer:         customer(),
	})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(result.OrderNumber, "ORD-20261018-"))
	assert.Equal(t, "https://pay.example/"+result.OrderNumber, result.PaymentSessionURL)
	assert.Equal(t, result.OrderNumber, result.PaymentReference)
	assert.WithinDuration(t, h.now.Add(30*time.Minute), result.ExpiresAt, time.Second)

	// 45,000 + 2 x 8,000 = 61,000 subtotal, 2,500 shipping, 7.5% tax on goods
	assert.Equal(t, int64(6100000), result.Snapshot.SubtotalMinor)
	assert.Equal(t, int64(250000), result.Snapshot.ShippingFeeMinor)
	assert.Equal(t, int64(457500), result.Snapshot.TaxMinor)
	assert.Equal(t, int64(6807500), result.Snapshot.TotalMinor)

	assert.Equal(t, 1, h.reserved(t, shirt.ID))
	assert.Equal(t, 2, h.reserved(t, fila.ID))

	order, err := h.orders.GetByNumber(context.Background(), result.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusPendingPayment, order.Status)
	assert.Equal(t, "chiamaka@example.com", order.CustomerEmail)
	assert.Equal(t, "Chiamaka Obi", order.CustomerName)
	require.NotNil(t, order.PaymentReference)
	assert.Equal(t, result.OrderNumber, *order.PaymentReference)
	require.NotNil(t, order.Reservation)
	assert.Equal(t, enums.ReservationStatusHeld, order.Reservation.Status)
	assert.Len(t, order.Lines, 2)
	require.NotNil(t, order.ShippingAddress)
	assert.Equal(t, "NG", order.ShippingAddress.Country)

	require.Len(t, h.gateway.requests, 1)
	req := h.gateway.requests[0]
	assert.Equal(t, int64(6807500), req.AmountMinor)
	assert.Equal(t, "NGN", req.Currency)
	assert.Equal(t, "https://shop.example/orders/confirmation?order="+result.OrderNumber, req.RedirectURL)
	assert.Equal(t, "08031234567", req.CustomerPhone)
}

func TestCheckoutReportsEveryShortageAndRollsBack(t *testing.T) {
	h := newHarness(t, time.Second)
	scarce := dbtest.SeedVariant(t, h.conn, "Aso-oke wrapper", 2000000, 1)
	gone := dbtest.SeedVariant(t, h.conn, "Coral beads", 1500000, 0)
	plenty := dbtest.SeedVariant(t, h.conn, "Leather slippers", 1200000, 5)

	_, err := h.svc.Checkout(context.Background(), Request{
		Lines: []cartrules.LineInput{
			{VariantID: scarce.ID, Quantity: 2},
			{VariantID: gone.ID, Quantity: 1},
			{VariantID: plenty.ID, Quantity: 1},
		},
		ShippingLocation: "Lagos",
		Customer:         customer(),
	})
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeInsufficientStock, typed.Code())
	assert.Contains(t, typed.Message(), "Aso-oke wrapper")
	assert.Contains(t, typed.Message(), "Coral beads")

	shortages := typed.Details().(map[string]any)["shortages"].([]inventory.Shortage)
	require.Len(t, shortages, 2)
	named := map[uuid.UUID]inventory.Shortage{}
	for _, sh := range shortages {
		named[sh.VariantID] = sh
	}
	assert.Equal(t, 1, named[scarce.ID].Sellable)
	assert.Equal(t, 0, named[gone.ID].Sellable)

	assert.Equal(t, 0, h.reserved(t, plenty.ID))
	assert.Equal(t, 0, h.reserved(t, scarce.ID))
	assert.Equal(t, int64(0), h.orderCount(t))
	assert.Empty(t, h.gateway.requests)
}

func TestCheckoutGatewayFailureCancelsAndReleases(t *testing.T) {
	h := newHarness(t, time.Second)
	h.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "monnify rejected contract code")
	shirt := dbtest.SeedVariant(t, h.conn, "Buba and sokoto", 3000000, 3)

	_, err := h.svc.Checkout(context.Background(), Request{
		Lines:            []cartrules.LineInput{{VariantID: shirt.ID, Quantity: 2}},
		ShippingLocation: "Abuja",
		Customer:         customer(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	assert.Equal(t, 0, h.reserved(t, shirt.ID))

	var order models.Order
	require.NoError(t, h.conn.Preload("Reservation").First(&order).Error)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
	require.NotNil(t, order.CancelReason)
	assert.Contains(t, *order.CancelReason, "payment session")
	assert.Equal(t, enums.ReservationStatusReleased, order.Reservation.Status)

	rows, err := h.outbox.ListByAggregate(nil, order.ID)
	require.NoError(t, err)
	var kinds []enums.OutboxEventType
	for _, row := range rows {
		kinds = append(kinds, row.EventType)
	}
	assert.Equal(t, []enums.OutboxEventType{enums.EventOrderCreated, enums.EventOrderCancelled}, kinds)
}

func TestCheckoutGatewayTimeoutIsTreatedAsFailure(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.gateway.delay = time.Second
	shirt := dbtest.SeedVariant(t, h.conn, "Dashiki", 1800000, 2)

	_, err := h.svc.Checkout(context.Background(), Request{
		Lines:            []cartrules.LineInput{{VariantID: shirt.ID, Quantity: 1}},
		ShippingLocation: "Lagos",
		Customer:         customer(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
	assert.Equal(t, 0, h.reserved(t, shirt.ID))

	var order models.Order
	require.NoError(t, h.conn.First(&order).Error)
	assert.Equal(t, enums.OrderStatusCancelled, order.Status)
}

func TestCheckoutRejectsBeforeAnyMutation(t *testing.T) {
	h := newHarness(t, time.Second)
	shirt := dbtest.SeedVariant(t, h.conn, "Isiagu top", 2500000, 2)

	_, err := h.svc.Checkout(context.Background(), Request{
		Lines:            []cartrules.LineInput{{VariantID: shirt.ID, Quantity: 1}},
		ShippingLocation: "Accra",
		Customer:         customer(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnknownShippingLocation))

	_, err = h.svc.Checkout(context.Background(), Request{
		Lines:            []cartrules.LineInput{{VariantID: shirt.ID, Quantity: 1}},
		ShippingLocation: "Lagos",
		Customer:         Customer{Name: "No Email"},
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = h.svc.Checkout(context.Background(), Request{
		Lines:            []cartrules.LineInput{{VariantID: uuid.New(), Quantity: 1}},
		ShippingLocation: "Lagos",
		Customer:         customer(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	assert.Equal(t, 0, h.reserved(t, shirt.ID))
	assert.Equal(t, int64(0), h.orderCount(t))
}

func TestSubmitMeasurementOrder(t *testing.T) {
	h := newHarness(t, time.Second)
	suit := dbtest.SeedVariant(t, h.conn, "Bespoke senator suit", 9500000, 4)

	result, err := h.svc.SubmitMeasurementOrder(context.Background(), MeasurementRequest{
		VariantID: suit.ID,
		Measurements: types.Measurements{
			"Chest": decimal.RequireFromString("102.35"),
			"waist": decimal.RequireFromString("88"),
		},
		StyleNotes:       "Mandarin collar, side slits",
		ShippingLocation: "Lagos",
		Customer:         customer(),
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.OrderNumber, "MSR-"))

	order, err := h.orders.GetByNumber(context.Background(), result.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, enums.OrderTypeMeasurement, order.OrderType)
	assert.True(t, decimal.RequireFromString("102.4").Equal(order.Measurements["chest"]))
	require.NotNil(t, order.Notes)
	assert.Equal(t, "Mandarin collar, side slits", *order.Notes)
	assert.Equal(t, 1, h.reserved(t, suit.ID))

	_, err = h.svc.SubmitMeasurementOrder(context.Background(), MeasurementRequest{
		VariantID:        suit.ID,
		ShippingLocation: "Lagos",
		Customer:         customer(),
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestOrderTotalIgnoresLaterPriceChanges(t *testing.T) {
	h := newHarness(t, time.Second)
	shirt := dbtest.SeedVariant(t, h.conn, "Kente stole", 1000000, 3)

	result, err := h.svc.Checkout(context.Background(), Request{
		Lines:            []cartrules.LineInput{{VariantID: shirt.ID, Quantity: 1}},
		ShippingLocation: "Lagos",
		Customer:         customer(),
	})
	require.NoError(t, err)

	require.NoError(t, h.conn.Model(&models.ProductVariant{}).Where("id = ?", shirt.ID).Update("unit_price_minor", 5000000).Error)

	order, err := h.orders.GetByNumber(context.Background(), result.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, result.Snapshot.TotalMinor, order.TotalMinor)
	assert.Equal(t, int64(1000000), order.Lines[0].UnitPriceMinor)
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	h := newHarness(t, time.Second)
	shirt := dbtest.SeedVariant(t, h.conn, "Limited run agbada", 6000000, 2)

	const shoppers = 6
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		shortages int
	)
	for i := 0; i < shoppers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Checkout(context.Background(), Request{
				Lines:            []cartrules.LineInput{{VariantID: shirt.ID, Quantity: 1}},
				ShippingLocation: "Lagos",
				Customer:         customer(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				shortages++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 2, succeeded)
	assert.Equal(t, shoppers-2, shortages)
	assert.Equal(t, 2, h.reserved(t, shirt.ID))
}
