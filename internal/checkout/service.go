package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/internal/catalog"
	"github.com/stitchline/storefront-backend/internal/inventory"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/internal/payments"
	"github.com/stitchline/storefront-backend/internal/pricing"
	cartrules "github.com/stitchline/storefront-backend/pkg/checkout"
	"github.com/stitchline/storefront-backend/pkg/config"
	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/metrics"
	"github.com/stitchline/storefront-backend/pkg/outbox"
	"github.com/stitchline/storefront-backend/pkg/types"
)

const (
	maxCheckoutAttempts = 3
	baseAttemptDelay    = 50 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type quoter interface {
	Quote(lines []pricing.Line, location string) (pricing.Snapshot, error)
}

// Reserver holds stock inside the caller's transaction.
type Reserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error
}

type gatewayRegistry interface {
	Primary() payments.Gateway
}

// Service turns carts into pending orders with a live payment session.
type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
	SubmitMeasurementOrder(ctx context.Context, req MeasurementRequest) (*Result, error)
}

// ServiceParams wires the checkout service.
type ServiceParams struct {
	TxRunner  txRunner
	Catalog   catalog.Resolver
	Pricing   quoter
	Inventory Reserver
	Orders    orders.Service
	Gateways  gatewayRegistry
	Checkout  config.CheckoutConfig
	Payments  config.PaymentsConfig
	PublicURL string
	Logger    *logger.Logger
	Metrics   *metrics.CheckoutMetrics
	Clock     func() time.Time
	Backoff   func() retry.Backoff
}

type service struct {
	tx        txRunner
	catalog   catalog.Resolver
	pricing   quoter
	inventory Reserver
	orders    orders.Service
	gateways  gatewayRegistry
	cfg       config.CheckoutConfig
	payCfg    config.PaymentsConfig
	publicURL string
	logg      *logger.Logger
	metrics   *metrics.CheckoutMetrics
	now       func() time.Time
	backoff   func() retry.Backoff
}

// Customer identifies the buyer. UserID is set for signed-in shoppers.
type Customer struct {
	UserID *uuid.UUID
	Name   string
	Email  string
	Phone  string
}

// Request is a regular cart checkout.
type Request struct {
	Lines            []cartrules.LineInput
	ShippingLocation string
	ShippingAddress  *types.ShippingAddress
	Customer         Customer
	Notes            string
}

// MeasurementRequest is a made-to-measure order for a single variant.
type MeasurementRequest struct {
	VariantID        uuid.UUID
	Quantity         int
	Measurements     types.Measurements
	StyleNotes       string
	ShippingLocation string
	ShippingAddress  *types.ShippingAddress
	Customer         Customer
}

// Result is what the shopper needs to complete payment.
type Result struct {
	Order             *models.Order
	OrderNumber       string
	PaymentProvider   string
	PaymentReference  string
	PaymentSessionURL string
	Snapshot          pricing.Snapshot
	ExpiresAt         time.Time
}

type draft struct {
	orderType    enums.OrderType
	lines        []cartrules.LineInput
	location     string
	address      *types.ShippingAddress
	customer     Customer
	notes        string
	measurements types.Measurements
}

// NewService builds the checkout service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.TxRunner == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog resolver required")
	}
	if params.Pricing == nil {
		return nil, fmt.Errorf("pricing engine required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory reserver required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	if params.Gateways == nil {
		return nil, fmt.Errorf("payment gateways required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Checkout.ReservationTTL <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	backoff := params.Backoff
	if backoff == nil {
		backoff = defaultAttemptBackoff
	}
	return &service{
		tx:        params.TxRunner,
		catalog:   params.Catalog,
		pricing:   params.Pricing,
		inventory: params.Inventory,
		orders:    params.Orders,
		gateways:  params.Gateways,
		cfg:       params.Checkout,
		payCfg:    params.Payments,
		publicURL: strings.TrimRight(params.PublicURL, "/"),
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       func() time.Time { return clock().UTC() },
		backoff:   backoff,
	}, nil
}

func defaultAttemptBackoff() retry.Backoff {
	b := retry.NewExponential(baseAttemptDelay)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(maxCheckoutAttempts-1, b)
}

func (s *service) Checkout(ctx context.Context, req Request) (*Result, error) {
	lines, err := cartrules.NormalizeLines(req.Lines, s.cfg.MaxLines)
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutRejected)
		return nil, err
	}
	return s.run(ctx, draft{
		orderType: enums.OrderTypeRegular,
		lines:     lines,
		location:  req.ShippingLocation,
		address:   req.ShippingAddress,
		customer:  req.Customer,
		notes:     req.Notes,
	})
}

func (s *service) SubmitMeasurementOrder(ctx context.Context, req MeasurementRequest) (*Result, error) {
	measurements, err := req.Measurements.Normalize()
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutRejected)
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, err.Error())
	}
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	lines, err := cartrules.NormalizeLines([]cartrules.LineInput{{VariantID: req.VariantID, Quantity: qty}}, 1)
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutRejected)
		return nil, err
	}
	return s.run(ctx, draft{
		orderType:    enums.OrderTypeMeasurement,
		lines:        lines,
		location:     req.ShippingLocation,
		address:      req.ShippingAddress,
		customer:     req.Customer,
		notes:        req.StyleNotes,
		measurements: measurements,
	})
}

func (s *service) run(ctx context.Context, d draft) (*Result, error) {
	customer, err := normalizeCustomer(d.customer)
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutRejected)
		return nil, err
	}
	d.customer = customer
	if d.address != nil {
		normalized := d.address.Normalize()
		d.address = &normalized
	}

	priced, err := s.catalog.Resolve(ctx, nil, d.lines)
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutRejected)
		return nil, err
	}
	snapshot, err := s.pricing.Quote(priced, d.location)
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutRejected)
		return nil, err
	}

	order, err := s.reserveAndCreate(ctx, d, snapshot)
	if err != nil {
		switch {
		case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
			s.metrics.IncOutcome(metrics.CheckoutInsufficientStock)
		default:
			s.metrics.IncOutcome(metrics.CheckoutFailed)
		}
		return nil, err
	}
	ctx = s.logg.WithOrderNumber(ctx, order.OrderNumber)
	s.logg.Info(ctx, "order reserved, opening payment session")

	session, err := s.openSession(ctx, order)
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutGatewayFailed)
		s.abandon(ctx, order, err)
		return nil, err
	}

	updated, err := s.orders.AttachPaymentSession(ctx, order.ID, orders.PaymentSession{
		Provider:   session.Provider,
		Reference:  session.Reference,
		SessionURL: session.URL,
	})
	if err != nil {
		s.metrics.IncOutcome(metrics.CheckoutFailed)
		s.logg.Error(ctx, "attach payment session", err)
		return nil, err
	}

	s.metrics.IncOutcome(metrics.CheckoutCreated)
	s.logg.Info(s.logg.WithPaymentReference(ctx, session.Reference), "checkout completed")
	return &Result{
		Order:             updated,
		OrderNumber:       updated.OrderNumber,
		PaymentProvider:   session.Provider,
		PaymentReference:  session.Reference,
		PaymentSessionURL: session.URL,
		Snapshot:          snapshot,
		ExpiresAt:         updated.ExpiresAt,
	}, nil
}

// reserveAndCreate reserves every line and persists the order in one
// transaction. Rolling the transaction back undoes every reserve made in the
// attempt. Transient storage conflicts restart the whole attempt.
func (s *service) reserveAndCreate(ctx context.Context, d draft, snapshot pricing.Snapshot) (*models.Order, error) {
	return retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (*models.Order, error) {
		var created *models.Order
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			if err := s.reserveAll(ctx, tx, snapshot.Lines); err != nil {
				return err
			}
			order, err := s.orders.Create(ctx, tx, s.buildInput(d, snapshot))
			if err != nil {
				return err
			}
			created = order
			return nil
		})
		if err != nil {
			if db.IsTransient(err) {
				return nil, retry.RetryableError(err)
			}
			return nil, err
		}
		return created, nil
	})
}

// reserveAll attempts every line so the shopper learns about all shortages at once.
func (s *service) reserveAll(ctx context.Context, tx *gorm.DB, lines []pricing.PricedLine) error {
	var shortages []inventory.Shortage
	for _, line := range lines {
		err := s.inventory.Reserve(ctx, tx, line.VariantID, line.Quantity)
		if err == nil {
			continue
		}
		if !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
			return err
		}
		shortage, ok := pkgerrors.As(err).Details().(inventory.Shortage)
		if !ok {
			shortage = inventory.Shortage{VariantID: line.VariantID, Name: line.Name, Requested: line.Quantity}
		}
		shortages = append(shortages, shortage)
	}
	if len(shortages) == 0 {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, inventory.ErrInsufficientStock, shortageMessage(shortages)).
		WithDetails(map[string]any{"shortages": shortages})
}

func shortageMessage(shortages []inventory.Shortage) string {
	parts := make([]string, 0, len(shortages))
	for _, sh := range shortages {
		if sh.Sellable == 0 {
			parts = append(parts, fmt.Sprintf("%s is out of stock", sh.Name))
			continue
		}
		parts = append(parts, fmt.Sprintf("not enough %s in stock", sh.Name))
	}
	return strings.Join(parts, "; ")
}

func (s *service) buildInput(d draft, snapshot pricing.Snapshot) orders.CreateInput {
	order := &models.Order{
		OrderType:                  d.orderType,
		CustomerUserID:             d.customer.UserID,
		CustomerName:               d.customer.Name,
		CustomerEmail:              d.customer.Email,
		ShippingLocation:           snapshot.ShippingLocation,
		ShippingAddress:            d.address,
		Currency:                   snapshot.Currency,
		SubtotalMinor:              snapshot.SubtotalMinor,
		DiscountMinor:              snapshot.DiscountMinor,
		ShippingFeeMinor:           snapshot.ShippingFeeMinor,
		TaxMinor:                   snapshot.TaxMinor,
		TotalMinor:                 snapshot.TotalMinor,
		FreeShippingThresholdMinor: snapshot.FreeShippingThresholdMinor,
		TaxRatePercent:             snapshot.TaxRatePercent.String(),
		Measurements:               d.measurements,
		ExpiresAt:                  s.now().Add(s.cfg.ReservationTTL),
	}
	if d.customer.Phone != "" {
		phone := d.customer.Phone
		order.CustomerPhone = &phone
	}
	if notes := strings.TrimSpace(d.notes); notes != "" {
		order.Notes = &notes
	}

	lines := make([]models.OrderLine, 0, len(snapshot.Lines))
	items := make([]models.ReservationItem, 0, len(snapshot.Lines))
	for _, line := range snapshot.Lines {
		lines = append(lines, models.OrderLine{
			VariantID:               line.VariantID,
			ProductID:               line.ProductID,
			SKU:                     line.SKU,
			Name:                    line.Name,
			UnitPriceMinor:          line.UnitPriceMinor,
			EffectiveUnitPriceMinor: line.EffectiveUnitPriceMinor,
			DiscountPercent:         line.DiscountPercent,
			Quantity:                line.Quantity,
			LineTotalMinor:          line.LineTotalMinor,
		})
		items = append(items, models.ReservationItem{VariantID: line.VariantID, Quantity: line.Quantity})
	}

	actor := outbox.ActorRef{Role: outbox.ActorCustomer, UserID: d.customer.UserID}
	return orders.CreateInput{Order: order, Lines: lines, Items: items, Actor: &actor}
}

func (s *service) openSession(ctx context.Context, order *models.Order) (*payments.Session, error) {
	gateway := s.gateways.Primary()
	sessionCtx, cancel := context.WithTimeout(ctx, s.payCfg.SessionTimeout)
	defer cancel()

	req := payments.SessionRequest{
		OrderNumber:   order.OrderNumber,
		AmountMinor:   order.TotalMinor,
		Currency:      string(order.Currency),
		CustomerName:  order.CustomerName,
		CustomerEmail: order.CustomerEmail,
		Description:   "Order " + order.OrderNumber,
		RedirectURL:   s.redirectURL(order.OrderNumber),
	}
	if order.CustomerPhone != nil {
		req.CustomerPhone = *order.CustomerPhone
	}

	started := time.Now()
	session, err := gateway.CreateSession(sessionCtx, req)
	s.metrics.ObserveSession(gateway.Name(), time.Since(started))
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeGateway, err, "create payment session")
		}
		return nil, err
	}
	if session.Reference == "" || session.URL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "payment provider returned an incomplete session")
	}
	return session, nil
}

// abandon cancels the order and releases its reservation after a failed
// session. It runs detached from the request so a client disconnect cannot
// leave the reservation dangling.
func (s *service) abandon(ctx context.Context, order *models.Order, cause error) {
	ctx = context.WithoutCancel(ctx)
	s.logg.Warn(ctx, "payment session failed, cancelling order: "+cause.Error())
	_, err := s.orders.Apply(ctx, orders.TransitionInput{
		OrderID: order.ID,
		Event:   orders.EventPaymentFailed,
		Reason:  "payment session could not be created",
		Actor:   &outbox.ActorRef{Role: outbox.ActorSystem},
	})
	if err != nil {
		s.logg.Error(ctx, "cancel order after session failure", err)
	}
}

func (s *service) redirectURL(orderNumber string) string {
	if s.publicURL == "" {
		return ""
	}
	path := s.payCfg.RedirectPath
	if path == "" {
		path = "/orders/confirmation"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return s.publicURL + path + "?order=" + orderNumber
}

func normalizeCustomer(c Customer) (Customer, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	c.Phone = strings.TrimSpace(c.Phone)
	if c.Name == "" {
		return c, pkgerrors.New(pkgerrors.CodeValidation, "customer name is required")
	}
	if c.Email == "" || !strings.Contains(c.Email, "@") {
		return c, pkgerrors.New(pkgerrors.CodeValidation, "a valid customer email is required")
	}
	return c, nil
}

// NewLedgerReserver adapts the inventory ledger to the caller's transaction.
func NewLedgerReserver(ledger *inventory.Ledger) Reserver {
	return ledgerReserver{ledger: ledger}
}

type ledgerReserver struct {
	ledger *inventory.Ledger
}

func (r ledgerReserver) Reserve(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error {
	return r.ledger.WithTx(tx).Reserve(ctx, variantID, qty)
}
