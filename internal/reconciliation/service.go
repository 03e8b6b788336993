package reconciliation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/internal/payments"
	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/metrics"
	"github.com/stitchline/storefront-backend/pkg/outbox"
	"github.com/stitchline/storefront-backend/pkg/outbox/payloads"
)

const (
	sourceWebhook = "webhook"
	sourceVerify  = "verify"
)

// Disposition is what reconciliation did with one gateway report.
type Disposition string

const (
	DispositionApplied   Disposition = metrics.ReconcileApplied
	DispositionDuplicate Disposition = metrics.ReconcileDuplicate
	DispositionMismatch  Disposition = metrics.ReconcileMismatch
	DispositionPending   Disposition = metrics.ReconcilePending
	DispositionNoop      Disposition = metrics.ReconcileNoop
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type gatewayRegistry interface {
	Get(name string) (payments.Gateway, error)
}

type ServiceParams struct {
	TxRunner   txRunner
	Repository Repository
	Orders     orders.Service
	Gateways   gatewayRegistry
	Outbox     outbox.Emitter
	Logger     *logger.Logger
	Metrics    *metrics.ReconciliationMetrics
	Clock      func() time.Time
	Backoff    func() retry.Backoff
}

// Service turns gateway notifications and verification polls into order
// transitions. Each report is applied at most once per (provider, event id).
type Service struct {
	tx       txRunner
	repo     Repository
	orders   orders.Service
	gateways gatewayRegistry
	outbox   outbox.Emitter
	logg     *logger.Logger
	metrics  *metrics.ReconciliationMetrics
	now      func() time.Time
	backoff  func() retry.Backoff
}

// Result describes the handling of one report. Order is the order as it
// stands after the report was handled.
type Result struct {
	Provider    string
	EventID     string
	Outcome     payments.Outcome
	Disposition Disposition
	Reason      string
	Order       *models.Order
}

func NewService(params ServiceParams) (*Service, error) {
	if params.TxRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Repository == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook event repo required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "orders service required")
	}
	if params.Gateways == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment gateways required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	backoff := params.Backoff
	if backoff == nil {
		backoff = defaultBackoff
	}
	return &Service{
		tx:       params.TxRunner,
		repo:     params.Repository,
		orders:   params.Orders,
		gateways: params.Gateways,
		outbox:   params.Outbox,
		logg:     params.Logger,
		metrics:  params.Metrics,
		now:      func() time.Time { return clock().UTC() },
		backoff:  backoff,
	}, nil
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(3, retry.WithJitterPercent(20, retry.NewExponential(25*time.Millisecond)))
}

// SignatureHeader names the request header that carries the provider's
// notification signature.
func (s *Service) SignatureHeader(provider string) (string, error) {
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		return "", err
	}
	return gateway.SignatureHeader(), nil
}

// HandleWebhook authenticates and applies a provider notification. An empty
// provider means the primary gateway.
func (s *Service) HandleWebhook(ctx context.Context, provider string, body []byte, signature string) (*Result, error) {
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}
	if !gateway.ValidateSignature(ctx, body, signature) {
		s.metrics.Inc(gateway.Name(), metrics.ReconcileRejected)
		s.logg.Warn(ctx, "rejected "+gateway.Name()+" webhook with invalid signature")
		return nil, pkgerrors.New(pkgerrors.CodeInvalidSignature, "webhook signature is invalid")
	}
	event, err := gateway.ParseWebhook(body)
	if err != nil {
		s.metrics.Inc(gateway.Name(), metrics.ReconcileRejected)
		return nil, err
	}
	return s.apply(ctx, gateway.Name(), event.EventID, sourceWebhook, event.Transaction)
}

// Verify polls the gateway for the order's payment and applies the answer.
// Orders without a payment session are returned untouched.
func (s *Service) Verify(ctx context.Context, orderNumber string) (*Result, error) {
	order, err := s.orders.GetByNumber(ctx, orderNumber)
	if err != nil {
		return nil, err
	}
	if order.PaymentReference == nil || *order.PaymentReference == "" {
		return &Result{Disposition: DispositionNoop, Reason: "order has no payment session", Order: order}, nil
	}
	provider := ""
	if order.PaymentProvider != nil {
		provider = *order.PaymentProvider
	}
	gateway, err := s.gateways.Get(provider)
	if err != nil {
		return nil, err
	}

	reference := *order.PaymentReference
	txn, err := gateway.VerifyTransaction(ctx, reference)
	if err != nil {
		s.logg.Error(s.logg.WithPaymentReference(ctx, reference), "verify payment", err)
		return nil, err
	}
	if txn.Reference == "" {
		txn.Reference = reference
	}
	eventID := fmt.Sprintf("verify:%s:%s", reference, strings.ToLower(txn.GatewayStatus))
	result, err := s.apply(ctx, gateway.Name(), eventID, sourceVerify, *txn)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) apply(ctx context.Context, provider, eventID, source string, txn payments.Transaction) (*Result, error) {
	if strings.TrimSpace(txn.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference missing")
	}
	if eventID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event id missing")
	}
	ctx = s.logg.WithPaymentReference(ctx, txn.Reference)

	result, err := retry.DoValue(ctx, s.backoff(), func(ctx context.Context) (*Result, error) {
		var result *Result
		err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			result, err = s.applyTx(ctx, tx, provider, eventID, source, txn)
			return err
		})
		if err != nil {
			if pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || db.IsTransient(err) {
				return nil, retry.RetryableError(err)
			}
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			s.logg.Warn(ctx, "no order for "+provider+" payment reference")
		} else {
			s.logg.Error(ctx, "reconcile payment", err)
		}
		return nil, err
	}

	s.metrics.Inc(provider, string(result.Disposition))
	logCtx := s.logg.WithFields(s.logg.WithOrderNumber(ctx, result.Order.OrderNumber), map[string]any{
		"provider":    provider,
		"event_id":    eventID,
		"source":      source,
		"outcome":     txn.Outcome,
		"disposition": result.Disposition,
	})
	switch result.Disposition {
	case DispositionMismatch:
		s.logg.Warn(logCtx, "payment mismatch: "+result.Reason)
	case DispositionDuplicate:
		s.logg.Debug(logCtx, "payment event already processed")
	default:
		s.logg.Info(logCtx, "payment reconciled")
	}
	return result, nil
}

// applyTx records the event and applies its decision in the caller's
// transaction. A missing order fails before anything is written, so the
// provider's retry is processed normally once the order exists.
func (s *Service) applyTx(ctx context.Context, tx *gorm.DB, provider, eventID, source string, txn payments.Transaction) (*Result, error) {
	order, err := s.orders.GetByPaymentReference(ctx, tx, txn.Reference)
	if err != nil {
		return nil, err
	}
	d := decide(order, txn)
	now := s.now()

	inserted, err := s.repo.WithTx(tx).Record(ctx, &models.WebhookEvent{
		Provider:         provider,
		EventID:          eventID,
		EventType:        source,
		PaymentReference: txn.Reference,
		Outcome:          string(d.disposition),
		ProcessedAt:      now,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record webhook event")
	}

	result := &Result{
		Provider:    provider,
		EventID:     eventID,
		Outcome:     txn.Outcome,
		Disposition: d.disposition,
		Reason:      d.reason,
		Order:       order,
	}
	if !inserted {
		result.Disposition = DispositionDuplicate
		result.Reason = ""
		return result, nil
	}

	actor := &outbox.ActorRef{Role: outbox.ActorGateway}
	switch d.disposition {
	case DispositionApplied:
		updated, err := s.orders.ApplyTx(ctx, tx, orders.TransitionInput{
			OrderID: order.ID,
			Event:   d.event,
			Reason:  d.reason,
			Actor:   actor,
		})
		if err != nil {
			return nil, err
		}
		result.Order = updated
	case DispositionMismatch:
		err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentMismatch,
			AggregateType: enums.AggregatePayment,
			AggregateID:   order.ID,
			Actor:         actor,
			OccurredAt:    now,
			Data: payloads.PaymentMismatch{
				OrderNumber:      order.OrderNumber,
				OrderStatus:      order.Status,
				Provider:         provider,
				PaymentReference: txn.Reference,
				GatewayStatus:    txn.GatewayStatus,
				AmountPaidMinor:  txn.AmountPaidMinor,
				TotalMinor:       order.TotalMinor,
				Currency:         txn.Currency,
				Reason:           d.reason,
			},
		})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit payment mismatch")
		}
	}
	return result, nil
}

type decision struct {
	disposition Disposition
	event       orders.Event
	reason      string
}

// decide maps a gateway report onto the order's current status.
func decide(order *models.Order, txn payments.Transaction) decision {
	switch txn.Outcome {
	case payments.OutcomePaid:
		switch order.Status {
		case enums.OrderStatusPendingPayment:
			if reason := amountMismatch(order, txn); reason != "" {
				return decision{disposition: DispositionMismatch, reason: reason}
			}
			return decision{disposition: DispositionApplied, event: orders.EventPaymentConfirmed}
		case enums.OrderStatusPaid, enums.OrderStatusProcessing, enums.OrderStatusShipped:
			return decision{disposition: DispositionNoop}
		default:
			return decision{
				disposition: DispositionMismatch,
				reason:      fmt.Sprintf("payment received for %s order", order.Status),
			}
		}
	case payments.OutcomeFailed:
		if order.Status != enums.OrderStatusPendingPayment {
			return decision{disposition: DispositionNoop}
		}
		reason := "payment failed"
		if txn.GatewayStatus != "" {
			reason = fmt.Sprintf("payment %s at gateway", strings.ToLower(txn.GatewayStatus))
		}
		return decision{disposition: DispositionApplied, event: orders.EventPaymentFailed, reason: reason}
	default:
		return decision{disposition: DispositionPending}
	}
}

func amountMismatch(order *models.Order, txn payments.Transaction) string {
	if txn.Currency != "" && !strings.EqualFold(txn.Currency, string(order.Currency)) {
		return fmt.Sprintf("paid in %s, order is in %s", strings.ToUpper(txn.Currency), order.Currency)
	}
	if txn.AmountPaidMinor < order.TotalMinor {
		return fmt.Sprintf("amount paid %d is less than order total %d", txn.AmountPaidMinor, order.TotalMinor)
	}
	return ""
}
