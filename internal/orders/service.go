package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/internal/inventory"
	dbpkg "github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
	"github.com/stitchline/storefront-backend/pkg/outbox/payloads"
)

const maxOrderNumberAttempts = 5

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service owns every order status change. Nothing else writes orders.status.
type Service interface {
	Create(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Order, error)
	Apply(ctx context.Context, input TransitionInput) (*models.Order, error)
	ApplyTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Order, error)
	AttachPaymentSession(ctx context.Context, orderID uuid.UUID, session PaymentSession) (*models.Order, error)
	GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	GetByPaymentReference(ctx context.Context, tx *gorm.DB, reference string) (*models.Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
}

// ServiceParams wires the order service.
type ServiceParams struct {
	Repository Repository
	TxRunner   txRunner
	Outbox     outboxPublisher
	Inventory  InventoryLedger
	Logger     *logger.Logger
	Clock      func() time.Time
}

type service struct {
	repo      Repository
	tx        txRunner
	outbox    outboxPublisher
	inventory InventoryLedger
	logg      *logger.Logger
	now       func() time.Time
}

// CreateInput is a fully priced order ready to be persisted. Stock for Items
// must already be reserved in the same transaction.
type CreateInput struct {
	Order *models.Order
	Lines []models.OrderLine
	Items []models.ReservationItem
	Actor *outbox.ActorRef
}

// TransitionInput identifies an order by id or number and the event to apply.
type TransitionInput struct {
	OrderID     uuid.UUID
	OrderNumber string
	Event       Event
	Reason      string
	Actor       *outbox.ActorRef
}

// PaymentSession is the hosted checkout handle returned by the gateway.
type PaymentSession struct {
	Provider   string
	Reference  string
	SessionURL string
}

// NewService builds the order service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repository == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.TxRunner == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if params.Inventory == nil {
		return nil, fmt.Errorf("inventory ledger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &service{
		repo:      params.Repository,
		tx:        params.TxRunner,
		outbox:    params.Outbox,
		inventory: params.Inventory,
		logg:      params.Logger,
		now:       func() time.Time { return clock().UTC() },
	}, nil
}

func (s *service) Create(ctx context.Context, tx *gorm.DB, input CreateInput) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	order := input.Order
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if len(input.Lines) == 0 || len(input.Items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order must contain at least one line")
	}
	if !order.OrderType.IsValid() {
		order.OrderType = enums.OrderTypeRegular
	}
	order.Status = enums.OrderStatusPendingPayment

	if err := s.insertWithUniqueNumber(ctx, tx, order); err != nil {
		return nil, err
	}

	repo := s.repo.WithTx(tx)
	for i := range input.Lines {
		input.Lines[i].OrderID = order.ID
	}
	if err := repo.CreateLines(ctx, input.Lines); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order lines")
	}
	reservation := &models.Reservation{
		OrderID: order.ID,
		Status:  enums.ReservationStatusHeld,
		Items:   input.Items,
	}
	if err := repo.CreateReservation(ctx, reservation); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	if err := repo.AppendStatusEvent(ctx, &models.OrderStatusEvent{
		OrderID:  order.ID,
		ToStatus: enums.OrderStatusPendingPayment,
		Event:    string(eventCreated),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status event")
	}

	order.Lines = input.Lines
	order.Reservation = reservation

	expires := order.ExpiresAt
	if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Actor:         input.Actor,
		OccurredAt:    s.now(),
		Data: payloads.OrderNotification{
			OrderNumber:   order.OrderNumber,
			OrderType:     order.OrderType,
			Status:        order.Status,
			Event:         string(eventCreated),
			TotalMinor:    order.TotalMinor,
			Currency:      string(order.Currency),
			CustomerName:  order.CustomerName,
			CustomerEmail: order.CustomerEmail,
			ExpiresAt:     &expires,
		},
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order created")
	}
	return order, nil
}

// insertWithUniqueNumber retries number collisions inside a savepoint so the
// outer transaction survives the failed insert.
func (s *service) insertWithUniqueNumber(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	preset := order.OrderNumber != ""
	for attempt := 0; attempt < maxOrderNumberAttempts; attempt++ {
		if !preset || attempt > 0 {
			order.OrderNumber = NewOrderNumber(order.OrderType, s.now())
		}
		order.ID = uuid.Nil
		err := tx.Transaction(func(sp *gorm.DB) error {
			return s.repo.WithTx(sp).CreateOrder(ctx, order)
		})
		if err == nil {
			return nil
		}
		if !dbpkg.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
	}
	return pkgerrors.New(pkgerrors.CodeConflict, "could not allocate a unique order number")
}

func (s *service) Apply(ctx context.Context, input TransitionInput) (*models.Order, error) {
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = s.ApplyTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ApplyTx runs one transition inside the caller's transaction: guarded status
// update, history row, reservation settlement and outbox event all commit or
// roll back together.
func (s *service) ApplyTx(ctx context.Context, tx *gorm.DB, input TransitionInput) (*models.Order, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	repo := s.repo.WithTx(tx)
	order, err := s.load(ctx, repo, input.OrderID, input.OrderNumber)
	if err != nil {
		return nil, err
	}

	transition, err := Next(order.Status, input.Event)
	if err != nil {
		return nil, withOrderNumber(err, order.OrderNumber)
	}

	now := s.now()
	updates := statusTimestamps(transition.To, now)
	reason := strings.TrimSpace(input.Reason)
	if transition.To == enums.OrderStatusCancelled && reason != "" {
		updates["cancel_reason"] = reason
	}
	moved, err := repo.UpdateStatus(ctx, order.ID, transition.From, transition.To, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	if !moved {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently").
			WithDetails(IllegalTransition{OrderNumber: order.OrderNumber, Status: order.Status, Event: input.Event})
	}

	from := transition.From
	event := &models.OrderStatusEvent{
		OrderID:    order.ID,
		FromStatus: &from,
		ToStatus:   transition.To,
		Event:      string(input.Event),
	}
	if reason != "" {
		event.Reason = &reason
	}
	if err := repo.AppendStatusEvent(ctx, event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append status event")
	}

	if err := s.settleReservation(ctx, tx, repo, order, transition.Effect, now); err != nil {
		return nil, err
	}

	applyToModel(order, transition.To, now, reason)

	eventType, ok := enums.OrderStatusEvent(transition.To)
	if ok {
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventType,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         input.Actor,
			OccurredAt:    now,
			Data:          notificationFor(order, transition, reason),
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit order event")
		}
	}

	if s.logg != nil {
		logCtx := s.logg.WithOrderNumber(ctx, order.OrderNumber)
		logCtx = s.logg.WithFields(logCtx, map[string]any{
			"from":  transition.From,
			"to":    transition.To,
			"event": input.Event,
		})
		s.logg.Info(logCtx, "order transitioned")
	}
	return order, nil
}

// settleReservation moves the hold out of held and touches the ledger only
// when this caller won the reservation update.
func (s *service) settleReservation(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, effect ReservationEffect, now time.Time) error {
	if effect == ReservationUntouched {
		return nil
	}
	target := enums.ReservationStatusReleased
	if effect == ReservationCommit {
		target = enums.ReservationStatusCommitted
	}
	won, err := repo.ResolveReservation(ctx, order.ID, target, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve reservation")
	}
	if !won {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithOrderNumber(ctx, order.OrderNumber), "reservation already resolved; ledger untouched")
		}
		return nil
	}

	reservation := order.Reservation
	if reservation == nil {
		reservation, err = repo.FindReservation(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
		}
	}
	for _, item := range reservation.Items {
		if effect == ReservationCommit {
			err = s.inventory.Commit(ctx, tx, item.VariantID, item.Quantity)
		} else {
			err = s.inventory.Release(ctx, tx, item.VariantID, item.Quantity)
		}
		if err != nil {
			return err
		}
	}
	reservation.Status = target
	resolvedAt := now
	reservation.ResolvedAt = &resolvedAt
	order.Reservation = reservation
	return nil
}

func (s *service) AttachPaymentSession(ctx context.Context, orderID uuid.UUID, session PaymentSession) (*models.Order, error) {
	if session.Reference == "" || session.SessionURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment session reference and url required")
	}
	var order *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		attached, err := repo.AttachPaymentSession(ctx, orderID, session.Provider, session.Reference, session.SessionURL)
		if err != nil {
			if dbpkg.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment reference already attached to another order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment session")
		}
		order, err = s.load(ctx, repo, orderID, "")
		if err != nil {
			return err
		}
		if !attached {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order is no longer awaiting a payment session").
				WithDetails(IllegalTransition{OrderNumber: order.OrderNumber, Status: order.Status})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *service) GetByNumber(ctx context.Context, orderNumber string) (*models.Order, error) {
	orderNumber = strings.ToUpper(strings.TrimSpace(orderNumber))
	if orderNumber == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order number required")
	}
	return s.load(ctx, s.repo, uuid.Nil, orderNumber)
}

func (s *service) GetByPaymentReference(ctx context.Context, tx *gorm.DB, reference string) (*models.Order, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment reference required")
	}
	repo := s.repo.WithTx(tx)
	order, err := repo.FindByPaymentReference(ctx, reference)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		// A notification can beat the session attach when the provider
		// reference is the order number itself.
		order, err = repo.FindByNumber(ctx, strings.ToUpper(strings.TrimSpace(reference)))
		if err == nil && order.PaymentReference != nil && *order.PaymentReference != reference {
			err = gorm.ErrRecordNotFound
		}
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no order for payment reference")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order by payment reference")
	}
	return order, nil
}

func (s *service) History(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error) {
	events, err := s.repo.ListStatusEvents(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list status events")
	}
	return events, nil
}

func (s *service) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	orders, err := s.repo.ListExpiredPending(ctx, now, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired orders")
	}
	return orders, nil
}

func (s *service) load(ctx context.Context, repo Repository, id uuid.UUID, number string) (*models.Order, error) {
	var (
		order *models.Order
		err   error
	)
	switch {
	case id != uuid.Nil:
		order, err = repo.FindByID(ctx, id)
	case number != "":
		order, err = repo.FindByNumber(ctx, number)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id or number required")
	}
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return order, nil
}

func statusTimestamps(to enums.OrderStatus, now time.Time) map[string]any {
	updates := map[string]any{}
	switch to {
	case enums.OrderStatusPaid:
		updates["paid_at"] = now
	case enums.OrderStatusProcessing:
		updates["processing_at"] = now
	case enums.OrderStatusShipped:
		updates["shipped_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
	case enums.OrderStatusExpired:
		updates["expired_at"] = now
	}
	return updates
}

func applyToModel(order *models.Order, to enums.OrderStatus, now time.Time, reason string) {
	order.Status = to
	at := now
	switch to {
	case enums.OrderStatusPaid:
		order.PaidAt = &at
	case enums.OrderStatusProcessing:
		order.ProcessingAt = &at
	case enums.OrderStatusShipped:
		order.ShippedAt = &at
	case enums.OrderStatusCancelled:
		order.CancelledAt = &at
		if reason != "" {
			order.CancelReason = &reason
		}
	case enums.OrderStatusExpired:
		order.ExpiredAt = &at
	}
}

func notificationFor(order *models.Order, transition Transition, reason string) payloads.OrderNotification {
	n := payloads.OrderNotification{
		OrderNumber:    order.OrderNumber,
		OrderType:      order.OrderType,
		Status:         transition.To,
		PreviousStatus: transition.From,
		Event:          string(transition.Event),
		Reason:         reason,
		TotalMinor:     order.TotalMinor,
		Currency:       string(order.Currency),
		CustomerName:   order.CustomerName,
		CustomerEmail:  order.CustomerEmail,
	}
	if order.PaymentReference != nil {
		n.PaymentReference = *order.PaymentReference
	}
	return n
}

func withOrderNumber(err error, orderNumber string) error {
	typed := pkgerrors.As(err)
	if typed == nil {
		return err
	}
	if details, ok := typed.Details().(IllegalTransition); ok {
		details.OrderNumber = orderNumber
		typed.WithDetails(details)
	}
	return typed
}

type txLedger struct {
	ledger *inventory.Ledger
}

// NewInventoryLedger adapts the inventory ledger to run inside order transactions.
func NewInventoryLedger(ledger *inventory.Ledger) InventoryLedger {
	return txLedger{ledger: ledger}
}

func (l txLedger) Commit(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error {
	return l.ledger.WithTx(tx).Commit(ctx, variantID, qty)
}

func (l txLedger) Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error {
	return l.ledger.WithTx(tx).Release(ctx, variantID, qty)
}
