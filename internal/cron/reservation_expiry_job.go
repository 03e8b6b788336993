package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
)

const defaultExpiryBatchSize = 200

// expiringOrders is the slice of the orders service the sweeper needs.
type expiringOrders interface {
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	Apply(ctx context.Context, input orders.TransitionInput) (*models.Order, error)
}

// ReservationExpiryJobParams configure the reservation sweeper.
type ReservationExpiryJobParams struct {
	Logger    *logger.Logger
	Orders    expiringOrders
	BatchSize int
	Clock     func() time.Time
}

// NewReservationExpiryJob builds the job that expires unpaid orders whose
// reservation has run out and returns their stock.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("orders service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultExpiryBatchSize
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &reservationExpiryJob{
		logg:   params.Logger,
		orders: params.Orders,
		batch:  batch,
		now:    clock,
	}, nil
}

type reservationExpiryJob struct {
	logg   *logger.Logger
	orders expiringOrders
	batch  int
	now    func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

// Run expires one batch. Orders a payment webhook moved first are skipped;
// any other failure is collected and the rest of the batch still runs.
func (j *reservationExpiryJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	due, err := j.orders.ListExpiredPending(ctx, now, j.batch)
	if err != nil {
		return fmt.Errorf("list expired orders: %w", err)
	}

	var (
		errs    error
		expired int
		raced   int
	)
	for _, order := range due {
		orderCtx := j.logg.WithOrderNumber(ctx, order.OrderNumber)
		_, err := j.orders.Apply(orderCtx, orders.TransitionInput{
			OrderID: order.ID,
			Event:   orders.EventReservationExpired,
			Reason:  "reservation expired before payment",
			Actor:   outbox.SystemActor(),
		})
		switch {
		case err == nil:
			expired++
		case pkgerrors.IsCode(err, pkgerrors.CodeStateConflict):
			raced++
			j.logg.Info(orderCtx, "order left pending_payment before expiry; skipped")
		default:
			j.logg.Error(orderCtx, "expire order", err)
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", order.OrderNumber, err))
		}
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"due":     len(due),
		"expired": expired,
		"skipped": raced,
		"failed":  len(multierr.Errors(errs)),
	})
	j.logg.Info(logCtx, "reservation expiry sweep complete")
	return errs
}
