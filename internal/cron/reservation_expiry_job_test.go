package cron

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/internal/inventory"
	"github.com/stitchline/storefront-backend/internal/orders"
	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/db/dbtest"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
	"github.com/stitchline/storefront-backend/pkg/logger"
	"github.com/stitchline/storefront-backend/pkg/outbox"
)

type fakeExpiringOrders struct {
	due     []models.Order
	errs    map[uuid.UUID]error
	applied []uuid.UUID
	limit   int
}

func (f *fakeExpiringOrders) ListExpiredPending(_ context.Context, _ time.Time, limit int) ([]models.Order, error) {
	f.limit = limit
	return f.due, nil
}

func (f *fakeExpiringOrders) Apply(_ context.Context, input orders.TransitionInput) (*models.Order, error) {
	if input.Event != orders.EventReservationExpired {
		return nil, errors.New("unexpected event " + string(input.Event))
	}
	if err := f.errs[input.OrderID]; err != nil {
		return nil, err
	}
	f.applied = append(f.applied, input.OrderID)
	return &models.Order{ID: input.OrderID, Status: enums.OrderStatusExpired}, nil
}

func newExpiryJob(t *testing.T, svc expiringOrders, now time.Time) Job {
	t.Helper()
	job, err := NewReservationExpiryJob(ReservationExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}}),
		Orders: svc,
		Clock:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewReservationExpiryJob: %v", err)
	}
	return job
}

func TestReservationExpirySkipsRacedOrdersAndAggregatesFailures(t *testing.T) {
	raced := models.Order{ID: uuid.New(), OrderNumber: "ORD-20261018-RACED2"}
	broken := models.Order{ID: uuid.New(), OrderNumber: "ORD-20261018-BR0KEN"}
	fine := models.Order{ID: uuid.New(), OrderNumber: "ORD-20261018-FINE22"}
	svc := &fakeExpiringOrders{
		due: []models.Order{raced, broken, fine},
		errs: map[uuid.UUID]error{
			raced.ID:  pkgerrors.New(pkgerrors.CodeStateConflict, "order status changed concurrently"),
			broken.ID: pkgerrors.New(pkgerrors.CodeDependency, "update order status"),
		},
	}
	job := newExpiryJob(t, svc, time.Now())

	err := job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error")
	}
	if got := len(multierr.Errors(err)); got != 1 {
		t.Fatalf("expected 1 failure, got %d", got)
	}
	if !strings.Contains(err.Error(), broken.OrderNumber) {
		t.Fatalf("error should name the failed order: %v", err)
	}
	if len(svc.applied) != 1 || svc.applied[0] != fine.ID {
		t.Fatalf("expected only %s expired, got %v", fine.ID, svc.applied)
	}
	if svc.limit != defaultExpiryBatchSize {
		t.Fatalf("expected batch %d, got %d", defaultExpiryBatchSize, svc.limit)
	}
}

func TestReservationExpiryReleasesStock(t *testing.T) {
	conn := dbtest.Open(t)
	ledger, err := inventory.NewLedger(conn)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	now := time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)
	logg := logger.New(logger.Options{ServiceName: "cron-test", Output: &bytes.Buffer{}})
	outboxRepo := outbox.NewRepository(conn)
	svc, err := orders.NewService(orders.ServiceParams{
		Repository: orders.NewRepository(conn),
		TxRunner:   db.FromGorm(conn),
		Outbox:     outbox.NewService(outboxRepo, nil),
		Inventory:  orders.NewInventoryLedger(ledger),
		Logger:     logg,
		Clock:      func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("orders.NewService: %v", err)
	}
	variant := dbtest.SeedVariant(t, conn, "Adire tunic", 1500000, 3)

	place := func(expiresAt time.Time) *models.Order {
		var order *models.Order
		err := conn.Transaction(func(tx *gorm.DB) error {
			if err := ledger.WithTx(tx).Reserve(context.Background(), variant.ID, 1); err != nil {
				return err
			}
			var err error
			order, err = svc.Create(context.Background(), tx, orders.CreateInput{
				Order: &models.Order{
					CustomerName:     "Ngozi Eze",
					CustomerEmail:    "ngozi@example.com",
					ShippingLocation: "Lagos",
					Currency:         enums.CurrencyNGN,
					TotalMinor:       variant.UnitPriceMinor,
					TaxRatePercent:   "0",
					ExpiresAt:        expiresAt,
				},
				Lines: []models.OrderLine{{VariantID: variant.ID, ProductID: variant.ProductID, SKU: variant.SKU, Name: variant.Name, Quantity: 1}},
				Items: []models.ReservationItem{{VariantID: variant.ID, Quantity: 1}},
			})
			return err
		})
		if err != nil {
			t.Fatalf("place order: %v", err)
		}
		return order
	}
	stale := place(now.Add(-time.Minute))
	paid := place(now.Add(-time.Minute))
	fresh := place(now.Add(10 * time.Minute))

	if _, err := svc.Apply(context.Background(), orders.TransitionInput{OrderID: paid.ID, Event: orders.EventPaymentConfirmed}); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}

	job := newExpiryJob(t, svc, now)
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	check := func(order *models.Order, want enums.OrderStatus) {
		t.Helper()
		got, err := svc.GetByNumber(context.Background(), order.OrderNumber)
		if err != nil {
			t.Fatalf("GetByNumber: %v", err)
		}
		if got.Status != want {
			t.Fatalf("order %s: expected %s, got %s", order.OrderNumber, want, got.Status)
		}
	}
	check(stale, enums.OrderStatusExpired)
	check(paid, enums.OrderStatusPaid)
	check(fresh, enums.OrderStatusPendingPayment)

	counters, err := ledger.Get(context.Background(), variant.ID)
	if err != nil {
		t.Fatalf("ledger.Get: %v", err)
	}
	if *counters.AvailableQty != 2 || counters.ReservedQty != 1 {
		t.Fatalf("expected available=2 reserved=1, got available=%d reserved=%d", *counters.AvailableQty, counters.ReservedQty)
	}

	// a second sweep finds nothing left to do
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
}
