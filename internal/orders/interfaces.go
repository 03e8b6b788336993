package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/db/models"
	"github.com/stitchline/storefront-backend/pkg/enums"
)

// Repository defines persistence operations for orders and their reservations.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateOrder(ctx context.Context, order *models.Order) error
	CreateLines(ctx context.Context, lines []models.OrderLine) error
	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	AppendStatusEvent(ctx context.Context, event *models.OrderStatusEvent) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error)
	FindByNumber(ctx context.Context, orderNumber string) (*models.Order, error)
	FindByPaymentReference(ctx context.Context, reference string) (*models.Order, error)
	FindReservation(ctx context.Context, orderID uuid.UUID) (*models.Reservation, error)
	ListStatusEvents(ctx context.Context, orderID uuid.UUID) ([]models.OrderStatusEvent, error)
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, from, to enums.OrderStatus, updates map[string]any) (bool, error)
	ResolveReservation(ctx context.Context, orderID uuid.UUID, to enums.ReservationStatus, at time.Time) (bool, error)
	AttachPaymentSession(ctx context.Context, orderID uuid.UUID, provider, reference, sessionURL string) (bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// InventoryLedger settles reserved stock inside the caller's transaction.
type InventoryLedger interface {
	Commit(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error
	Release(ctx context.Context, tx *gorm.DB, variantID uuid.UUID, qty int) error
}
