package inventory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/db/models"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

func TestReserveReleaseScenario(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	ctx := context.Background()
	variant := seedVariant(t, conn, intPtr(5), 0)

	require.NoError(t, ledger.Reserve(ctx, variant.ID, 3))
	assertSellable(t, ledger, variant.ID, 2)

	err := ledger.Reserve(ctx, variant.ID, 3)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
	assert.True(t, errors.Is(err, ErrInsufficientStock))
	shortage, ok := pkgerrors.As(err).Details().(Shortage)
	require.True(t, ok)
	assert.Equal(t, 2, shortage.Sellable)
	assert.Equal(t, 3, shortage.Requested)
	assert.Equal(t, "not enough Agbada, indigo in stock", pkgerrors.As(err).Message())

	require.NoError(t, ledger.Release(ctx, variant.ID, 3))
	assertSellable(t, ledger, variant.ID, 5)
}

func TestCommitConsumesStock(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	ctx := context.Background()
	variant := seedVariant(t, conn, intPtr(4), 0)

	require.NoError(t, ledger.Reserve(ctx, variant.ID, 3))
	require.NoError(t, ledger.Commit(ctx, variant.ID, 3))

	got, err := ledger.Get(ctx, variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, *got.AvailableQty)
	assert.Equal(t, 0, got.ReservedQty)
	assert.Equal(t, int64(2), got.Version)
}

func TestReleaseWithoutReservationIsCounterMismatch(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	variant := seedVariant(t, conn, intPtr(4), 1)

	err := ledger.Release(context.Background(), variant.ID, 2)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCounterMismatch))
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	err = ledger.Commit(context.Background(), variant.ID, 2)
	assert.True(t, errors.Is(err, ErrCounterMismatch))
}

func TestReserveUnknownAvailabilityBlocksPurchase(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	variant := seedVariant(t, conn, nil, 0)

	err := ledger.Reserve(context.Background(), variant.ID, 1)
	require.Error(t, err)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock))
}

func TestReserveMissingVariant(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)

	err := ledger.Reserve(context.Background(), uuid.New(), 1)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestReserveRejectsNonPositiveQuantity(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	variant := seedVariant(t, conn, intPtr(4), 0)

	for _, qty := range []int{0, -1} {
		err := ledger.Reserve(context.Background(), variant.ID, qty)
		assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	}
}

func TestReserveNoOversellUnderConcurrency(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	variant := seedVariant(t, conn, intPtr(7), 0)

	const callers = 60
	var (
		wg        sync.WaitGroup
		succeeded atomic.Int64
		short     atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := ledger.Reserve(context.Background(), variant.ID, 1)
			switch {
			case err == nil:
				succeeded.Add(1)
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				short.Add(1)
			default:
				t.Errorf("unexpected reserve error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(7), succeeded.Load())
	assert.Equal(t, int64(callers-7), short.Load())

	got, err := ledger.Get(context.Background(), variant.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.ReservedQty)
	assert.Equal(t, 0, got.Sellable())
}

func TestWithTxRollsBackReservations(t *testing.T) {
	conn := newTestDB(t)
	ledger := newTestLedger(t, conn)
	variant := seedVariant(t, conn, intPtr(3), 0)

	err := conn.Transaction(func(tx *gorm.DB) error {
		if err := ledger.WithTx(tx).Reserve(context.Background(), variant.ID, 2); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.Error(t, err)
	assertSellable(t, ledger, variant.ID, 3)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, conn.AutoMigrate(&models.ProductVariant{}))
	return conn
}

func newTestLedger(t *testing.T, conn *gorm.DB) *Ledger {
	t.Helper()
	ledger, err := NewLedger(conn)
	require.NoError(t, err)
	return ledger
}

func seedVariant(t *testing.T, conn *gorm.DB, available *int, reserved int) models.ProductVariant {
	t.Helper()
	variant := models.ProductVariant{
		ProductID:      uuid.New(),
		SKU:            "SKU-" + uuid.NewString()[:8],
		Name:           "Agbada, indigo",
		UnitPriceMinor: 4500000,
		AvailableQty:   available,
		ReservedQty:    reserved,
	}
	require.NoError(t, conn.Create(&variant).Error)
	return variant
}

func assertSellable(t *testing.T, ledger *Ledger, id uuid.UUID, want int) {
	t.Helper()
	got, err := ledger.Sellable(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func intPtr(v int) *int { return &v }
