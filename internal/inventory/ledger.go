package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/pkg/db"
	"github.com/stitchline/storefront-backend/pkg/db/models"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

const (
	defaultMaxRetries  = 4
	defaultBaseBackoff = 15 * time.Millisecond
	defaultMaxBackoff  = 250 * time.Millisecond
)

// Ledger owns the reserved/available counters on product_variants. Every
// operation is one conditional UPDATE; concurrent callers serialise in the
// database, never in the application.
type Ledger struct {
	db      *gorm.DB
	inTx    bool
	backoff func() retry.Backoff
}

type Option func(*Ledger)

// WithBackoff overrides the retry policy applied to transient storage conflicts.
func WithBackoff(fn func() retry.Backoff) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.backoff = fn
		}
	}
}

func NewLedger(conn *gorm.DB, opts ...Option) (*Ledger, error) {
	if conn == nil {
		return nil, fmt.Errorf("db required")
	}
	l := &Ledger{db: conn, backoff: defaultBackoff}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func defaultBackoff() retry.Backoff {
	b := retry.NewExponential(defaultBaseBackoff)
	b = retry.WithCappedDuration(defaultMaxBackoff, b)
	b = retry.WithJitterPercent(20, b)
	return retry.WithMaxRetries(defaultMaxRetries, b)
}

// WithTx binds the ledger to a caller transaction. Storage conflicts inside a
// caller transaction are not retried here; the transaction owner decides.
func (l *Ledger) WithTx(tx *gorm.DB) *Ledger {
	if tx == nil {
		return l
	}
	return &Ledger{db: tx, inTx: true, backoff: l.backoff}
}

// Reserve holds qty units of the variant if at least qty are sellable.
func (l *Ledger) Reserve(ctx context.Context, variantID uuid.UUID, qty int) error {
	if err := validateQty(variantID, qty); err != nil {
		return err
	}
	affected, err := l.exec(ctx, "reserve inventory", `
		UPDATE product_variants
		SET reserved_qty = reserved_qty + ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND available_qty IS NOT NULL AND available_qty - reserved_qty >= ?
	`, qty, variantID, qty)
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}
	return l.explainReserveMiss(ctx, variantID, qty)
}

// Commit permanently consumes qty previously reserved units.
func (l *Ledger) Commit(ctx context.Context, variantID uuid.UUID, qty int) error {
	if err := validateQty(variantID, qty); err != nil {
		return err
	}
	affected, err := l.exec(ctx, "commit inventory", `
		UPDATE product_variants
		SET available_qty = available_qty - ?,
			reserved_qty = reserved_qty - ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved_qty >= ? AND available_qty >= ?
	`, qty, qty, variantID, qty, qty)
	if err != nil {
		return err
	}
	if affected != 1 {
		return counterMismatch("commit", variantID, qty)
	}
	return nil
}

// Release returns qty reserved units to the sellable pool.
func (l *Ledger) Release(ctx context.Context, variantID uuid.UUID, qty int) error {
	if err := validateQty(variantID, qty); err != nil {
		return err
	}
	affected, err := l.exec(ctx, "release inventory", `
		UPDATE product_variants
		SET reserved_qty = reserved_qty - ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND reserved_qty >= ?
	`, qty, variantID, qty)
	if err != nil {
		return err
	}
	if affected != 1 {
		return counterMismatch("release", variantID, qty)
	}
	return nil
}

// Get loads the variant counters.
func (l *Ledger) Get(ctx context.Context, variantID uuid.UUID) (*models.ProductVariant, error) {
	var variant models.ProductVariant
	err := l.db.WithContext(ctx).Where("id = ?", variantID).First(&variant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "variant not found").
			WithDetails(map[string]any{"variant_id": variantID})
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variant")
	}
	return &variant, nil
}

// Sellable returns available minus reserved for the variant.
func (l *Ledger) Sellable(ctx context.Context, variantID uuid.UUID) (int, error) {
	variant, err := l.Get(ctx, variantID)
	if err != nil {
		return 0, err
	}
	return variant.Sellable(), nil
}

func (l *Ledger) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	run := func(ctx context.Context) (int64, error) {
		res := l.db.WithContext(ctx).Exec(query, args...)
		if res.Error != nil {
			if !l.inTx && db.IsTransient(res.Error) {
				return 0, retry.RetryableError(res.Error)
			}
			return 0, res.Error
		}
		return res.RowsAffected, nil
	}

	affected, err := retry.DoValue(ctx, l.backoff(), run)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, op)
	}
	return affected, nil
}

func (l *Ledger) explainReserveMiss(ctx context.Context, variantID uuid.UUID, qty int) error {
	variant, err := l.Get(ctx, variantID)
	if err != nil {
		return err
	}
	if variant.AvailableQty == nil {
		return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, ErrInsufficientStock, fmt.Sprintf("%s is currently unavailable", variant.Name)).
			WithDetails(Shortage{VariantID: variantID, Name: variant.Name, Requested: qty, Sellable: 0})
	}
	return pkgerrors.Wrap(pkgerrors.CodeInsufficientStock, ErrInsufficientStock, fmt.Sprintf("not enough %s in stock", variant.Name)).
		WithDetails(Shortage{VariantID: variantID, Name: variant.Name, Requested: qty, Sellable: variant.Sellable()})
}

func validateQty(variantID uuid.UUID, qty int) error {
	if variantID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "variant id required")
	}
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be positive").
			WithDetails(map[string]any{"variant_id": variantID, "quantity": qty})
	}
	return nil
}

func counterMismatch(op string, variantID uuid.UUID, qty int) error {
	return pkgerrors.Wrap(pkgerrors.CodeStateConflict, ErrCounterMismatch, fmt.Sprintf("%s of %d units would break inventory counters", op, qty)).
		WithDetails(map[string]any{"variant_id": variantID, "quantity": qty})
}
