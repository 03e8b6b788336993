package pricing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stitchline/storefront-backend/pkg/enums"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

// Line is a cart line with server-resolved catalog prices in minor units.
type Line struct {
	VariantID          uuid.UUID
	ProductID          uuid.UUID
	SKU                string
	Name               string
	UnitPriceMinor     int64
	DiscountPriceMinor *int64
	Quantity           int
}

// PricedLine is a Line with its effective price and total locked in.
type PricedLine struct {
	Line
	EffectiveUnitPriceMinor int64
	DiscountPercent         int
	LineTotalMinor          int64
}

// Snapshot is the immutable quote an order is created from.
type Snapshot struct {
	Currency                   enums.Currency
	Lines                      []PricedLine
	SubtotalMinor              int64
	DiscountMinor              int64
	ShippingLocation           string
	ShippingFeeMinor           int64
	FreeShippingThresholdMinor int64
	FreeShippingApplied        bool
	TaxRatePercent             decimal.Decimal
	TaxMinor                   int64
	TotalMinor                 int64
}

// Config is the pricing table the engine quotes against.
type Config struct {
	Currency                   enums.Currency
	ShippingFees               map[string]int64
	FreeShippingThresholdMinor int64
	TaxRatePercent             decimal.Decimal
	TaxIncludesShipping        bool
}

// Engine computes price snapshots. It is pure and safe for concurrent use.
type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) (*Engine, error) {
	if !cfg.Currency.IsValid() {
		return nil, fmt.Errorf("unsupported currency %q", cfg.Currency)
	}
	if len(cfg.ShippingFees) == 0 {
		return nil, fmt.Errorf("shipping fee table required")
	}
	fees := make(map[string]int64, len(cfg.ShippingFees))
	for location, fee := range cfg.ShippingFees {
		if fee < 0 {
			return nil, fmt.Errorf("negative shipping fee for %q", location)
		}
		fees[strings.TrimSpace(location)] = fee
	}
	if cfg.FreeShippingThresholdMinor < 0 {
		return nil, fmt.Errorf("free shipping threshold must be >= 0")
	}
	if cfg.TaxRatePercent.IsNegative() {
		return nil, fmt.Errorf("tax rate must be >= 0")
	}
	cfg.ShippingFees = fees
	return &Engine{cfg: cfg}, nil
}

// Locations lists the configured shipping locations.
func (e *Engine) Locations() []string {
	out := make([]string, 0, len(e.cfg.ShippingFees))
	for location := range e.cfg.ShippingFees {
		out = append(out, location)
	}
	return out
}

// Quote prices the lines for delivery to location. Location matching is exact
// after trimming surrounding whitespace.
func (e *Engine) Quote(lines []Line, location string) (Snapshot, error) {
	if len(lines) == 0 {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "at least one line is required")
	}

	location = strings.TrimSpace(location)
	fee, ok := e.cfg.ShippingFees[location]
	if !ok {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeUnknownShippingLocation, fmt.Sprintf("we do not ship to %q", location)).
			WithDetails(map[string]any{"location": location})
	}

	snap := Snapshot{
		Currency:                   e.cfg.Currency,
		Lines:                      make([]PricedLine, 0, len(lines)),
		ShippingLocation:           location,
		FreeShippingThresholdMinor: e.cfg.FreeShippingThresholdMinor,
		TaxRatePercent:             e.cfg.TaxRatePercent,
	}

	for _, line := range lines {
		priced, err := priceLine(line)
		if err != nil {
			return Snapshot{}, err
		}
		snap.Lines = append(snap.Lines, priced)
		snap.SubtotalMinor += priced.LineTotalMinor
		snap.DiscountMinor += (priced.UnitPriceMinor - priced.EffectiveUnitPriceMinor) * int64(priced.Quantity)
	}

	if e.cfg.FreeShippingThresholdMinor > 0 && snap.SubtotalMinor >= e.cfg.FreeShippingThresholdMinor {
		fee = 0
		snap.FreeShippingApplied = true
	}
	snap.ShippingFeeMinor = fee

	taxable := snap.SubtotalMinor
	if e.cfg.TaxIncludesShipping {
		taxable += snap.ShippingFeeMinor
	}
	snap.TaxMinor = PercentOf(taxable, e.cfg.TaxRatePercent)
	snap.TotalMinor = snap.SubtotalMinor + snap.ShippingFeeMinor + snap.TaxMinor
	return snap, nil
}

func priceLine(line Line) (PricedLine, error) {
	if line.Quantity < 1 {
		return PricedLine{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"variant_id": line.VariantID, "quantity": line.Quantity})
	}
	if line.UnitPriceMinor < 0 {
		return PricedLine{}, pkgerrors.New(pkgerrors.CodeValidation, "variant has an invalid price").
			WithDetails(map[string]any{"variant_id": line.VariantID})
	}
	effective := EffectiveUnitPrice(line.UnitPriceMinor, line.DiscountPriceMinor)
	return PricedLine{
		Line:                    line,
		EffectiveUnitPriceMinor: effective,
		DiscountPercent:         DiscountPercent(line.UnitPriceMinor, line.DiscountPriceMinor),
		LineTotalMinor:          effective * int64(line.Quantity),
	}, nil
}

// EffectiveUnitPrice returns the discount price when it is a real reduction of
// the unit price, otherwise the unit price.
func EffectiveUnitPrice(unit int64, discount *int64) int64 {
	if validDiscount(unit, discount) {
		return *discount
	}
	return unit
}

// DiscountPercent returns the whole-percent reduction the discount represents,
// rounded half-up. Absent or non-reducing discounts yield 0.
func DiscountPercent(unit int64, discount *int64) int {
	if !validDiscount(unit, discount) {
		return 0
	}
	off := decimal.NewFromInt(unit - *discount).
		Mul(decimal.NewFromInt(100)).
		Div(decimal.NewFromInt(unit)).
		Round(0)
	return int(off.IntPart())
}

func validDiscount(unit int64, discount *int64) bool {
	return discount != nil && *discount >= 0 && *discount < unit
}

// PercentOf returns rate% of amount in minor units rounded half-up.
func PercentOf(amount int64, rate decimal.Decimal) int64 {
	if amount <= 0 || !rate.IsPositive() {
		return 0
	}
	// Round rounds half away from zero, which is half-up for positive amounts.
	return decimal.NewFromInt(amount).Mul(rate).Div(decimal.NewFromInt(100)).Round(0).IntPart()
}
