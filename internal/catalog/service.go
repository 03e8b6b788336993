package catalog

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/stitchline/storefront-backend/internal/pricing"
	"github.com/stitchline/storefront-backend/pkg/checkout"
	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

// Resolver turns normalized cart lines into priced catalog lines.
type Resolver interface {
	Resolve(ctx context.Context, tx *gorm.DB, lines []checkout.LineInput) ([]pricing.Line, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Resolver, error) {
	if repo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	return &service{repo: repo}, nil
}

// Resolve loads current prices for every line. Client supplied prices never
// enter the quote. Unknown variants fail the whole cart.
func (s *service) Resolve(ctx context.Context, tx *gorm.DB, lines []checkout.LineInput) ([]pricing.Line, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.VariantID)
	}
	variants, err := s.repo.WithTx(tx).FindVariants(ctx, ids)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load variants")
	}
	byID := make(map[uuid.UUID]int, len(variants))
	for i := range variants {
		byID[variants[i].ID] = i
	}

	out := make([]pricing.Line, 0, len(lines))
	var unknown []uuid.UUID
	for _, line := range lines {
		idx, ok := byID[line.VariantID]
		if !ok {
			unknown = append(unknown, line.VariantID)
			continue
		}
		v := variants[idx]
		out = append(out, pricing.Line{
			VariantID:          v.ID,
			ProductID:          v.ProductID,
			SKU:                v.SKU,
			Name:               v.Name,
			UnitPriceMinor:     v.UnitPriceMinor,
			DiscountPriceMinor: v.DiscountPriceMinor,
			Quantity:           line.Quantity,
		})
	}
	if len(unknown) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d item(s) are no longer available", len(unknown))).
			WithDetails(map[string]any{"unknown_variant_ids": unknown})
	}
	return out, nil
}
