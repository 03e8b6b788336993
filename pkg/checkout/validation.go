package checkout

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"

	pkgerrors "github.com/stitchline/storefront-backend/pkg/errors"
)

// MaxQuantityPerLine caps a single merged cart line.
const MaxQuantityPerLine = 100

// LineInput is one cart line as submitted by the shopper.
type LineInput struct {
	VariantID uuid.UUID
	Quantity  int
}

// LineViolationDetail exposes the data returned to callers when a line is rejected.
type LineViolationDetail struct {
	Index     int       `json:"index"`
	VariantID uuid.UUID `json:"variant_id"`
	Quantity  int       `json:"quantity"`
	Reason    string    `json:"reason"`
}

// NormalizeLines validates every line, merges repeated variants and returns
// the result ordered by variant id. All violations are reported together.
func NormalizeLines(lines []LineInput, maxLines int) ([]LineInput, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}
	if maxLines > 0 && len(lines) > maxLines {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("cart may contain at most %d lines", maxLines)).
			WithDetails(map[string]any{"max_lines": maxLines, "lines": len(lines)})
	}

	var violations []LineViolationDetail
	merged := make(map[uuid.UUID]int, len(lines))
	for i, line := range lines {
		switch {
		case line.VariantID == uuid.Nil:
			violations = append(violations, LineViolationDetail{Index: i, Quantity: line.Quantity, Reason: "variant_id is required"})
		case line.Quantity < 1:
			violations = append(violations, LineViolationDetail{Index: i, VariantID: line.VariantID, Quantity: line.Quantity, Reason: "quantity must be at least 1"})
		default:
			merged[line.VariantID] += line.Quantity
		}
	}
	for variantID, qty := range merged {
		if qty > MaxQuantityPerLine {
			violations = append(violations, LineViolationDetail{Index: -1, VariantID: variantID, Quantity: qty, Reason: fmt.Sprintf("quantity may not exceed %d", MaxQuantityPerLine)})
		}
	}
	if len(violations) > 0 {
		sort.SliceStable(violations, func(i, j int) bool { return violations[i].Index < violations[j].Index })
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("%d cart line(s) are invalid", len(violations))).WithDetails(map[string]any{
			"violations": violations,
		})
	}

	out := make([]LineInput, 0, len(merged))
	for variantID, qty := range merged {
		out = append(out, LineInput{VariantID: variantID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].VariantID[:], out[j].VariantID[:]) < 0
	})
	return out, nil
}
