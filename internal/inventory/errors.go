package inventory

import (
	"errors"

	"github.com/google/uuid"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrCounterMismatch means a commit or release found fewer reserved units
	// than the reservation claims. It indicates a bug, never a business outcome.
	ErrCounterMismatch = errors.New("inventory counter mismatch")
)

// Shortage describes one variant that could not be reserved. Sellable is read
// after the failed update, so under contention it is a hint, not the count
// the update saw.
type Shortage struct {
	VariantID uuid.UUID `json:"variant_id"`
	Name      string    `json:"name"`
	Requested int       `json:"requested"`
	Sellable  int       `json:"sellable"`
}
