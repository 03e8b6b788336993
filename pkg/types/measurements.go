package types

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// Measurements maps a body measurement name (chest, waist, inseam...) to centimetres.
type Measurements map[string]decimal.Decimal

const maxMeasurementCM = 400

// Normalize lower-cases names and rejects empty names or values outside (0, 400] cm.
func (m Measurements) Normalize() (Measurements, error) {
	if len(m) == 0 {
		return nil, fmt.Errorf("at least one measurement is required")
	}
	out := make(Measurements, len(m))
	limit := decimal.NewFromInt(maxMeasurementCM)
	for name, value := range m {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return nil, fmt.Errorf("measurement name is required")
		}
		if !value.IsPositive() || value.GreaterThan(limit) {
			return nil, fmt.Errorf("measurement %q must be between 0 and %d cm", key, maxMeasurementCM)
		}
		out[key] = value.Round(1)
	}
	return out, nil
}

// Names returns the measurement names in stable order.
func (m Measurements) Names() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
