package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/stitchline/storefront-backend/pkg/enums"
)

// MinorToMajor converts an amount in minor units to a major-unit decimal.
func MinorToMajor(amount int64) decimal.Decimal {
	return decimal.New(amount, -enums.MinorUnitExponent)
}

// MajorString renders minor units as a fixed two-decimal string, e.g. 150050 -> "1500.50".
func MajorString(amount int64) string {
	return MinorToMajor(amount).StringFixed(enums.MinorUnitExponent)
}

// Format renders an amount for display with the currency symbol. Currencies
// without a known symbol fall back to "<CODE> 1500.50".
func Format(amount int64, currency enums.Currency) string {
	sym := currency.Symbol()
	if sym == currency.String() {
		return sym + " " + MajorString(amount)
	}
	return sym + MajorString(amount)
}
