package enums

import (
	"fmt"
	"strings"
)

// Currency is the settlement currency of a storefront deployment.
type Currency string

const (
	CurrencyNGN Currency = "NGN"
	CurrencyUSD Currency = "USD"
	CurrencyGBP Currency = "GBP"
)

// MinorUnitExponent holds for every supported currency (kobo, cents, pence).
const MinorUnitExponent = 2

var currencySymbols = map[Currency]string{
	CurrencyNGN: "₦",
	CurrencyUSD: "$",
	CurrencyGBP: "£",
}

func (c Currency) String() string { return string(c) }

func (c Currency) IsValid() bool {
	_, ok := currencySymbols[c]
	return ok
}

// Symbol returns the display glyph, or the ISO code when none is known.
func (c Currency) Symbol() string {
	if sym, ok := currencySymbols[c]; ok {
		return sym
	}
	return string(c)
}

// ParseCurrency accepts ISO 4217 codes in any case.
func ParseCurrency(value string) (Currency, error) {
	c := Currency(strings.ToUpper(strings.TrimSpace(value)))
	if !c.IsValid() {
		return "", fmt.Errorf("invalid currency %q", value)
	}
	return c, nil
}
