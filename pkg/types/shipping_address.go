package types

import "strings"

// ShippingAddress is the delivery address captured at checkout. The pricing
// location is carried separately so fees never depend on free-text parsing.
type ShippingAddress struct {
	Line1      string  `json:"line1" validate:"required,max=200"`
	Line2      *string `json:"line2,omitempty" validate:"omitempty,max=200"`
	City       string  `json:"city" validate:"required,max=100"`
	State      string  `json:"state" validate:"required,max=100"`
	PostalCode string  `json:"postal_code,omitempty" validate:"omitempty,max=20"`
	Country    string  `json:"country" validate:"required,len=2"`
}

// Normalize trims whitespace and upper-cases the country code.
func (a ShippingAddress) Normalize() ShippingAddress {
	a.Line1 = strings.TrimSpace(a.Line1)
	a.City = strings.TrimSpace(a.City)
	a.State = strings.TrimSpace(a.State)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	if a.Line2 != nil {
		trimmed := strings.TrimSpace(*a.Line2)
		if trimmed == "" {
			a.Line2 = nil
		} else {
			a.Line2 = &trimmed
		}
	}
	return a
}
