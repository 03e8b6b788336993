package enums

import "fmt"

// OrderType distinguishes ready-made cart orders from made-to-measure submissions.
type OrderType string

const (
	OrderTypeRegular     OrderType = "regular"
	OrderTypeMeasurement OrderType = "measurement"
)

// NumberPrefix is the human-facing prefix of order numbers of this type.
func (t OrderType) NumberPrefix() string {
	if t == OrderTypeMeasurement {
		return "MSR"
	}
	return "ORD"
}

func (t OrderType) String() string {
	return string(t)
}

func (t OrderType) IsValid() bool {
	return t == OrderTypeRegular || t == OrderTypeMeasurement
}

// ParseOrderType converts raw input into an OrderType.
func ParseOrderType(value string) (OrderType, error) {
	t := OrderType(value)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid order type %q", value)
	}
	return t, nil
}
