package orders

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stitchline/storefront-backend/pkg/enums"
)

const (
	numberSuffixLen = 6
	// no 0/O or 1/I so numbers read cleanly over the phone
	numberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// NewOrderNumber returns PREFIX-YYYYMMDD-XXXXXX, e.g. ORD-20261018-7Q2K9D.
func NewOrderNumber(orderType enums.OrderType, now time.Time) string {
	random := uuid.New()
	var b strings.Builder
	b.WriteString(orderType.NumberPrefix())
	b.WriteByte('-')
	b.WriteString(now.UTC().Format("20060102"))
	b.WriteByte('-')
	for i := 0; i < numberSuffixLen; i++ {
		b.WriteByte(numberAlphabet[int(random[i])%len(numberAlphabet)])
	}
	return b.String()
}
