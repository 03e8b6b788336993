package enums

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCurrencyNormalizesCase(t *testing.T) {
	c, err := ParseCurrency(" ngn ")
	require.NoError(t, err)
	assert.Equal(t, CurrencyNGN, c)
	assert.Equal(t, "₦", c.Symbol())

	_, err = ParseCurrency("EUR")
	assert.Error(t, err)
	assert.Equal(t, "EUR", Currency("EUR").Symbol())
}
