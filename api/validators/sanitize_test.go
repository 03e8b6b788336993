package validators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeString(t *testing.T) {
	assert.Equal(t, "changed my mind", SanitizeString("  changed my\nmind \x00", 0))
	assert.Equal(t, "tab sep", SanitizeString("tab\tsep", 0))
	assert.Equal(t, "abc", SanitizeString("abcdef", 3))
	assert.Equal(t, "", SanitizeString(" \x07 ", 10))
}

func TestSanitizeStringTrimsBeforeTruncating(t *testing.T) {
	assert.Equal(t, "abc", SanitizeString("  abcdef ", 3))
	assert.Equal(t, "hello", SanitizeString(" hello ", 0))
}

func TestSanitizeStringCountsRunes(t *testing.T) {
	got := SanitizeString("\u00e0b\u00fal\u00e9", 3)
	assert.Equal(t, "\u00e0b\u00fa", got)
}

func TestSanitizeTextKeepsLines(t *testing.T) {
	got := SanitizeText("  slim fit\r\nextra cuff room \x1b ", 0)
	assert.Equal(t, "slim fit\nextra cuff room", got)
	assert.Equal(t, "slim", SanitizeText("slim \nfit", 5))
}
