package validators

import (
	"strings"
	"unicode"
)

// SanitizeString trims the input, drops control characters and caps it at
// maxLen runes. Newlines are collapsed to spaces.
func SanitizeString(input string, maxLen int) string {
	return sanitize(input, maxLen, false)
}

// SanitizeText is SanitizeString for multi-line free text such as tailoring
// notes. Line breaks survive.
func SanitizeText(input string, maxLen int) string {
	return sanitize(input, maxLen, true)
}

func sanitize(input string, maxLen int, keepNewlines bool) string {
	var b strings.Builder
	b.Grow(len(input))
	for _, r := range strings.ReplaceAll(input, "\r\n", "\n") {
		switch {
		case r == '\n' && keepNewlines:
			b.WriteRune(r)
		case r == '\n' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r) || r == unicode.ReplacementChar:
		default:
			b.WriteRune(r)
		}
	}
	out := []rune(strings.TrimSpace(b.String()))
	if maxLen > 0 && len(out) > maxLen {
		out = []rune(strings.TrimSpace(string(out[:maxLen])))
	}
	return string(out)
}
