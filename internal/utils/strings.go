package utils

import (
	"fmt"
	"unicode/utf8"
)

// DefaultMaxStringLength is the cut used when no positive length is given.
const DefaultMaxStringLength = 500

// TruncateString cuts s to at most maxLen bytes for logs and previews,
// backing off to a rune boundary, and notes the original length.
func TruncateString(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultMaxStringLength
	}
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return fmt.Sprintf("%s... (truncated, total: %d chars)", s[:cut], len(s))
}
