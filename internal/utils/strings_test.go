package utils

import (
	"strings"
	"testing"
)

func TestTruncateString(t *testing.T) {
	if got := TruncateString("short", 10); got != "short" {
		t.Errorf("expected untouched string, got %q", got)
	}

	got := TruncateString(strings.Repeat("a", 20), 5)
	if got != "aaaaa... (truncated, total: 20 chars)" {
		t.Errorf("unexpected truncation %q", got)
	}

	long := strings.Repeat("b", DefaultMaxStringLength+1)
	if got := TruncateString(long, 0); !strings.HasSuffix(got, "total: 501 chars)") {
		t.Errorf("expected default truncation, got %d chars", len(got))
	}
}

func TestTruncateString_RuneBoundary(t *testing.T) {
	// "é" is two bytes; a cut at 2 would split the second one.
	got := TruncateString("aéé", 2)
	if !strings.HasPrefix(got, "a...") {
		t.Errorf("expected cut before the split rune, got %q", got)
	}
}
