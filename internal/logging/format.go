package logging

import "strings"

// Format is a log output format.
type Format string

const (
	// FormatCompact prints one line per record with the attributes as a
	// JSON object:
	//	2026-10-18 10:40:35  INFO dispatch → {"provider":"openai"}
	FormatCompact Format = "compact"

	// FormatPretty prints the attributes below the message, one per line.
	FormatPretty Format = "pretty"

	// FormatJSON prints one JSON object per record.
	FormatJSON Format = "json"
)

// ParseFormat maps a name to a Format. Unknown names yield FormatCompact.
func ParseFormat(s string) Format {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatPretty:
		return FormatPretty
	case FormatJSON:
		return FormatJSON
	default:
		return FormatCompact
	}
}

// FormatFromEnv reads POLYCHAT_LOG_FORMAT, then LOG_FORMAT.
func FormatFromEnv() Format {
	return ParseFormat(firstEnv("POLYCHAT_LOG_FORMAT", "LOG_FORMAT"))
}

func (f Format) String() string {
	return string(f)
}
