// Package logging builds the slog.Logger used by the polychat binaries.
//
// Three formats are available: compact (one line, JSON attributes), pretty
// (one attribute per line) and json. Format and level default to the
// POLYCHAT_LOG_FORMAT and POLYCHAT_LOG_LEVEL environment variables, falling
// back to LOG_FORMAT and LOG_LEVEL.
package logging
