// Package sessionlog keeps an append-only record of every completion the
// dispatcher performs, together with aggregated token usage and function
// call counts. Records are deep-copied on the way in and on the way out.
package sessionlog
