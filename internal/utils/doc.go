// Package utils holds the low-level helpers shared by the backend adapters
// and tools: JSON POST calls (plain and event stream), inline media
// fetching, lenient JSON decoding and log truncation.
package utils
