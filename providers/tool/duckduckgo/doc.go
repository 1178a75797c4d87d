// Package duckduckgo declares a web_search function backed by the public
// DuckDuckGo Instant Answer API. No key is required; the API answers
// encyclopedic and factual queries rather than returning a ranked result
// list.
package duckduckgo
