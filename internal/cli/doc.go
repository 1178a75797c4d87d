// Package cli implements the polychat command line: an interactive chat
// REPL, one-shot completions, token counting and the browser bridge server.
package cli
