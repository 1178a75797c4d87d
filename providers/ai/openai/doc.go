// Package openai adapts the shared message model to OpenAI-compatible
// /chat/completions endpoints.
//
// The main entry point is [New], which reads OPENAI_API_KEY and
// OPENAI_API_BASE_URL from the environment and detects host capabilities for
// well-known deployments (OpenAI, Azure, Ollama, OpenRouter). Requests stream
// over SSE when the host supports it and fall back to a synchronous call
// replayed as a single-event stream otherwise.
package openai
