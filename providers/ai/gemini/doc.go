// Package gemini adapts the shared message model to Google's Gemini REST API.
//
// Requests go to models/{model}:streamGenerateContent with alt=sse and the
// key in the x-goog-api-key header. Remote images are downloaded and sent
// inline because the API only fetches Google-hosted file URIs. Token counting
// goes through the official google.golang.org/genai SDK.
//
// Environment variables read by [New]:
//   - GEMINI_API_KEY: API key for authentication
//   - GEMINI_API_BASE_URL: base URL including the API version (optional)
package gemini
