package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxResponseBodySize caps how much of a response body is buffered (10 MB).
const maxResponseBodySize int64 = 10 * 1024 * 1024

// HeaderOption is an extra request header applied after the defaults, so it
// can override Authorization for providers with their own key header.
type HeaderOption struct {
	Key   string
	Value string
}

// H is shorthand for a HeaderOption.
func H(key, value string) HeaderOption {
	return HeaderOption{Key: key, Value: value}
}

// StatusError reports a non-2xx HTTP response. Body holds at most
// maxResponseBodySize bytes of the response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("non-2xx status %d: %s", e.StatusCode, e.Body)
}

// CloseWithLog closes c and logs a warning when closing fails.
func CloseWithLog(c io.Closer) {
	if err := c.Close(); err != nil {
		slog.Warn("failed to close response body", "error", err.Error())
	}
}

// postJSON sends body as a JSON POST and returns the response with its body
// still open. Non-2xx responses are drained, closed and turned into a
// *StatusError.
func postJSON(ctx context.Context, client *http.Client, url, apiKey string, body any, headers []HeaderOption, accept string) (*http.Response, error) {
	if client == nil {
		client = http.DefaultClient
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for _, header := range headers {
		req.Header.Set(header.Key, header.Value)
	}

	start := time.Now()
	res, err := client.Do(req)
	if err != nil {
		slog.DebugContext(ctx, "http request failed", "url", url, "error", err, "duration", time.Since(start))
		return res, fmt.Errorf("send request: %w", err)
	}
	slog.DebugContext(ctx, "http response headers received",
		"url", url,
		"status", res.StatusCode,
		"request_size", len(payload),
		"duration", time.Since(start),
	)

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer CloseWithLog(res.Body)
		data, readErr := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
		if readErr != nil {
			return res, &StatusError{StatusCode: res.StatusCode, Body: fmt.Sprintf("(failed to read body: %v)", readErr)}
		}
		return res, &StatusError{StatusCode: res.StatusCode, Body: string(data)}
	}
	return res, nil
}

// DoPostSync posts body as JSON and decodes a 2xx response into T.
// Transport errors are wrapped so errors.Is still matches context errors.
func DoPostSync[T any](ctx context.Context, client *http.Client, url string, apiKey string, body any, headers ...HeaderOption) (*http.Response, *T, error) {
	res, err := postJSON(ctx, client, url, apiKey, body, headers, "")
	if err != nil {
		return res, nil, err
	}
	defer CloseWithLog(res.Body)

	data, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return res, nil, fmt.Errorf("read response body: %w", err)
	}

	var out T
	if err := json.Unmarshal(data, &out); err != nil {
		return res, nil, fmt.Errorf("decode response body (status %d): %w; body: %s", res.StatusCode, err, TruncateString(string(data), DefaultMaxStringLength))
	}
	return res, &out, nil
}

// DoPostStream posts body as JSON asking for an event stream. On success the
// body is left open for the caller, who must close it.
func DoPostStream(ctx context.Context, client *http.Client, url string, apiKey string, body any, headers ...HeaderOption) (*http.Response, error) {
	return postJSON(ctx, client, url, apiKey, body, headers, "text/event-stream")
}
