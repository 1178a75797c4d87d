package utils

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// FetchInline downloads url and returns its media type and base64 payload,
// for backends that only accept inline binary data. The media type comes from
// the Content-Type header, falling back to content sniffing.
func FetchInline(ctx context.Context, client *http.Client, url string) (mimeType string, data string, err error) {
	httpClient := client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("error creating request: %w", err)
	}

	res, err := httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("error fetching %s: %w", url, err)
	}
	defer CloseWithLog(res.Body)

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBodySize))
	if err != nil {
		return "", "", fmt.Errorf("error reading %s: %w", url, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return "", "", &StatusError{StatusCode: res.StatusCode, Body: TruncateString(string(payload), DefaultMaxStringLength)}
	}

	mimeType, _, _ = mime.ParseMediaType(res.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType, _, _ = mime.ParseMediaType(http.DetectContentType(payload))
	}

	return mimeType, base64.StdEncoding.EncodeToString(payload), nil
}
