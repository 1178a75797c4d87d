package utils

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// pngHeader is enough of a PNG signature for content sniffing.
var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}

func TestFetchInline(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		wantMIME    string
	}{
		{name: "header wins", contentType: "image/jpeg; charset=binary", wantMIME: "image/jpeg"},
		{name: "sniffed when generic", contentType: "application/octet-stream", wantMIME: "image/png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.Write(pngHeader)
			}))
			defer server.Close()

			mimeType, data, err := FetchInline(context.Background(), server.Client(), server.URL)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if mimeType != tt.wantMIME {
				t.Errorf("expected %q, got %q", tt.wantMIME, mimeType)
			}
			if data != base64.StdEncoding.EncodeToString(pngHeader) {
				t.Errorf("unexpected payload %q", data)
			}
		})
	}
}

func TestFetchInline_NotFound(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	_, _, err := FetchInline(context.Background(), server.Client(), server.URL)
	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 StatusError, got %v", err)
	}
}
