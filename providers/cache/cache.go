// Package cache defines the response cache used by the completion
// dispatcher. Entries are keyed by the exact model and conversation that
// produced them; there is no expiry and the last write for a key wins.
//
// Implementations live in the sub-packages memstore, sqlitestore, pgstore
// and mongostore.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/leofalp/polychat/providers/ai"
)

// Entry is one cached response.
type Entry struct {
	Response   *ai.Response `json:"response"`
	ObtainedAt time.Time    `json:"obtained_at"`
}

// Store persists entries. Get returns (nil, nil) on a miss.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, entry Entry) error
}

type keyMaterial struct {
	Model string    `json:"model"`
	Turns []ai.Turn `json:"turns"`
}

// Key returns the hex SHA-256 of the canonical JSON encoding of model and
// turns. Function arguments keep their declared order and nested maps are
// sorted by encoding/json, so equal conversations always hash equally.
func Key(model string, turns []ai.Turn) (string, error) {
	encoded, err := json.Marshal(keyMaterial{Model: model, Turns: turns})
	if err != nil {
		return "", fmt.Errorf("cache: encoding key material: %w", err)
	}
	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:]), nil
}

// EncodeResponse serializes a response for stores that keep it as text.
func EncodeResponse(response *ai.Response) (string, error) {
	encoded, err := json.Marshal(response)
	if err != nil {
		return "", fmt.Errorf("cache: encoding response: %w", err)
	}
	return string(encoded), nil
}

// DecodeResponse is the inverse of EncodeResponse.
func DecodeResponse(encoded string) (*ai.Response, error) {
	var response ai.Response
	if err := json.Unmarshal([]byte(encoded), &response); err != nil {
		return nil, fmt.Errorf("cache: decoding response: %w", err)
	}
	return &response, nil
}
