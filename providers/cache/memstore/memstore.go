// Package memstore is a process-local cache.Store.
package memstore

import (
	"context"
	"sync"

	"github.com/leofalp/polychat/providers/cache"
)

// Store keeps entries in a map guarded by an RWMutex. Responses are cloned on
// the way in and out so callers never share state with the cache.
type Store struct {
	mu      sync.RWMutex
	entries map[string]cache.Entry
}

var _ cache.Store = (*Store)(nil)

// New returns an empty Store.
func New() *Store {
	return &Store{entries: map[string]cache.Entry{}}
}

func (s *Store) Get(_ context.Context, key string) (*cache.Entry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	entry.Response = entry.Response.Clone()
	return &entry, nil
}

func (s *Store) Put(_ context.Context, key string, entry cache.Entry) error {
	entry.Response = entry.Response.Clone()
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Len returns the number of cached entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
