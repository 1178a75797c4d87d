package pgstore

import (
	"context"
	"fmt"
)

// createTableSQL keeps the response as JSONB so it can be inspected in place.
const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
    cache_key   TEXT PRIMARY KEY,
    response    JSONB NOT NULL,
    obtained_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// EnsureSchema creates the cache table if it does not already exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(createTableSQL, s.tableName)); err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}
	return nil
}
