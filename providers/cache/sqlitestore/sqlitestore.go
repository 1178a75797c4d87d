// Package sqlitestore is a cache.Store backed by a local SQLite file through
// the pure-Go modernc.org/sqlite driver.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/leofalp/polychat/providers/cache"
)

const schema = `CREATE TABLE IF NOT EXISTS response_cache (
    key         TEXT PRIMARY KEY,
    response    TEXT NOT NULL,
    obtained_at INTEGER NOT NULL
)`

// Store is safe for concurrent use; SQLite serializes writers on its single
// connection.
type Store struct {
	db *sql.DB
}

var _ cache.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path. ":memory:" gives a
// private in-memory database that lives as long as the Store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", path, err)
	}

	// One connection keeps ":memory:" databases alive and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitestore: create table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	var encoded string
	var obtainedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT response, obtained_at FROM response_cache WHERE key = ?", key,
	).Scan(&encoded, &obtainedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get: %w", err)
	}

	response, err := cache.DecodeResponse(encoded)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{Response: response, ObtainedAt: time.UnixMilli(obtainedAt).UTC()}, nil
}

func (s *Store) Put(ctx context.Context, key string, entry cache.Entry) error {
	encoded, err := cache.EncodeResponse(entry.Response)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO response_cache (key, response, obtained_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET response = excluded.response, obtained_at = excluded.obtained_at`,
		key, encoded, entry.ObtainedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: put: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}
