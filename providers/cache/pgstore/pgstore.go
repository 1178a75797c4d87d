package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/leofalp/polychat/providers/cache"
)

// defaultTableName is the PostgreSQL table used when no custom name is provided.
const defaultTableName = "polychat_response_cache"

// Querier abstracts the pgx query methods needed by Store.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements [cache.Store] on a single table keyed by cache key.
// Concurrent writers to the same key resolve by last write wins through the
// upsert.
type Store struct {
	db        Querier
	tableName string
}

var _ cache.Store = (*Store)(nil)

// Option configures optional Store behavior.
type Option func(*Store)

// WithTableName overrides the default table name. The name is sanitized via
// pgx.Identifier since it is interpolated into queries.
func WithTableName(name string) Option {
	return func(s *Store) {
		s.tableName = pgx.Identifier{name}.Sanitize()
	}
}

// New creates a Store over db.
func New(db Querier, opts ...Option) *Store {
	store := &Store{
		db:        db,
		tableName: defaultTableName,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) Get(ctx context.Context, key string) (*cache.Entry, error) {
	query := fmt.Sprintf(`SELECT response, obtained_at FROM %s WHERE cache_key = $1`, s.tableName)

	var encoded string
	var obtainedAt time.Time
	err := s.db.QueryRow(ctx, query, key).Scan(&encoded, &obtainedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: get: %w", err)
	}

	response, err := cache.DecodeResponse(encoded)
	if err != nil {
		return nil, err
	}
	return &cache.Entry{Response: response, ObtainedAt: obtainedAt}, nil
}

func (s *Store) Put(ctx context.Context, key string, entry cache.Entry) error {
	encoded, err := cache.EncodeResponse(entry.Response)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s (cache_key, response, obtained_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (cache_key) DO UPDATE SET response = EXCLUDED.response, obtained_at = EXCLUDED.obtained_at`, s.tableName)

	if _, err := s.db.Exec(ctx, query, key, encoded, entry.ObtainedAt); err != nil {
		return fmt.Errorf("pgstore: put: %w", err)
	}
	return nil
}
