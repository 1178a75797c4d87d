// Package pgstore provides a PostgreSQL-backed [cache.Store] so cached
// responses survive restarts and can be shared by several processes. It uses
// pgx/v5; any *pgxpool.Pool, *pgx.Conn or pgx.Tx can be injected as the
// [Querier].
//
// Use [Store.EnsureSchema] during development to create the table;
// production deployments should manage migrations with dedicated tooling.
package pgstore
