package kvstore

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS bridge_kv (
	key   TEXT PRIMARY KEY,
	value BYTEA NOT NULL
)`

// PostgresKVStore is a Postgres-backed KVStore implementation.
type PostgresKVStore struct {
	pool *pgxpool.Pool
}

// NewPostgresKVStore connects to Postgres with the given DSN and ensures the
// backing table exists.
func NewPostgresKVStore(ctx context.Context, dsn string) (*PostgresKVStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Postgres connection pool")
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "failed to create bridge_kv table")
	}

	return &PostgresKVStore{pool: pool}, nil
}

// Get returns the value for key, or (nil, nil) if the key is absent.
func (s *PostgresKVStore) Get(key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(context.Background(), `SELECT value FROM bridge_kv WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key")
	}
	return value, nil
}

// Set stores value under key, replacing any existing value.
func (s *PostgresKVStore) Set(key string, value []byte) error {
	_, err := s.pool.Exec(context.Background(),
		`INSERT INTO bridge_kv (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	if err != nil {
		return errors.Wrap(err, "failed to write key")
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *PostgresKVStore) Delete(key string) error {
	if _, err := s.pool.Exec(context.Background(), `DELETE FROM bridge_kv WHERE key = $1`, key); err != nil {
		return errors.Wrap(err, "failed to delete key")
	}
	return nil
}

// ListKeys returns a sorted page of keys.
func (s *PostgresKVStore) ListKeys(page, perPage int) ([]string, error) {
	rows, err := s.pool.Query(context.Background(),
		`SELECT key FROM bridge_kv ORDER BY key LIMIT $1 OFFSET $2`, perPage, page*perPage)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list keys")
	}
	defer rows.Close()

	keys := []string{}
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(err, "failed to scan key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate keys")
	}
	return keys, nil
}

// Close releases the connection pool.
func (s *PostgresKVStore) Close() {
	s.pool.Close()
}
