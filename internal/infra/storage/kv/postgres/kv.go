// Package postgres implements a key-value store with per-key expiry on top
// of the kv_entries table.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/schedule-armada/internal/infra/storage"
)

// kvStore implements the guard's key-value port using PostgreSQL.
type kvStore struct {
	db     *pgxpool.Pool
	tracer trace.Tracer
}

// NewKVStore creates a PostgreSQL-backed key-value store.
func NewKVStore(pool *pgxpool.Pool, tracer trace.Tracer) *kvStore {
	return &kvStore{db: pool, tracer: tracer}
}

const getEntry = `
SELECT value
FROM kv_entries
WHERE key = $1 AND (expires_at IS NULL OR expires_at > NOW())`

// Get returns the value for key and whether it was present and unexpired.
func (s *kvStore) Get(ctx context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)
	dbAttrs := storage.Attributes(attribute.String("key", key))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.kv_get", dbAttrs, func(ctx context.Context) error {
		err := s.db.QueryRow(ctx, getEntry, key).Scan(&value)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return storage.ClassifyError("kv get", fmt.Errorf("select entry: %w", err))
		}
		found = true
		return nil
	})
	return value, found, err
}

const setEntry = `
INSERT INTO kv_entries (key, value, expires_at, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (key) DO UPDATE
SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at, updated_at = NOW()`

// Set stores value under key. A non-positive ttl never expires.
func (s *kvStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	dbAttrs := storage.Attributes(
		attribute.String("key", key),
		attribute.String("ttl", ttl.String()),
	)

	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.kv_set", dbAttrs, func(ctx context.Context) error {
		if _, err := s.db.Exec(ctx, setEntry, key, value, expiry(ttl)); err != nil {
			return storage.ClassifyError("kv set", fmt.Errorf("upsert entry: %w", err))
		}
		return nil
	})
}

// The counter restarts when the stored entry has expired or is not numeric.
const incrEntry = `
INSERT INTO kv_entries (key, value, expires_at, updated_at)
VALUES ($1, '1', $2, NOW())
ON CONFLICT (key) DO UPDATE
SET value = CASE
        WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= NOW() THEN '1'
        WHEN kv_entries.value !~ '^[0-9]+$' THEN '1'
        ELSE (kv_entries.value::bigint + 1)::text
    END,
    expires_at = CASE
        WHEN kv_entries.expires_at IS NOT NULL AND kv_entries.expires_at <= NOW() THEN EXCLUDED.expires_at
        WHEN kv_entries.value !~ '^[0-9]+$' THEN EXCLUDED.expires_at
        ELSE kv_entries.expires_at
    END,
    updated_at = NOW()
RETURNING value::bigint`

// Incr atomically increments the integer stored at key and returns the new
// value. ttl applies only when the counter starts.
func (s *kvStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var n int64
	dbAttrs := storage.Attributes(attribute.String("key", key))

	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.kv_incr", dbAttrs, func(ctx context.Context) error {
		if err := s.db.QueryRow(ctx, incrEntry, key, expiry(ttl)).Scan(&n); err != nil {
			return storage.ClassifyError("kv incr", fmt.Errorf("increment entry: %w", err))
		}
		return nil
	})
	return n, err
}

const deleteExpired = `DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= NOW()`

// DeleteExpired removes every expired entry and reports how many were removed.
func (s *kvStore) DeleteExpired(ctx context.Context) (int64, error) {
	var removed int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.kv_delete_expired", storage.Attributes(), func(ctx context.Context) error {
		tag, err := s.db.Exec(ctx, deleteExpired)
		if err != nil {
			return storage.ClassifyError("kv delete expired", fmt.Errorf("delete expired entries: %w", err))
		}
		removed = tag.RowsAffected()
		return nil
	})
	return removed, err
}

func expiry(ttl time.Duration) pgtype.Timestamptz {
	if ttl <= 0 {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: time.Now().Add(ttl), Valid: true}
}
