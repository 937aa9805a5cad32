package idempotency

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type postgresStore struct {
	dsn string
	ttl time.Duration

	mu   sync.Mutex
	pool *pgxpool.Pool // lazily opened on first Claim
}

func newPostgresStore(dsn string, ttl time.Duration) *postgresStore {
	return &postgresStore{dsn: dsn, ttl: ttl}
}

func (s *postgresStore) ensurePool(ctx context.Context) (*pgxpool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := pgxpool.New(ctx, s.dsn)
	if err != nil {
		return nil, err
	}
	if _, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key        text PRIMARY KEY,
	expires_at timestamptz NOT NULL
)`); err != nil {
		pool.Close()
		return nil, err
	}
	s.pool = pool
	return pool, nil
}

// Claim inserts the key, replacing it only when the previous claim expired.
func (s *postgresStore) Claim(ctx context.Context, key string) (bool, error) {
	pool, err := s.ensurePool(ctx)
	if err != nil {
		return false, err
	}

	const q = `INSERT INTO idempotency_keys (key, expires_at)
	           VALUES ($1, now() + make_interval(secs => $2))
	           ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
	           WHERE idempotency_keys.expires_at < now()`

	tag, err := pool.Exec(ctx, q, key, s.ttl.Seconds())
	if err != nil {
		return false, err
	}
	// RowsAffected == 0 means a live claim already existed.
	return tag.RowsAffected() == 0, nil
}

func (s *postgresStore) Release(ctx context.Context, key string) error {
	pool, err := s.ensurePool(ctx)
	if err != nil {
		return err
	}
	_, err = pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE key = $1`, key)
	return err
}
