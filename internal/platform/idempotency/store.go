// Package idempotency deduplicates client-supplied Idempotency-Key values for
// non-idempotent admin requests such as batch asset creation.
//
// Primary backend: Redis SETNX with TTL (env REDIS_DSN).
// Fallback: Postgres INSERT ... ON CONFLICT (env DATABASE_URL).
// If neither is available, an in-memory store is used (development only).
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Store checks whether a key has already been claimed and claims it.
type Store interface {
	// Claim returns true if key was already claimed.
	// If not seen, it atomically marks it as claimed.
	Claim(ctx context.Context, key string) (duplicate bool, err error)
	// Release drops a claim so the key can be used again, e.g. after the
	// claimed work failed without side effects. Unknown keys are ignored.
	Release(ctx context.Context, key string) error
}

// NewStore creates the best available store: Redis > Postgres > in-memory.
// When isProd is true the in-memory fallback is refused.
func NewStore(redisDSN, databaseURL string, ttl time.Duration, isProd bool) (Store, error) {
	if redisDSN != "" {
		return newRedisStore(redisDSN, ttl), nil
	}
	if databaseURL != "" {
		return newPostgresStore(databaseURL, ttl), nil
	}
	if isProd {
		return nil, errors.New("production requires REDIS_DSN or DATABASE_URL for idempotency; in-memory store is not allowed")
	}
	return newMemoryStore(ttl), nil
}
