package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "assets:idempotent:"

// redisStore keeps one key per claim; expiry is left to Redis.
type redisStore struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

func newRedisStore(dsn string, ttl time.Duration) *redisStore {
	opts, err := redis.ParseURL(dsn)
	if err != nil {
		// Bare host:port.
		opts = &redis.Options{Addr: dsn}
	}
	return &redisStore{rdb: redis.NewClient(opts), ttl: ttl}
}

func (s *redisStore) Claim(ctx context.Context, key string) (bool, error) {
	fresh, err := s.rdb.SetNX(ctx, redisKeyPrefix+key, time.Now().UTC().Unix(), s.ttl).Result()
	if err != nil {
		return false, err
	}
	return !fresh, nil
}

func (s *redisStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, redisKeyPrefix+key).Err()
}
