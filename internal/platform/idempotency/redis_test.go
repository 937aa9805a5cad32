package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeRedis keeps SETNX keys in a map; other commands are not used.
type fakeRedis struct {
	redis.UniversalClient
	keys map[string]time.Duration
}

func (f *fakeRedis) SetNX(_ context.Context, key string, _ interface{}, ttl time.Duration) *redis.BoolCmd {
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStore_ClaimAndRelease(t *testing.T) {
	rdb := &fakeRedis{keys: make(map[string]time.Duration)}
	s := &redisStore{rdb: rdb, ttl: 2 * time.Hour}
	ctx := context.Background()

	if dup, err := s.Claim(ctx, "batch-9"); err != nil || dup {
		t.Fatalf("expected fresh claim, got dup=%v err=%v", dup, err)
	}
	if ttl, ok := rdb.keys[redisKeyPrefix+"batch-9"]; !ok || ttl != 2*time.Hour {
		t.Fatalf("expected prefixed key with ttl, got %v", rdb.keys)
	}
	if dup, _ := s.Claim(ctx, "batch-9"); !dup {
		t.Fatal("second claim should be duplicate")
	}
	if err := s.Release(ctx, "batch-9"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if dup, _ := s.Claim(ctx, "batch-9"); dup {
		t.Fatal("released key should be claimable again")
	}
}
