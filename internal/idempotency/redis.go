package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLocker holds locks in redis so deduplication works across replicas.
type RedisLocker struct {
	rdb *redis.Client
}

// NewRedisLocker creates a redis-backed locker.
func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, "1", ttl).Result()
}

func (r *RedisLocker) Release(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}
