// Package repository holds the small key-value repositories the services
// share: currently the Redis-backed single-flight lock the Content Resolver
// uses so two replicas don't fetch the same in-flight URI twice.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRepository implements distributed locking over Redis/Valkey/DragonflyDB.
type RedisRepository struct {
	client *redis.Client
}

// NewRedisRepository connects to the given Redis URL and verifies the
// connection before returning.
func NewRedisRepository(url string) (*RedisRepository, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisRepository{client: client}, nil
}

// AcquireLock claims key for ttl. Returns false when another holder already
// has it. The lock is advisory: a crashed holder's claim expires with the
// ttl rather than needing cleanup.
func (r *RedisRepository) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	// SET key value NX EX; only set if not exists
	return r.client.SetNX(ctx, "lock:"+key, time.Now().Format(time.RFC3339), ttl).Result()
}

// ReleaseLock drops the claim on key.
func (r *RedisRepository) ReleaseLock(ctx context.Context, key string) error {
	return r.client.Del(ctx, "lock:"+key).Err()
}

// IsLocked reports whether key is currently claimed.
func (r *RedisRepository) IsLocked(ctx context.Context, key string) (bool, error) {
	exists, err := r.client.Exists(ctx, "lock:"+key).Result()
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}

// Close closes the Redis connection.
func (r *RedisRepository) Close() error {
	return r.client.Close()
}
