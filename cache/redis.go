package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on a Redis-compatible server. It is the
// only point of cross-process coordination; correctness relies on the
// server's native atomicity for single-key operations and on pipelined
// best-effort batches for tag bookkeeping.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a shared-tier store backed by the given client.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

// Get retrieves a raw value. Returns ErrNotFound on miss.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: redis get %q: %w", key, err)
	}
	return val, nil
}

// Set stores a raw value with the given TTL.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set %q: %w", key, err)
	}
	return nil
}

// Del removes the given keys in one round trip.
func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("cache: redis del: %w", err)
	}
	return nil
}

// SAdd adds members to the set at key and extends its TTL, pipelined.
func (s *RedisStore) SAdd(ctx context.Context, key string, members []string, ttl time.Duration) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}

	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, args...)
	// Extend-only: NX covers a freshly created set (which has no TTL and
	// would be skipped by GT), GT refuses to shorten an existing one when
	// configs with different tag TTLs share a tag.
	pipe.ExpireNX(ctx, key, ttl)
	pipe.ExpireGT(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: redis sadd %q: %w", key, err)
	}
	return nil
}

// SMembers returns all members of the set at key.
func (s *RedisStore) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: redis smembers %q: %w", key, err)
	}
	return members, nil
}

// PushCapped prepends value to the list at key and trims it to max
// entries, pipelined.
func (s *RedisStore) PushCapped(ctx context.Context, key string, value []byte, max int64) error {
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: redis push %q: %w", key, err)
	}
	return nil
}

// Ping verifies connectivity to the shared tier.
func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("cache: redis ping: %w", err)
	}
	return nil
}

// Ensure RedisStore implements Store.
var _ Store = (*RedisStore)(nil)
