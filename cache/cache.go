package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// MaxKeyLength is the maximum allowed length for a cache key. Keys that
// would exceed it are collapsed to a prefix plus a hash of the full key.
const MaxKeyLength = 512

// TagKeyPrefix is the shared-tier namespace for tag membership sets.
const TagKeyPrefix = "tag:"

// Sentinel errors for cache operations.
var (
	ErrNotFound      = errors.New("cache: entry not found")
	ErrNilStore      = errors.New("cache: store is nil")
	ErrInvalidKey    = errors.New("cache: key is invalid")
	ErrUnknownConfig = errors.New("cache: unknown config key")
	ErrClosed        = errors.New("cache: manager is closed")
)

// Entry is a cached value plus the instant it was stored. The storage
// timestamp drives freshness and stale-while-revalidate decisions in
// both tiers, independent of any store-level TTL.
type Entry struct {
	Data     json.RawMessage `json:"data"`
	StoredAt int64           `json:"storedAt"` // epoch millis
}

// Age returns how long ago the entry was stored.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(e.StoredAt))
}

// Store is the shared (L2) cache tier.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Get returns ErrNotFound on miss; any other error is an infrastructure
//   failure the caller should degrade on, never propagate.
// - Single-key operations rely on the store's native atomicity. Multi-key
//   operations are best-effort, not transactional.
type Store interface {
	// Get retrieves a raw value.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a raw value with the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Del removes the given keys. Idempotent - no error on missing keys.
	Del(ctx context.Context, keys ...string) error

	// SAdd adds members to the set at key and extends the set's TTL.
	// The TTL is only ever extended, so a tag set outlives its members.
	SAdd(ctx context.Context, key string, members []string, ttl time.Duration) error

	// SMembers returns all members of the set at key. A missing set
	// yields an empty slice, not an error.
	SMembers(ctx context.Context, key string) ([]string, error)

	// PushCapped prepends value to the list at key and trims the list
	// to at most max entries, dropping the oldest.
	PushCapped(ctx context.Context, key string, value []byte, max int64) error
}

// ValidateKey checks if a key is valid for the shared tier.
func ValidateKey(key string) error {
	if key == "" || strings.TrimSpace(key) == "" {
		return ErrInvalidKey
	}
	if len(key) > MaxKeyLength {
		return ErrInvalidKey
	}
	if strings.ContainsAny(key, "\n\r") {
		return ErrInvalidKey
	}
	return nil
}
