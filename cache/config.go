package cache

import (
	"fmt"
	"time"
)

// Config describes the caching behavior for one logical data type.
// Configs are immutable process-wide constants loaded once at startup.
type Config struct {
	// KeyPrefix namespaces this config's keys in both tiers.
	KeyPrefix string

	// TTL is how long an entry is considered fresh.
	TTL time.Duration

	// StaleWhileRevalidate is the window after TTL during which a stale
	// entry is still served while a background refresh is scheduled.
	StaleWhileRevalidate time.Duration

	// MaxLocalEntries bounds the L1 tier for this config.
	MaxLocalEntries int

	// Tags are the invalidation groups every key written under this
	// config is registered with.
	Tags []string

	// VaryBy lists the argument names that participate in the cache key,
	// in order. Arguments not listed never affect the key.
	VaryBy []string

	// Compress enables the entry codec for the shared tier.
	Compress bool
}

// Validate checks the config for usable values.
func (c *Config) Validate() error {
	if c.KeyPrefix == "" {
		return fmt.Errorf("cache: config has empty key prefix")
	}
	if c.TTL <= 0 {
		return fmt.Errorf("cache: config %q has non-positive TTL", c.KeyPrefix)
	}
	if c.StaleWhileRevalidate < 0 {
		return fmt.Errorf("cache: config %q has negative stale window", c.KeyPrefix)
	}
	if c.MaxLocalEntries <= 0 {
		return fmt.Errorf("cache: config %q has non-positive local capacity", c.KeyPrefix)
	}
	return nil
}

// localTTL is how long an entry may live in the L1 tier. Stale entries
// must remain retrievable through the revalidation window.
func (c *Config) localTTL() time.Duration {
	return c.TTL + c.StaleWhileRevalidate
}

// tagTTL is the TTL applied to tag membership sets. It must outlive
// every member written under this config so invalidation can still
// enumerate keys whose entries already expired.
func (c *Config) tagTTL() time.Duration {
	return 2 * c.localTTL()
}

// DefaultConfigs returns the built-in per-data-type cache configs.
func DefaultConfigs() map[string]*Config {
	return map[string]*Config{
		"user": {
			KeyPrefix:            "user",
			TTL:                  5 * time.Minute,
			StaleWhileRevalidate: time.Minute,
			MaxLocalEntries:      10000,
			Tags:                 []string{"users"},
			VaryBy:               []string{"id"},
		},
		"documentation": {
			KeyPrefix:            "documentation",
			TTL:                  time.Hour,
			StaleWhileRevalidate: 15 * time.Minute,
			MaxLocalEntries:      2000,
			Tags:                 []string{"content", "docs"},
			VaryBy:               []string{"slug", "version"},
			Compress:             true,
		},
		"search": {
			KeyPrefix:            "search",
			TTL:                  30 * time.Second,
			StaleWhileRevalidate: 30 * time.Second,
			MaxLocalEntries:      5000,
			Tags:                 []string{"search"},
			VaryBy:               []string{"query", "limit", "offset"},
		},
	}
}
