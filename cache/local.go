package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Local is the bounded per-process (L1) cache tier for one config.
// Entries are evicted by LRU pressure or by the tier's own TTL, which
// covers the freshness window plus the stale-while-revalidate window;
// freshness itself is judged by the Manager from Entry.StoredAt.
type Local struct {
	lru *expirable.LRU[string, *Entry]
}

// NewLocal creates a local tier bounded to maxEntries with the given
// retention TTL.
func NewLocal(maxEntries int, ttl time.Duration) *Local {
	return &Local{
		lru: expirable.NewLRU[string, *Entry](maxEntries, nil, ttl),
	}
}

// Get retrieves an entry. Returns (nil, false) on miss or expiry.
func (l *Local) Get(key string) (*Entry, bool) {
	return l.lru.Get(key)
}

// Set stores an entry.
func (l *Local) Set(key string, entry *Entry) {
	l.lru.Add(key, entry)
}

// Delete removes an entry. Idempotent - no effect on miss.
func (l *Local) Delete(key string) {
	l.lru.Remove(key)
}

// Purge removes all entries.
func (l *Local) Purge() {
	l.lru.Purge()
}

// Len returns the number of live entries.
func (l *Local) Len() int {
	return l.lru.Len()
}
