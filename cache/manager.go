package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// refreshTimeout bounds a single background refresh, detached from the
// triggering request's deadline.
const refreshTimeout = 10 * time.Second

// Refresher re-derives a value from the source of truth for a stale
// cache entry. Registered by the gateway so stale-while-revalidate can
// refresh through the original resolver path.
type Refresher func(ctx context.Context, configKey string, call CallInfo) (any, error)

// Manager orchestrates the L1 and L2 tiers for all configured data
// types: key derivation, read-through, stale-while-revalidate, tag
// bookkeeping, and per-config statistics.
//
// Every cache operation degrades gracefully: any underlying-store
// failure is logged, counted, and treated as a miss. Caching failures
// never fail the caller's request.
type Manager struct {
	store   Store
	configs map[string]*Config
	locals  map[string]*Local
	stats   map[string]*counters
	keyer   *Keyer
	codec   *Codec
	logger  *zap.Logger

	// group deduplicates concurrent background refreshes per key.
	group     singleflight.Group
	refresher Refresher

	// ctx parents every background refresh; cancelled on Close.
	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates a manager over the given shared-tier store and
// immutable config set. One L1 instance is created per config.
func NewManager(store Store, configs map[string]*Config, logger *zap.Logger) (*Manager, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	locals := make(map[string]*Local, len(configs))
	stats := make(map[string]*counters, len(configs))
	for key, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		locals[key] = NewLocal(cfg.MaxLocalEntries, cfg.localTTL())
		stats[key] = &counters{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		configs: configs,
		locals:  locals,
		stats:   stats,
		keyer:   NewKeyer(),
		codec:   NewCodec(),
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// SetRefresher registers the function used for stale-while-revalidate
// background refreshes. Without one, stale entries are still served but
// never refreshed early.
func (m *Manager) SetRefresher(r Refresher) {
	m.refresher = r
}

// Close cancels all in-flight background refreshes.
func (m *Manager) Close() {
	m.cancel()
}

// Get retrieves a cached value for the call. Returns (nil, false) on
// miss. A stale-but-serveable L1 entry is returned immediately while at
// most one background refresh per key is scheduled.
func (m *Manager) Get(ctx context.Context, configKey string, call CallInfo) (json.RawMessage, bool) {
	cfg, ok := m.configs[configKey]
	if !ok {
		m.logger.Warn("cache get for unknown config", zap.String("config", configKey))
		return nil, false
	}
	c := m.stats[configKey]
	c.requests.Add(1)

	start := time.Now()
	defer func() { c.recordLatency(time.Since(start)) }()

	key, err := m.keyer.Key(cfg, call)
	if err != nil {
		m.logger.Error("cache key derivation failed",
			zap.String("config", configKey), zap.Error(err))
		c.errors.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	// L1.
	if entry, ok := m.locals[configKey].Get(key); ok {
		age := entry.Age(time.Now())
		switch {
		case age <= cfg.TTL:
			c.hits.Add(1)
			return entry.Data, true
		case age <= cfg.localTTL():
			c.hits.Add(1)
			m.scheduleRefresh(configKey, key, call)
			return entry.Data, true
		default:
			m.locals[configKey].Delete(key)
		}
	}

	// L2.
	payload, err := m.store.Get(ctx, key)
	if err != nil {
		if err != ErrNotFound {
			m.logger.Error("cache shared-tier read failed",
				zap.String("key", key), zap.Error(err))
			c.errors.Add(1)
		}
		c.misses.Add(1)
		return nil, false
	}

	entry, err := m.decodeEntry(payload)
	if err != nil {
		m.logger.Error("cache entry decode failed",
			zap.String("key", key), zap.Error(err))
		c.errors.Add(1)
		c.misses.Add(1)
		return nil, false
	}

	m.locals[configKey].Set(key, entry)
	c.hits.Add(1)
	return entry.Data, true
}

// Set stores a value for the call in both tiers and registers the key
// with every tag declared on the config. Failures are logged, counted,
// and never propagated.
func (m *Manager) Set(ctx context.Context, configKey string, call CallInfo, value any) {
	cfg, ok := m.configs[configKey]
	if !ok {
		m.logger.Warn("cache set for unknown config", zap.String("config", configKey))
		return
	}
	c := m.stats[configKey]

	key, err := m.keyer.Key(cfg, call)
	if err != nil {
		m.logger.Error("cache key derivation failed",
			zap.String("config", configKey), zap.Error(err))
		c.errors.Add(1)
		return
	}

	data, err := json.Marshal(value)
	if err != nil {
		m.logger.Error("cache value marshal failed",
			zap.String("key", key), zap.Error(err))
		c.errors.Add(1)
		return
	}

	entry := &Entry{Data: data, StoredAt: time.Now().UnixMilli()}
	m.locals[configKey].Set(key, entry)
	c.sets.Add(1)

	payload, err := m.encodeEntry(entry, cfg.Compress)
	if err != nil {
		m.logger.Error("cache entry encode failed",
			zap.String("key", key), zap.Error(err))
		c.errors.Add(1)
		return
	}
	if err := m.store.Set(ctx, key, payload, cfg.TTL); err != nil {
		m.logger.Error("cache shared-tier write failed",
			zap.String("key", key), zap.Error(err))
		c.errors.Add(1)
		return
	}

	for _, tag := range cfg.Tags {
		if err := m.store.SAdd(ctx, TagKeyPrefix+tag, []string{key}, cfg.tagTTL()); err != nil {
			m.logger.Error("cache tag registration failed",
				zap.String("tag", tag), zap.String("key", key), zap.Error(err))
			c.errors.Add(1)
		}
	}
}

// Invalidate removes the single key derived from the call from both
// tiers. Point invalidation, no tag scan.
func (m *Manager) Invalidate(ctx context.Context, configKey string, call CallInfo) {
	cfg, ok := m.configs[configKey]
	if !ok {
		return
	}
	c := m.stats[configKey]

	key, err := m.keyer.Key(cfg, call)
	if err != nil {
		m.logger.Error("cache key derivation failed",
			zap.String("config", configKey), zap.Error(err))
		c.errors.Add(1)
		return
	}

	m.locals[configKey].Delete(key)
	if err := m.store.Del(ctx, key); err != nil {
		m.logger.Error("cache shared-tier delete failed",
			zap.String("key", key), zap.Error(err))
		c.errors.Add(1)
		return
	}
	c.deletes.Add(1)
}

// InvalidateByTags removes every key reachable through the given tags
// from both tiers and deletes the tag sets themselves. A key's config
// of origin is not tracked, so every local instance is checked. Returns
// the total number of keys invalidated.
func (m *Manager) InvalidateByTags(ctx context.Context, tags []string) int {
	total := 0
	for _, tag := range tags {
		tagKey := TagKeyPrefix + tag

		members, err := m.store.SMembers(ctx, tagKey)
		if err != nil {
			m.logger.Error("cache tag scan failed",
				zap.String("tag", tag), zap.Error(err))
			m.countError(tag)
			continue
		}

		if len(members) > 0 {
			if err := m.store.Del(ctx, members...); err != nil {
				m.logger.Error("cache tag bulk delete failed",
					zap.String("tag", tag), zap.Error(err))
				m.countError(tag)
			}
			for _, local := range m.locals {
				for _, key := range members {
					local.Delete(key)
				}
			}
			total += len(members)
		}

		if err := m.store.Del(ctx, tagKey); err != nil {
			m.logger.Error("cache tag set delete failed",
				zap.String("tag", tag), zap.Error(err))
			m.countError(tag)
		}

		for configKey, cfg := range m.configs {
			if cfg.declaresTag(tag) {
				m.stats[configKey].invalidations.Add(uint64(len(members)))
			}
		}

		m.logger.Info("cache tag invalidated",
			zap.String("tag", tag), zap.Int("keys", len(members)))
	}
	return total
}

// Stats returns a point-in-time snapshot of every config's counters.
// Purely derived, no side effects.
func (m *Manager) Stats() map[string]Stats {
	out := make(map[string]Stats, len(m.stats))
	for key, c := range m.stats {
		out[key] = c.snapshot()
	}
	return out
}

// scheduleRefresh fires a background refresh for a stale key. The
// refresh never blocks the caller; concurrent triggers for the same key
// join a single in-flight refresh, and all refreshes die with Close.
func (m *Manager) scheduleRefresh(configKey, key string, call CallInfo) {
	if m.refresher == nil {
		return
	}

	go func() {
		_, err, _ := m.group.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(m.ctx, refreshTimeout)
			defer cancel()

			value, err := m.refresher(ctx, configKey, call)
			if err != nil {
				return nil, err
			}
			if value != nil {
				m.Set(ctx, configKey, call, value)
			}
			return value, nil
		})
		if err != nil && err != context.Canceled {
			// Errors in the refresh are logged and swallowed; the stale
			// entry keeps serving until its window closes.
			m.logger.Warn("cache background refresh failed",
				zap.String("config", configKey), zap.String("key", key), zap.Error(err))
		}
	}()
}

func (m *Manager) encodeEntry(entry *Entry, compress bool) ([]byte, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return m.codec.Encode(raw, compress)
}

func (m *Manager) decodeEntry(payload []byte) (*Entry, error) {
	raw, err := m.codec.Decode(payload)
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

// countError bumps the error counter of every config declaring the tag,
// falling back to all configs when the tag is undeclared.
func (m *Manager) countError(tag string) {
	matched := false
	for configKey, cfg := range m.configs {
		if cfg.declaresTag(tag) {
			m.stats[configKey].errors.Add(1)
			matched = true
		}
	}
	if !matched {
		for _, c := range m.stats {
			c.errors.Add(1)
		}
	}
}

func (c *Config) declaresTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
