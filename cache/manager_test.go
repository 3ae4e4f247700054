package cache

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestManager(t *testing.T, store Store, configs map[string]*Config) *Manager {
	t.Helper()
	if configs == nil {
		configs = map[string]*Config{
			"user": {
				KeyPrefix:            "user",
				TTL:                  time.Minute,
				StaleWhileRevalidate: time.Minute,
				MaxLocalEntries:      100,
				Tags:                 []string{"users"},
				VaryBy:               []string{"id"},
			},
		}
	}
	m, err := NewManager(store, configs, zap.NewNop())
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func userCall(id string, fields ...string) CallInfo {
	if len(fields) == 0 {
		fields = []string{"user.id", "user.name"}
	}
	return CallInfo{
		Args:      map[string]any{"id": id},
		Principal: "caller-1",
		Operation: "GetUser",
		Fields:    fields,
	}
}

func TestManager_ReadAfterWrite(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)

	call := userCall("u1")
	value := map[string]any{"id": "u1", "name": "Ada"}

	m.Set(ctx, "user", call, value)

	got, ok := m.Get(ctx, "user", call)
	if !ok {
		t.Fatal("Get after Set should hit")
	}
	var decoded map[string]any
	if err := json.Unmarshal(got, &decoded); err != nil {
		t.Fatalf("unmarshal cached value: %v", err)
	}
	if decoded["name"] != "Ada" {
		t.Errorf("cached value = %v, want name Ada", decoded)
	}

	stats := m.Stats()["user"]
	if stats.Hits != 1 {
		t.Errorf("hits = %d, want 1", stats.Hits)
	}
	if stats.Sets != 1 {
		t.Errorf("sets = %d, want 1", stats.Sets)
	}
}

func TestManager_MissOnDifferentFieldSelection(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)

	m.Set(ctx, "user", userCall("u1", "user.id", "user.name"), "v")

	if _, ok := m.Get(ctx, "user", userCall("u1", "user.id", "user.email")); ok {
		t.Error("different field selection should miss")
	}

	stats := m.Stats()["user"]
	if stats.Misses != 1 {
		t.Errorf("misses = %d, want 1", stats.Misses)
	}
}

func TestManager_L2HitPopulatesL1(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestManager(t, store, nil)

	call := userCall("u1")
	m.Set(ctx, "user", call, "v")

	// Drop the L1 entry; the shared tier should backfill it.
	m.locals["user"].Purge()

	if _, ok := m.Get(ctx, "user", call); !ok {
		t.Fatal("Get should hit via the shared tier")
	}
	if m.locals["user"].Len() != 1 {
		t.Error("shared-tier hit should populate the local tier")
	}

	// The next read must come from L1 without touching the store.
	reads := store.getOps
	if _, ok := m.Get(ctx, "user", call); !ok {
		t.Fatal("Get should hit locally")
	}
	if store.getOps != reads {
		t.Error("L1 hit should not reach the shared tier")
	}
}

func TestManager_StaleServeSchedulesSingleRefresh(t *testing.T) {
	ctx := context.Background()
	configs := map[string]*Config{
		"user": {
			KeyPrefix:            "user",
			TTL:                  30 * time.Millisecond,
			StaleWhileRevalidate: 10 * time.Second,
			MaxLocalEntries:      100,
			VaryBy:               []string{"id"},
		},
	}
	m := newTestManager(t, newFakeStore(), configs)

	var refreshes atomic.Int64
	started := make(chan struct{})
	release := make(chan struct{})
	m.SetRefresher(func(ctx context.Context, configKey string, call CallInfo) (any, error) {
		refreshes.Add(1)
		close(started)
		<-release
		return "fresh", nil
	})

	call := userCall("u1")
	m.Set(ctx, "user", call, "stale")

	time.Sleep(60 * time.Millisecond) // past TTL, inside the stale window

	// A burst of stale reads must all serve immediately and coalesce
	// into one in-flight refresh.
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok := m.Get(ctx, "user", call)
			if !ok {
				t.Error("stale entry should still serve")
			}
			if string(got) != `"stale"` {
				t.Errorf("stale read returned %s", got)
			}
		}()
	}
	wg.Wait()

	<-started
	close(release)

	// Let the refresh write land.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok := m.Get(ctx, "user", call)
		if ok && string(got) == `"fresh"` {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refreshed value never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if n := refreshes.Load(); n != 1 {
		t.Errorf("refresher ran %d times, want 1", n)
	}
}

func TestManager_MissAfterStaleWindow(t *testing.T) {
	ctx := context.Background()
	configs := map[string]*Config{
		"user": {
			KeyPrefix:            "user",
			TTL:                  20 * time.Millisecond,
			StaleWhileRevalidate: 20 * time.Millisecond,
			MaxLocalEntries:      100,
			VaryBy:               []string{"id"},
		},
	}
	m := newTestManager(t, newFakeStore(), configs)

	call := userCall("u1")
	m.Set(ctx, "user", call, "v")

	if _, ok := m.Get(ctx, "user", call); !ok {
		t.Fatal("fresh entry should hit")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := m.Get(ctx, "user", call); ok {
		t.Error("entry past TTL+staleWhileRevalidate should miss")
	}
}

func TestManager_InvalidateByTags(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestManager(t, store, nil)

	calls := []CallInfo{userCall("u1"), userCall("u2"), userCall("u3")}
	for _, call := range calls {
		m.Set(ctx, "user", call, "v")
	}

	// One member expires independently before invalidation; the tag set
	// must still cover it.
	key, _ := m.keyer.Key(m.configs["user"], calls[0])
	store.dropValue(key)

	count := m.InvalidateByTags(ctx, []string{"users"})
	if count != 3 {
		t.Errorf("invalidated %d keys, want 3", count)
	}

	for i, call := range calls {
		if _, ok := m.Get(ctx, "user", call); ok {
			t.Errorf("call %d still reachable after tag invalidation", i)
		}
	}

	// The tag set itself is gone: a second invalidation finds nothing.
	if count := m.InvalidateByTags(ctx, []string{"users"}); count != 0 {
		t.Errorf("second invalidation removed %d keys, want 0", count)
	}

	stats := m.Stats()["user"]
	if stats.Invalidations != 3 {
		t.Errorf("invalidations = %d, want 3", stats.Invalidations)
	}
}

func TestManager_SharedTagTTLNeverShortens(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestManager(t, store, map[string]*Config{
		"user": {
			KeyPrefix:            "user",
			TTL:                  time.Minute,
			StaleWhileRevalidate: time.Minute,
			MaxLocalEntries:      10,
			Tags:                 []string{"users"},
		},
		"user-summary": {
			KeyPrefix:       "usersum",
			TTL:             time.Second,
			MaxLocalEntries: 10,
			Tags:            []string{"users"},
		},
	})

	m.Set(ctx, "user", CallInfo{Field: "user", Args: map[string]any{"id": "u1"}}, "v")
	long := store.setExpiry(TagKeyPrefix + "users")

	// A later write from the short-lived config shares the tag; its
	// expiry must not pull the set's deadline in.
	m.Set(ctx, "user-summary", CallInfo{Field: "userSummary", Args: map[string]any{"id": "u1"}}, "v")

	if got := store.setExpiry(TagKeyPrefix + "users"); got.Before(long) {
		t.Errorf("tag set expiry moved from %v to %v after a short-TTL write", long, got)
	}
}

func TestManager_PointInvalidate(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)

	keep := userCall("u1")
	drop := userCall("u2")
	m.Set(ctx, "user", keep, "v1")
	m.Set(ctx, "user", drop, "v2")

	m.Invalidate(ctx, "user", drop)

	if _, ok := m.Get(ctx, "user", drop); ok {
		t.Error("invalidated call should miss in both tiers")
	}
	if _, ok := m.Get(ctx, "user", keep); !ok {
		t.Error("unrelated call should be untouched")
	}

	if stats := m.Stats()["user"]; stats.Deletes != 1 {
		t.Errorf("deletes = %d, want 1", stats.Deletes)
	}
}

func TestManager_DegradesWhenStoreDown(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	m := newTestManager(t, store, nil)

	store.setFailing(true)

	call := userCall("u1")
	// Set must not panic or propagate; L1 still takes the write.
	m.Set(ctx, "user", call, "v")

	// The L1 copy keeps serving even with the shared tier down.
	if _, ok := m.Get(ctx, "user", call); !ok {
		t.Error("L1 should serve while the shared tier is down")
	}

	// A cold read degrades to a miss, never an error.
	m.locals["user"].Purge()
	if _, ok := m.Get(ctx, "user", call); ok {
		t.Error("cold read against a down store should miss")
	}

	stats := m.Stats()["user"]
	if stats.Errors == 0 {
		t.Error("store failures should be counted")
	}

	// Recovery: the store comes back and writes flow again.
	store.setFailing(false)
	m.Set(ctx, "user", call, "v2")
	if _, ok := m.Get(ctx, "user", call); !ok {
		t.Error("cache should recover once the store is back")
	}
}

func TestManager_UnknownConfig(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)

	if _, ok := m.Get(ctx, "nope", userCall("u1")); ok {
		t.Error("unknown config should miss")
	}
	m.Set(ctx, "nope", userCall("u1"), "v") // must not panic
	m.Invalidate(ctx, "nope", userCall("u1"))
}

func TestManager_StatsDerivation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)

	m.Get(ctx, "user", userCall("miss"))
	m.Set(ctx, "user", userCall("u1"), "v")
	m.Get(ctx, "user", userCall("u1"))

	stats := m.Stats()["user"]
	if stats.TotalRequests != 2 {
		t.Errorf("totalRequests = %d, want 2", stats.TotalRequests)
	}
	if stats.HitRate != 0.5 {
		t.Errorf("hitRate = %v, want 0.5", stats.HitRate)
	}
	if stats.ErrorRate != 0 {
		t.Errorf("errorRate = %v, want 0", stats.ErrorRate)
	}
}

func TestManager_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			call := userCall("shared")
			for j := 0; j < 100; j++ {
				switch j % 3 {
				case 0:
					m.Set(ctx, "user", call, n)
				case 1:
					m.Get(ctx, "user", call)
				case 2:
					m.Invalidate(ctx, "user", call)
				}
			}
		}(i)
	}
	wg.Wait()
}
