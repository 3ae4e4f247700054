package cache

import (
	"context"
	"errors"
	"testing"
)

func TestInvalidator_OnEvent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)
	inv := NewInvalidator(m, nil)

	m.Set(ctx, "user", userCall("u1"), "v1")
	m.Set(ctx, "user", userCall("u2"), "v2")

	count := inv.OnEvent(ctx, EventUserUpdated)
	if count != 2 {
		t.Errorf("OnEvent invalidated %d keys, want 2", count)
	}

	if _, ok := m.Get(ctx, "user", userCall("u1")); ok {
		t.Error("user entries should be gone after user.updated")
	}
}

func TestInvalidator_UnknownEvent(t *testing.T) {
	m := newTestManager(t, newFakeStore(), nil)
	inv := NewInvalidator(m, nil)

	if count := inv.OnEvent(context.Background(), Event("bogus")); count != 0 {
		t.Errorf("unknown event invalidated %d keys, want 0", count)
	}
}

func TestWarmer_WarmSkipsCached(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)
	warmer := NewWarmer(m, nil)

	m.Set(ctx, "user", userCall("u1"), "already")

	loads := 0
	loader := func(_ context.Context, call CallInfo) (any, error) {
		loads++
		return map[string]any{"id": call.Args["id"]}, nil
	}

	calls := []CallInfo{userCall("u1"), userCall("u2"), userCall("u3")}
	warmed := warmer.Warm(ctx, "user", calls, loader)

	if warmed != 2 {
		t.Errorf("warmed %d entries, want 2", warmed)
	}
	if loads != 2 {
		t.Errorf("loader ran %d times, want 2", loads)
	}

	for _, call := range calls {
		if _, ok := m.Get(ctx, "user", call); !ok {
			t.Errorf("call %v should be cached after warming", call.Args)
		}
	}
}

func TestWarmer_LoaderFailuresSkipped(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, newFakeStore(), nil)
	warmer := NewWarmer(m, nil)

	loader := func(_ context.Context, call CallInfo) (any, error) {
		if call.Args["id"] == "bad" {
			return nil, errors.New("upstream down")
		}
		return "v", nil
	}

	warmed := warmer.Warm(ctx, "user", []CallInfo{userCall("bad"), userCall("good")}, loader)
	if warmed != 1 {
		t.Errorf("warmed %d entries, want 1", warmed)
	}
	if _, ok := m.Get(ctx, "user", userCall("good")); !ok {
		t.Error("successful load should be cached")
	}
	if _, ok := m.Get(ctx, "user", userCall("bad")); ok {
		t.Error("failed load should not be cached")
	}
}
