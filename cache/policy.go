package cache

import (
	"context"

	"go.uber.org/zap"
)

// Event is a named domain event that maps to cache policy actions.
// Event sources are external collaborators; this package only
// centralizes which tags correspond to which events.
type Event string

const (
	EventUserUpdated     Event = "user.updated"
	EventUserDeleted     Event = "user.deleted"
	EventContentUpdated  Event = "content.updated"
	EventSearchReindexed Event = "search.reindexed"
)

// eventTags maps each domain event to the tags it invalidates.
var eventTags = map[Event][]string{
	EventUserUpdated:     {"users"},
	EventUserDeleted:     {"users", "search"},
	EventContentUpdated:  {"content", "docs"},
	EventSearchReindexed: {"search"},
}

// Invalidator applies domain events to the cache. It holds no state of
// its own; it exists purely so the tag-to-event mapping lives in one
// place instead of being scattered through event handlers.
type Invalidator struct {
	manager *Manager
	logger  *zap.Logger
}

// NewInvalidator creates an invalidator over the manager's public API.
func NewInvalidator(manager *Manager, logger *zap.Logger) *Invalidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Invalidator{manager: manager, logger: logger}
}

// OnEvent invalidates the tags associated with the event. Returns the
// number of keys invalidated; unknown events invalidate nothing.
func (i *Invalidator) OnEvent(ctx context.Context, event Event) int {
	tags, ok := eventTags[event]
	if !ok {
		i.logger.Warn("cache invalidator received unknown event",
			zap.String("event", string(event)))
		return 0
	}

	count := i.manager.InvalidateByTags(ctx, tags)
	i.logger.Info("cache invalidated for domain event",
		zap.String("event", string(event)),
		zap.Strings("tags", tags),
		zap.Int("keys", count))
	return count
}

// Loader derives a value for a call from the source of truth.
type Loader func(ctx context.Context, call CallInfo) (any, error)

// Warmer pre-populates caches ahead of demand. Like the Invalidator it
// is a thin orchestration over the manager's public API.
type Warmer struct {
	manager *Manager
	logger  *zap.Logger
}

// NewWarmer creates a warmer over the manager's public API.
func NewWarmer(manager *Manager, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{manager: manager, logger: logger}
}

// Warm loads and stores a value for every call that is not already
// cached. Returns the number of entries written. Loader failures are
// logged and skipped; warming is best-effort.
func (w *Warmer) Warm(ctx context.Context, configKey string, calls []CallInfo, loader Loader) int {
	warmed := 0
	for _, call := range calls {
		if _, ok := w.manager.Get(ctx, configKey, call); ok {
			continue
		}

		value, err := loader(ctx, call)
		if err != nil {
			w.logger.Warn("cache warm load failed",
				zap.String("config", configKey),
				zap.String("operation", call.Operation),
				zap.Error(err))
			continue
		}
		if value == nil {
			continue
		}

		w.manager.Set(ctx, configKey, call, value)
		warmed++
	}

	w.logger.Info("cache warmed",
		zap.String("config", configKey),
		zap.Int("requested", len(calls)),
		zap.Int("written", warmed))
	return warmed
}
