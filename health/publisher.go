package health

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jonwraymond/graphgate/cache"
)

// mirrorKeyPrefix is the shared-tier namespace for mirrored status.
const mirrorKeyPrefix = "health:subgraph:"

// DefaultMirrorTTL keeps mirrored status short-lived: a crashed gateway
// instance's stale entries age out within a couple check intervals.
const DefaultMirrorTTL = 90 * time.Second

// Publisher pushes local health state somewhere other gateway instances
// can see it. Implementations must be safe for concurrent use.
type Publisher interface {
	// Publish records the latest check for one subgraph.
	Publish(ctx context.Context, name string, check Check) error
}

// StorePublisher mirrors health status into the shared cache tier under
// health:subgraph:<name> with a short TTL.
type StorePublisher struct {
	store cache.Store
	ttl   time.Duration
}

// NewStorePublisher creates a shared-tier health publisher.
func NewStorePublisher(store cache.Store, ttl time.Duration) *StorePublisher {
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &StorePublisher{store: store, ttl: ttl}
}

// Publish writes the check as JSON under the subgraph's mirror key.
func (p *StorePublisher) Publish(ctx context.Context, name string, check Check) error {
	raw, err := json.Marshal(check)
	if err != nil {
		return fmt.Errorf("health: marshal check for %s: %w", name, err)
	}
	if err := p.store.Set(ctx, mirrorKeyPrefix+name, raw, p.ttl); err != nil {
		return fmt.Errorf("health: mirror %s: %w", name, err)
	}
	return nil
}

// Ensure StorePublisher implements Publisher.
var _ Publisher = (*StorePublisher)(nil)
