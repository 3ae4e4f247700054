package gateway

import (
	"sync"
	"time"

	"github.com/jonwraymond/graphgate/auth"
	"github.com/jonwraymond/graphgate/cache"
)

// RequestContext carries the per-request state assembled before
// resolution: the (possibly anonymous) caller, tracing ids, the cache
// handle, and a request-scoped memo that deduplicates identical loads
// within a single operation.
type RequestContext struct {
	Identity  *auth.Identity
	Token     string
	RequestID string
	TraceID   string
	ClientIP  string
	Start     time.Time

	Cache *cache.Manager

	mu   sync.Mutex
	memo map[string]any
}

// NewRequestContext builds a context for one incoming request.
func NewRequestContext(requestID, clientIP string, id *auth.Identity, mgr *cache.Manager) *RequestContext {
	return &RequestContext{
		Identity:  id,
		RequestID: requestID,
		TraceID:   requestID,
		ClientIP:  clientIP,
		Start:     time.Now(),
		Cache:     mgr,
		memo:      make(map[string]any),
	}
}

// Principal returns the authenticated user id, or empty when anonymous.
func (rc *RequestContext) Principal() string {
	if rc.Identity == nil {
		return ""
	}
	return rc.Identity.UserID
}

// Load returns the memoized value for key, invoking fn at most once per
// request for the same key. Errors are not memoized.
func (rc *RequestContext) Load(key string, fn func() (any, error)) (any, error) {
	rc.mu.Lock()
	if v, ok := rc.memo[key]; ok {
		rc.mu.Unlock()
		return v, nil
	}
	rc.mu.Unlock()

	v, err := fn()
	if err != nil {
		return nil, err
	}

	rc.mu.Lock()
	rc.memo[key] = v
	rc.mu.Unlock()
	return v, nil
}

// Elapsed reports time since the request started.
func (rc *RequestContext) Elapsed() time.Duration {
	return time.Since(rc.Start)
}
