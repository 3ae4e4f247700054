package gateway

import (
	"context"
	"encoding/json"

	"github.com/jonwraymond/graphgate/cache"
)

// Resolver produces the value for one cacheable call.
type Resolver func(ctx context.Context, call cache.CallInfo) (json.RawMessage, error)

// WrapResolver returns a resolver that consults the cache manager
// before delegating to next, and stores non-null successful results
// afterwards. With a nil manager the original resolver is returned
// unchanged, so wiring is harmless when caching is disabled.
func WrapResolver(mgr *cache.Manager, configKey string, next Resolver) Resolver {
	if mgr == nil {
		return next
	}
	return func(ctx context.Context, call cache.CallInfo) (json.RawMessage, error) {
		if data, ok := mgr.Get(ctx, configKey, call); ok {
			return data, nil
		}
		value, err := next(ctx, call)
		if err != nil {
			return nil, err
		}
		if value != nil {
			mgr.Set(ctx, configKey, call, json.RawMessage(value))
		}
		return value, nil
	}
}
