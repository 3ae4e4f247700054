package gateway

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const rateLimitKeyPrefix = "ratelimit:"

// Decision is the outcome of a rate-limit check. RetryAfter is only
// meaningful when Allowed is false.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Limiter admits or rejects a request identified by caller IP, user id
// and operation name. Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, ip, userID, operation string) (Decision, error)
}

func limitKey(ip, userID, operation string) string {
	return fmt.Sprintf("%s:%s:%s", ip, userID, operation)
}

// RedisLimiter enforces a sliding-window limit shared across gateway
// instances, using a sorted set of request timestamps per key.
type RedisLimiter struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, limit int, window time.Duration) *RedisLimiter {
	return &RedisLimiter{client: client, limit: limit, window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, ip, userID, operation string) (Decision, error) {
	key := rateLimitKeyPrefix + limitKey(ip, userID, operation)
	now := time.Now().UnixNano()

	pipe := l.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(now-l.window.Nanoseconds(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: now})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window)

	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("gateway: rate limit check: %w", err)
	}

	if card.Val() <= int64(l.limit) {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: l.window}, nil
}

// LocalLimiter is a per-process fallback using token buckets keyed the
// same way as the shared limiter. Buckets for idle keys are evicted
// lazily once the map grows past maxKeys.
type LocalLimiter struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

const maxLocalLimitKeys = 10000

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	return &LocalLimiter{
		limit:   limit,
		window:  window,
		buckets: make(map[string]*rate.Limiter),
	}
}

func (l *LocalLimiter) Allow(_ context.Context, ip, userID, operation string) (Decision, error) {
	key := limitKey(ip, userID, operation)

	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= maxLocalLimitKeys {
			l.buckets = make(map[string]*rate.Limiter)
		}
		b = rate.NewLimiter(rate.Limit(float64(l.limit)/l.window.Seconds()), l.limit)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	if b.Allow() {
		return Decision{Allowed: true}, nil
	}
	return Decision{Allowed: false, RetryAfter: l.window}, nil
}

// FallbackLimiter prefers the shared limiter and degrades to the local
// one when the shared tier is unreachable, so an outage never turns
// into either an open gate or a hard failure.
type FallbackLimiter struct {
	primary  Limiter
	fallback Limiter
	logger   *zap.Logger
}

func NewFallbackLimiter(primary, fallback Limiter, logger *zap.Logger) *FallbackLimiter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackLimiter{primary: primary, fallback: fallback, logger: logger}
}

func (l *FallbackLimiter) Allow(ctx context.Context, ip, userID, operation string) (Decision, error) {
	d, err := l.primary.Allow(ctx, ip, userID, operation)
	if err == nil {
		return d, nil
	}
	l.logger.Warn("shared rate limiter unavailable, using local fallback", zap.Error(err))
	return l.fallback.Allow(ctx, ip, userID, operation)
}

var (
	_ Limiter = (*RedisLimiter)(nil)
	_ Limiter = (*LocalLimiter)(nil)
	_ Limiter = (*FallbackLimiter)(nil)
)
