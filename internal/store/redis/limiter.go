// Package redis provides Redis-backed implementations of the rate limiter
// and result cache ports, shared across processes in multi-instance
// deployments.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trademind/internal/apperr"
)

// Limiter implements a sliding-window rate limit as a Redis sorted set of
// request timestamps per provider. The trim/add/count sequence runs in one
// pipeline so concurrent checks across processes see a consistent window;
// a rejected attempt removes its own member so it does not count against
// future windows.
type Limiter struct {
	rdb    *goredis.Client
	limit  int
	window time.Duration
}

// NewLimiter creates a limiter allowing limit requests per provider within
// the trailing window, backed by rdb.
func NewLimiter(rdb *goredis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

func limiterKey(provider string) string { return "rl:" + provider }

// Allow records a request attempt for provider and rejects it when the
// window already holds limit timestamps.
func (l *Limiter) Allow(ctx context.Context, provider string) error {
	key := limiterKey(provider)
	nowMs := time.Now().UnixMilli()
	windowStartMs := nowMs - l.window.Milliseconds()
	member := strconv.FormatInt(nowMs, 10)

	pipe := l.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStartMs, 10))
	pipe.ZAdd(ctx, key, &goredis.Z{Score: float64(nowMs), Member: member})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, l.window+5*time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rate limit pipeline for %s: %w", provider, err)
	}

	if card.Val() > int64(l.limit) {
		l.rdb.ZRem(ctx, key, member)
		return &apperr.RateLimitedError{Provider: provider, Limit: l.limit}
	}
	return nil
}
