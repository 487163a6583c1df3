// Package memory provides in-process implementations of the rate limiter
// and result cache ports for single-process deployments and tests. The
// Redis-backed equivalents in internal/store/redis cover multi-process
// deployments.
package memory

import (
	"context"
	"sync"
	"time"

	"trademind/internal/apperr"
)

// Limiter is a per-provider sliding-window request log guarded by a single
// mutex, so the count-then-maybe-reject sequence is atomic with respect to
// concurrent checks for the same provider.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	logs map[string][]time.Time
}

// NewLimiter creates a limiter allowing limit requests per provider within
// the trailing window.
func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{
		limit:  limit,
		window: window,
		now:    time.Now,
		logs:   make(map[string][]time.Time),
	}
}

// Allow records a request attempt for provider. Timestamps older than the
// window are dropped first; if the remaining count has already reached the
// limit the attempt is rejected without occupying a slot.
func (l *Limiter) Allow(ctx context.Context, provider string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	entries := l.logs[provider]
	kept := entries[:0]
	for _, ts := range entries {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.logs[provider] = kept
		return &apperr.RateLimitedError{Provider: provider, Limit: l.limit}
	}

	l.logs[provider] = append(kept, now)
	return nil
}
