package model

import "context"

// These interfaces decouple the resolver, poller and session bridge from
// concrete backends: Redis for multi-process deployments, in-process
// implementations for single-process ones and for tests.

// Limiter bounds request rates per upstream provider with a sliding-window
// log. Allow records the attempt and returns a rate-limited error when the
// window is already full; a rejected attempt never occupies a window slot.
// Safe for concurrent callers touching the same provider.
type Limiter interface {
	Allow(ctx context.Context, provider string) error
}

// CandleCache maps a normalized query fingerprint to a previously resolved
// candle sequence. Entries expire after a TTL measured from write time and
// are never returned past expiry. Per-key reads and writes are atomic.
type CandleCache interface {
	Get(ctx context.Context, key string) (rows []CandleWithIndicators, ok bool, err error)
	Set(ctx context.Context, key string, rows []CandleWithIndicators) error
}

// Broker is the pub/sub fan-out carrying live candle updates from the
// poller to session bridges. Delivery is best-effort: a slow subscriber
// drops messages rather than blocking the publisher.
type Broker interface {
	Publish(ctx context.Context, msg StreamMessage) error
	Subscribe(ctx context.Context) (Subscription, error)
	Close() error
}

// Subscription is one consumer's view of the broadcast stream. The channel
// is closed when the subscription or the broker shuts down.
type Subscription interface {
	C() <-chan StreamMessage
	Close()
}
