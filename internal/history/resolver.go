// Package history resolves one-shot historical candle queries: provider
// selection, range guardrails, result caching, rate limiting, single
// fallback between providers and indicator augmentation.
package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"trademind/internal/apperr"
	"trademind/internal/indicator"
	"trademind/internal/metrics"
	"trademind/internal/model"
	"trademind/internal/provider"
)

// ProviderAuto selects a provider per request: the intraday REST provider
// for minute-level resolutions within a year, the bulk provider otherwise.
const ProviderAuto = "auto"

// Range ceilings enforced before dispatch. The bulk provider serves
// 1-minute bars for at most 30 days; the intraday REST provider serves at
// most one year of history.
const (
	maxBulk1MinRange    = 30 * 24 * time.Hour
	maxIntradayRange    = 365 * 24 * time.Hour
	ceilingBulk1Min     = "30 days"
	ceilingIntradayREST = "1 year"
)

// Query is one historical candle request. From < To is expected from the
// caller; the resolver re-validates regardless.
type Query struct {
	Symbol     string
	Resolution model.Resolution
	From       int64 // unix seconds, inclusive
	To         int64 // unix seconds, inclusive
	Provider   string
	Indicators []string
}

func (q Query) rangeDuration() time.Duration {
	return time.Duration(q.To-q.From) * time.Second
}

// Resolver orchestrates the historical path. Concurrent identical queries
// collapse into a single upstream fetch via singleflight.
type Resolver struct {
	intraday provider.Client // finnhub-style
	bulk     provider.Client // yahoo-style
	limiter  model.Limiter
	cache    model.CandleCache
	engine   *indicator.Engine
	metrics  *metrics.Metrics
	log      *slog.Logger
	group    singleflight.Group
}

// NewResolver wires a resolver from its collaborators.
func NewResolver(
	intraday, bulk provider.Client,
	limiter model.Limiter,
	cache model.CandleCache,
	engine *indicator.Engine,
	m *metrics.Metrics,
	log *slog.Logger,
) *Resolver {
	return &Resolver{
		intraday: intraday,
		bulk:     bulk,
		limiter:  limiter,
		cache:    cache,
		engine:   engine,
		metrics:  m,
		log:      log,
	}
}

// Resolve returns the candle sequence for q, augmented with any requested
// indicators. A successful fetch with zero rows returns an empty sequence
// and no error; the boundary layer decides what "empty" means to clients.
func (r *Resolver) Resolve(ctx context.Context, q Query) ([]model.CandleWithIndicators, error) {
	q.Symbol = strings.ToUpper(strings.TrimSpace(q.Symbol))
	if q.Symbol == "" {
		return nil, apperr.InvalidArgumentf("symbol is required")
	}
	if !q.Resolution.Valid() {
		return nil, apperr.InvalidArgumentf("invalid resolution %q", q.Resolution)
	}
	if q.From >= q.To {
		return nil, apperr.InvalidArgumentf("from_ts must be earlier than to_ts")
	}

	pref := strings.ToLower(strings.TrimSpace(q.Provider))
	if pref == "" {
		pref = ProviderAuto
	}
	if pref != ProviderAuto && pref != r.intraday.Name() && pref != r.bulk.Name() {
		return nil, apperr.InvalidArgumentf("invalid provider %q", q.Provider)
	}

	inds, err := indicator.Normalize(q.Indicators)
	if err != nil {
		return nil, err
	}
	q.Indicators = inds

	// Guardrails run against the requested preference before selection:
	// "auto" may fall back, so limits of every provider it could reach
	// apply up front.
	if err := r.checkGuardrails(pref, q); err != nil {
		return nil, err
	}

	selected := r.selectClient(pref, q)
	fp := Fingerprint{
		Symbol:     q.Symbol,
		Resolution: q.Resolution,
		From:       q.From,
		To:         q.To,
		Provider:   selected.Name(),
		Indicators: inds,
	}

	if rows, ok := r.cacheGet(ctx, fp.Key()); ok {
		return rows, nil
	}

	v, err, _ := r.group.Do(fp.Key(), func() (interface{}, error) {
		// A flight that lost the race may arrive after the winner stored.
		if rows, ok := r.cacheGet(ctx, fp.Key()); ok {
			return rows, nil
		}
		return r.fetchAndStore(ctx, q, pref, selected, fp)
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.CandleWithIndicators), nil
}

func (r *Resolver) cacheGet(ctx context.Context, key string) ([]model.CandleWithIndicators, bool) {
	rows, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		r.log.Warn("cache lookup failed", "key", key, "err", err)
		return nil, false
	}
	if ok {
		r.metrics.CacheHits.Inc()
		return rows, true
	}
	r.metrics.CacheMisses.Inc()
	return nil, false
}

// checkGuardrails enforces the per-resolution range ceilings for every
// provider the preference could resolve to.
func (r *Resolver) checkGuardrails(pref string, q Query) error {
	rng := q.rangeDuration()
	if q.Resolution == model.Resolution1Min &&
		(pref == ProviderAuto || pref == r.bulk.Name()) &&
		rng > maxBulk1MinRange {
		return &apperr.RangeTooLargeError{Provider: r.bulk.Name(), Ceiling: ceilingBulk1Min}
	}
	// Only an explicit preference can reach the intraday provider with an
	// over-long range: auto never selects it past a year and the fallback
	// direction runs away from it.
	if pref == r.intraday.Name() && rng > maxIntradayRange {
		return &apperr.RangeTooLargeError{Provider: r.intraday.Name(), Ceiling: ceilingIntradayREST}
	}
	return nil
}

func (r *Resolver) selectClient(pref string, q Query) provider.Client {
	if pref == ProviderAuto {
		if q.Resolution.Intraday() && q.rangeDuration() <= maxIntradayRange {
			return r.intraday
		}
		return r.bulk
	}
	if pref == r.intraday.Name() {
		return r.intraday
	}
	return r.bulk
}

func (r *Resolver) fetchAndStore(
	ctx context.Context,
	q Query,
	pref string,
	selected provider.Client,
	fp Fingerprint,
) ([]model.CandleWithIndicators, error) {
	candles, used, err := r.fetch(ctx, q, pref, selected)
	if err != nil {
		return nil, err
	}

	// A fallback changes the provider the result came from; the stored
	// fingerprint must reflect that.
	fp.Provider = used.Name()

	rows, err := r.engine.Augment(candles, q.Indicators)
	if err != nil {
		return nil, err
	}
	if err := r.cache.Set(ctx, fp.Key(), rows); err != nil {
		r.log.Warn("cache store failed", "key", fp.Key(), "err", err)
	}
	return rows, nil
}

// fetch calls the selected provider, falling back exactly once from the
// intraday provider to the bulk provider when the preference was auto and
// the failure was upstream-side. The fallback is guardrail- and
// rate-limit-checked in its own right.
func (r *Resolver) fetch(
	ctx context.Context,
	q Query,
	pref string,
	selected provider.Client,
) ([]model.Candle, provider.Client, error) {
	if err := r.limiter.Allow(ctx, selected.Name()); err != nil {
		r.noteLimited(selected.Name(), err)
		return nil, nil, err
	}

	candles, err := r.timedFetch(ctx, selected, q)
	if err == nil {
		return candles, selected, nil
	}

	if pref != ProviderAuto || selected.Name() != r.intraday.Name() || !apperr.IsUpstream(err) {
		return nil, nil, err
	}

	r.log.Warn("intraday provider failed, falling back to bulk provider",
		"symbol", q.Symbol, "err", err)

	if gerr := r.checkGuardrails(r.bulk.Name(), q); gerr != nil {
		return nil, nil, fmt.Errorf("fallback rejected: %w", errors.Join(err, gerr))
	}
	if lerr := r.limiter.Allow(ctx, r.bulk.Name()); lerr != nil {
		r.noteLimited(r.bulk.Name(), lerr)
		return nil, nil, errors.Join(err, lerr)
	}

	fallback, ferr := r.timedFetch(ctx, r.bulk, q)
	if ferr != nil {
		return nil, nil, fmt.Errorf("both providers failed: %w", errors.Join(err, ferr))
	}
	return fallback, r.bulk, nil
}

func (r *Resolver) timedFetch(ctx context.Context, cli provider.Client, q Query) ([]model.Candle, error) {
	start := time.Now()
	candles, err := cli.Fetch(ctx, q.Symbol, q.Resolution, q.From, q.To)
	r.metrics.FetchDuration.WithLabelValues(cli.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if apperr.IsUpstream(err) {
			r.metrics.UpstreamErrors.WithLabelValues(cli.Name()).Inc()
		}
		return nil, err
	}
	return candles, nil
}

func (r *Resolver) noteLimited(name string, err error) {
	if apperr.IsRateLimited(err) {
		r.metrics.RateLimited.WithLabelValues(name).Inc()
	}
}
