// Package poller runs one shared polling loop over the set of symbols
// with at least one live subscriber. Each cycle fetches the most recent
// 1-minute bar per symbol, deduplicates against the last published
// timestamp and publishes fresh bars to the broker.
package poller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"trademind/internal/metrics"
	"trademind/internal/model"
	"trademind/internal/pattern"
)

const (
	// DefaultInterval is the pause between poll cycles.
	DefaultInterval = 5 * time.Second
	// DefaultLookback is how far back each poll asks for bars so the
	// latest completed bar is always inside the window.
	DefaultLookback = 120 * time.Minute
)

// RecentFetcher fetches the trailing window of 1-minute bars for a symbol.
type RecentFetcher interface {
	FetchRecent(ctx context.Context, symbol string, resolution model.Resolution, lookback time.Duration) ([]model.Candle, error)
}

type symbolState struct {
	refs   int
	lastTS int64
	// dropped marks a symbol whose last poll errored. The entry stays so
	// subscriber refcounts survive; polling resumes when a new Subscribe
	// clears the flag.
	dropped bool
}

// Poller owns the subscription set. The loop runs only while the set is
/// non-empty: the first Subscribe starts it, draining the set stops it.
type Poller struct {
	fetcher  RecentFetcher
	broker   model.Broker
	metrics  *metrics.Metrics
	log      *slog.Logger
	interval time.Duration
	lookback time.Duration

	mu      sync.Mutex
	symbols map[string]*symbolState
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New builds a poller. fetcher is typically the intraday provider client.
func New(fetcher RecentFetcher, broker model.Broker, m *metrics.Metrics, log *slog.Logger, interval, lookback time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Poller{
		fetcher:  fetcher,
		broker:   broker,
		metrics:  m,
		log:      log,
		interval: interval,
		lookback: lookback,
		symbols:  make(map[string]*symbolState),
	}
}

// Subscribe registers interest in a symbol. The first subscriber for the
// first symbol starts the loop; repeat subscribers share the existing
// entry via a refcount.
func (p *Poller) Subscribe(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return
	}
	p.addRef(symbol)
	if !p.running {
		p.running = true
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go p.loop(ctx, p.done)
		p.log.Info("poll loop started", "symbol", symbol)
	}
}

// addRef takes one reference on a symbol, creating or reviving its entry.
// Caller holds p.mu.
func (p *Poller) addRef(symbol string) {
	st, ok := p.symbols[symbol]
	if !ok {
		st = &symbolState{}
		p.symbols[symbol] = st
	}
	st.refs++
	st.dropped = false
	p.metrics.SymbolsPolled.Set(float64(p.activeLocked()))
}

// activeLocked counts symbols currently being polled. Caller holds p.mu.
func (p *Poller) activeLocked() int {
	n := 0
	for _, st := range p.symbols {
		if !st.dropped {
			n++
		}
	}
	return n
}

// Unsubscribe drops one reference; the symbol leaves the set when the
// last subscriber goes.
func (p *Poller) Unsubscribe(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.symbols[symbol]
	if !ok {
		return
	}
	st.refs--
	if st.refs <= 0 {
		delete(p.symbols, symbol)
		p.metrics.SymbolsPolled.Set(float64(p.activeLocked()))
	}
}

// drop pauses polling for a symbol whose fetch errored. Existing
// subscriber refcounts are untouched so a later disconnect cannot destroy
// state a newer session depends on; the next Subscribe resumes polling.
func (p *Poller) drop(symbol string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if st, ok := p.symbols[symbol]; ok && !st.dropped {
		st.dropped = true
		p.metrics.SymbolsPolled.Set(float64(p.activeLocked()))
		p.metrics.SymbolsDropped.Inc()
	}
}

// Stop shuts the loop down and prevents restarts. Safe to call more than
// once; blocks until the loop goroutine exits.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		if !p.cycle(ctx) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// cycle polls every subscribed symbol once. Returns false when the set is
// empty, which ends the loop; the next Subscribe starts a fresh one.
func (p *Poller) cycle(ctx context.Context) bool {
	p.mu.Lock()
	if len(p.symbols) == 0 {
		p.running = false
		p.cancel = nil
		p.mu.Unlock()
		p.log.Info("poll loop idle, exiting")
		return false
	}
	batch := make([]string, 0, len(p.symbols))
	for sym, st := range p.symbols {
		if !st.dropped {
			batch = append(batch, sym)
		}
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, sym := range batch {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(sym string) {
			defer wg.Done()
			p.pollSymbol(ctx, sym)
		}(sym)
	}
	wg.Wait()
	if ctx.Err() != nil {
		return false
	}
	p.metrics.PollCycles.Inc()
	return true
}

func (p *Poller) pollSymbol(ctx context.Context, symbol string) {
	candles, err := p.fetcher.FetchRecent(ctx, symbol, model.Resolution1Min, p.lookback)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.log.Warn("poll failed, dropping symbol", "symbol", symbol, "err", err)
		p.drop(symbol)
		return
	}
	if len(candles) == 0 {
		return
	}
	latest := candles[len(candles)-1]

	p.mu.Lock()
	st, ok := p.symbols[symbol]
	if !ok || st.dropped {
		p.mu.Unlock()
		return
	}
	// At-least-once: a bar with the same timestamp may carry updated
	// volume, so equality still publishes. Only strictly older bars are
	// suppressed.
	if st.lastTS != 0 && latest.T < st.lastTS {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	msg := model.StreamMessage{
		Type:       "candle",
		Symbol:     symbol,
		Resolution: string(model.Resolution1Min),
		Candle:     latest,
		Patterns:   pattern.Classify(latest, pickPrev(candles, latest)),
	}
	if err := p.broker.Publish(ctx, msg); err != nil {
		p.log.Warn("publish failed", "symbol", symbol, "err", err)
		return
	}

	// Advance the watermark only once the bar actually went out, so a
	// failed publish retries the same bar next cycle.
	p.mu.Lock()
	if st, ok := p.symbols[symbol]; ok && latest.T > st.lastTS {
		st.lastTS = latest.T
	}
	p.mu.Unlock()
	p.metrics.CandlesPublished.Inc()
}

// pickPrev finds the bar immediately preceding the latest one inside the
// fetched window, when present.
func pickPrev(candles []model.Candle, latest model.Candle) *model.Candle {
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].T < latest.T {
			c := candles[i]
			return &c
		}
	}
	return nil
}
