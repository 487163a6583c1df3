package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"

	"trademind/config"
	"trademind/internal/api"
	"trademind/internal/broker"
	"trademind/internal/gateway"
	"trademind/internal/history"
	"trademind/internal/indicator"
	"trademind/internal/logger"
	"trademind/internal/metrics"
	"trademind/internal/model"
	"trademind/internal/poller"
	"trademind/internal/provider"
	memorystore "trademind/internal/store/memory"
	redisstore "trademind/internal/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	log := logger.Init("trademind", logger.ParseLevel(cfg.LogLevel))

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis backs the limiter, cache and live channel when configured;
	// otherwise everything runs in-process.
	var (
		limiter model.Limiter
		cache   model.CandleCache
		bus     model.Broker
	)
	if cfg.RedisAddr != "" {
		rdb := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Error("redis connection failed", "addr", cfg.RedisAddr, "err", err)
			os.Exit(1)
		}
		log.Info("redis connected", "addr", cfg.RedisAddr)
		limiter = redisstore.NewLimiter(rdb, cfg.RateLimitPerMinute, cfg.RateLimitWindow)
		cache = redisstore.NewCache(rdb, cfg.CacheTTL)
		bus = broker.NewRedis(rdb, log)
	} else {
		log.Info("no redis configured, using in-process backends")
		limiter = memorystore.NewLimiter(cfg.RateLimitPerMinute, cfg.RateLimitWindow)
		cache = memorystore.NewCache(cfg.CacheTTL, cfg.CacheMaxEntries)
		fanout := broker.NewFanout(broker.DefaultSubscriberBuffer)
		fanout.OnDrop = m.BroadcastDrops.Inc
		bus = fanout
	}
	defer bus.Close()

	finnhub := provider.NewFinnhub(cfg.FinnhubBaseURL, cfg.FinnhubAPIKey)
	yahoo := provider.NewYahoo(cfg.YahooBaseURL)
	engine := indicator.NewEngine()

	resolver := history.NewResolver(finnhub, yahoo, limiter, cache, engine, m, log)

	poll := poller.New(finnhub, bus, m, log, cfg.PollInterval, cfg.PollLookback)
	defer poll.Stop()

	hub := gateway.NewHub(bus, poll, m, log, cfg.AllowedOrigin)
	server := api.NewServer(resolver, hub, log, cfg.AllowedOrigin)

	httpSrv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(registry),
	}

	go func() {
		log.Info("http server listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Info("shutting down", "signal", s.String())
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "err", err)
	}
}
