// Package config loads all process configuration from the environment,
// with an optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	ListenAddr    string `envconfig:"LISTEN_ADDR" default:":8000"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"*"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`

	// Redis backs the rate limiter, the result cache and the live
	// candle channel. Empty addr falls back to in-process equivalents.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	FinnhubAPIKey  string `envconfig:"FINNHUB_API_KEY" default:""`
	FinnhubBaseURL string `envconfig:"FINNHUB_BASE_URL" default:"https://finnhub.io/api/v1"`
	YahooBaseURL   string `envconfig:"YAHOO_BASE_URL" default:"https://query1.finance.yahoo.com"`

	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	PollLookback time.Duration `envconfig:"POLL_LOOKBACK" default:"120m"`

	CacheTTL        time.Duration `envconfig:"CACHE_TTL" default:"60s"`
	CacheMaxEntries int           `envconfig:"CACHE_MAX_ENTRIES" default:"500"`

	RateLimitPerMinute int           `envconfig:"RATE_LIMIT_PER_MINUTE" default:"50"`
	RateLimitWindow    time.Duration `envconfig:"RATE_LIMIT_WINDOW" default:"60s"`
}

// Load reads the environment into a Config. A missing .env file is not an
// error; a malformed variable is.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}
