// Package provider contains the upstream candle data sources: a
// Finnhub-style intraday REST API and a Yahoo-style historical bulk API.
// Both normalize vendor payloads into []model.Candle and surface HTTP
// failures as *apperr.UpstreamError so the resolver can decide between
// fallback and surfacing.
package provider

import (
	"context"

	"trademind/internal/model"
)

// Provider names as used in request preferences, fingerprints and rate
// limit windows.
const (
	NameFinnhub = "finnhub"
	NameYahoo   = "yahoo"
)

// Client fetches candles for one symbol in [from, to] (unix seconds) from a
// single upstream data source.
type Client interface {
	Name() string
	Fetch(ctx context.Context, symbol string, resolution model.Resolution, from, to int64) ([]model.Candle, error)
}
