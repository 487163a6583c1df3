package provider

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trademind/internal/apperr"
	"trademind/internal/model"
)

const (
	defaultFinnhubBaseURL = "https://finnhub.io/api/v1"
	finnhubTimeout        = 10 * time.Second
)

// Finnhub calls the /stock/candle endpoint of a Finnhub-style REST API.
type Finnhub struct {
	cli   *resty.Client
	token string
}

// NewFinnhub creates a Finnhub client. baseURL falls back to the public API
// when empty; token is passed as the "token" query parameter on every call.
func NewFinnhub(baseURL, token string) *Finnhub {
	if baseURL == "" {
		baseURL = defaultFinnhubBaseURL
	}
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(finnhubTimeout)
	return &Finnhub{cli: cli, token: token}
}

func (f *Finnhub) Name() string { return NameFinnhub }

// finnhubCandleResponse mirrors the column-oriented /stock/candle payload.
// S is "ok", "no_data" or "error".
type finnhubCandleResponse struct {
	S string    `json:"s"`
	T []int64   `json:"t"`
	O []float64 `json:"o"`
	H []float64 `json:"h"`
	L []float64 `json:"l"`
	C []float64 `json:"c"`
	V []float64 `json:"v"`
}

// Fetch retrieves candles in [from, to]. A non-"ok" status with HTTP 200
// means no data and yields an empty sequence, not an error.
func (f *Finnhub) Fetch(ctx context.Context, symbol string, resolution model.Resolution, from, to int64) ([]model.Candle, error) {
	var out finnhubCandleResponse
	resp, err := f.cli.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"symbol":     strings.ToUpper(symbol),
			"resolution": string(resolution),
			"from":       strconv.FormatInt(from, 10),
			"to":         strconv.FormatInt(to, 10),
			"token":      f.token,
		}).
		SetResult(&out).
		Get("/stock/candle")
	if err != nil {
		return nil, &apperr.UpstreamError{Provider: f.Name(), Err: err}
	}
	if resp.IsError() {
		return nil, &apperr.UpstreamError{
			Provider:   f.Name(),
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}
	if out.S != "ok" {
		return nil, nil
	}

	candles := make([]model.Candle, 0, len(out.T))
	for i, ts := range out.T {
		if i >= len(out.O) || i >= len(out.H) || i >= len(out.L) || i >= len(out.C) {
			break
		}
		c := model.Candle{T: ts, O: out.O[i], H: out.H[i], L: out.L[i], C: out.C[i]}
		if i < len(out.V) {
			c.V = out.V[i]
		}
		candles = append(candles, c)
	}
	return candles, nil
}

// FetchRecent retrieves the trailing lookback window at the given
// resolution, ending now. Used by the live poller.
func (f *Finnhub) FetchRecent(ctx context.Context, symbol string, resolution model.Resolution, lookback time.Duration) ([]model.Candle, error) {
	now := time.Now().Unix()
	return f.Fetch(ctx, symbol, resolution, now-int64(lookback/time.Second), now)
}
