package provider

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trademind/internal/apperr"
	"trademind/internal/model"
)

const (
	defaultYahooBaseURL = "https://query1.finance.yahoo.com"
	yahooTimeout        = 15 * time.Second
)

// Yahoo calls the v8 chart endpoint of a Yahoo-Finance-style bulk API.
type Yahoo struct {
	cli *resty.Client
}

// NewYahoo creates a Yahoo client. baseURL falls back to the public query
// host when empty.
func NewYahoo(baseURL string) *Yahoo {
	if baseURL == "" {
		baseURL = defaultYahooBaseURL
	}
	cli := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(yahooTimeout).
		SetHeader("User-Agent", "trademind/1.0")
	return &Yahoo{cli: cli}
}

func (y *Yahoo) Name() string { return NameYahoo }

// yahooChartResponse mirrors the relevant parts of the v8 chart payload.
// OHLC columns are nullable: rows with missing prices are skipped.
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch retrieves candles in [from, to]. An empty result set yields an
// empty sequence, not an error.
func (y *Yahoo) Fetch(ctx context.Context, symbol string, resolution model.Resolution, from, to int64) ([]model.Candle, error) {
	var out yahooChartResponse
	resp, err := y.cli.R().
		SetContext(ctx).
		SetPathParam("symbol", strings.ToUpper(symbol)).
		SetQueryParams(map[string]string{
			"period1":        strconv.FormatInt(from, 10),
			"period2":        strconv.FormatInt(to, 10),
			"interval":       resolution.YahooInterval(),
			"includePrePost": "false",
		}).
		SetResult(&out).
		Get("/v8/finance/chart/{symbol}")
	if err != nil {
		return nil, &apperr.UpstreamError{Provider: y.Name(), Err: err}
	}
	if resp.IsError() {
		return nil, &apperr.UpstreamError{
			Provider:   y.Name(),
			StatusCode: resp.StatusCode(),
			Body:       strings.TrimSpace(string(resp.Body())),
		}
	}
	if out.Chart.Error != nil {
		return nil, &apperr.UpstreamError{
			Provider:   y.Name(),
			StatusCode: resp.StatusCode(),
			Body:       fmt.Sprintf("%s: %s", out.Chart.Error.Code, out.Chart.Error.Description),
		}
	}
	if len(out.Chart.Result) == 0 {
		return nil, nil
	}

	result := out.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	candles := make([]model.Candle, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quote.Open) || i >= len(quote.High) || i >= len(quote.Low) || i >= len(quote.Close) {
			break
		}
		o, h, l, c := quote.Open[i], quote.High[i], quote.Low[i], quote.Close[i]
		if o == nil || h == nil || l == nil || c == nil {
			continue
		}
		candle := model.Candle{T: ts, O: *o, H: *h, L: *l, C: *c}
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			candle.V = *quote.Volume[i]
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
