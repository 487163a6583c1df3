// Package indicator computes named technical indicators over complete
// candle windows. Supported names take the form "<kind>_<period>" with kind
// one of sma, ema, rsi. Every computation runs over the full input sequence
// so lookback-dependent values are correct from the first reportable point;
// values inside an indicator's warm-up window are omitted.
package indicator

import (
	"sort"
	"strconv"
	"strings"

	talib "github.com/markcheno/go-talib"

	"trademind/internal/apperr"
	"trademind/internal/model"
)

type kind string

const (
	kindSMA kind = "sma"
	kindEMA kind = "ema"
	kindRSI kind = "rsi"
)

// Normalize lower-cases, de-duplicates and sorts indicator names, rejecting
// any name outside the supported set. The result is stable for fingerprint
// use: logically identical requests normalize identically regardless of
// argument order or case.
func Normalize(names []string) ([]string, error) {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if _, _, err := parseName(name); err != nil {
			return nil, err
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func parseName(name string) (kind, int, error) {
	k, periodStr, found := strings.Cut(name, "_")
	if !found {
		return "", 0, apperr.InvalidArgumentf("unknown indicator %q", name)
	}
	switch kind(k) {
	case kindSMA, kindEMA, kindRSI:
	default:
		return "", 0, apperr.InvalidArgumentf("unknown indicator %q", name)
	}
	period, err := strconv.Atoi(periodStr)
	if err != nil || period < 1 {
		return "", 0, apperr.InvalidArgumentf("invalid indicator period in %q", name)
	}
	return kind(k), period, nil
}

// Engine is the indicator computation engine. Stateless: every Augment call
// computes from scratch over its input.
type Engine struct{}

// NewEngine creates an Engine.
func NewEngine() *Engine { return &Engine{} }

// Augment wraps each candle with the requested indicator values, preserving
// input length and order. Names must already be normalized (see Normalize).
// Candles inside an indicator's warm-up window carry no value for it; an
// indicator whose period exceeds the window length contributes nothing.
func (e *Engine) Augment(candles []model.Candle, names []string) ([]model.CandleWithIndicators, error) {
	out := make([]model.CandleWithIndicators, len(candles))
	for i, c := range candles {
		out[i] = model.CandleWithIndicators{Candle: c}
	}
	if len(names) == 0 || len(candles) == 0 {
		return out, nil
	}

	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.C
	}

	for _, name := range names {
		k, period, err := parseName(name)
		if err != nil {
			return nil, err
		}

		var series []float64
		var first int // index of the first valid value
		switch k {
		case kindSMA:
			if period > len(closes) {
				continue
			}
			series = talib.Sma(closes, period)
			first = period - 1
		case kindEMA:
			if period > len(closes) {
				continue
			}
			series = talib.Ema(closes, period)
			first = period - 1
		case kindRSI:
			if period >= len(closes) {
				continue
			}
			series = talib.Rsi(closes, period)
			first = period
		}

		for i := first; i < len(series); i++ {
			if out[i].Indicators == nil {
				out[i].Indicators = make(map[string]float64, len(names))
			}
			out[i].Indicators[name] = series[i]
		}
	}
	return out, nil
}
