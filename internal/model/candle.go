package model

import "encoding/json"

// Candle represents one OHLCV bar for a fixed time bucket. T is the bucket
// start in unix seconds. Within a single response sequence T is strictly
// increasing and unique; a Candle is never mutated after creation.
type Candle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
	V float64 `json:"v"`
}

// CandleWithIndicators pairs a candle with computed indicator values keyed
// by normalized indicator name (e.g. "sma_20"). The map is nil when the
// query requested no indicators or the candle falls inside an indicator's
// warm-up window.
type CandleWithIndicators struct {
	Candle
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// StreamMessage is the live-update payload pushed to WebSocket sessions.
type StreamMessage struct {
	Type       string   `json:"type"`
	Symbol     string   `json:"symbol"`
	Resolution string   `json:"resolution"`
	Candle     Candle   `json:"candle"`
	Patterns   []string `json:"patterns"`
}

// JSON returns the JSON-encoded message (ignoring errors for hot-path usage).
func (m *StreamMessage) JSON() []byte {
	b, _ := json.Marshal(m)
	return b
}
