package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"trademind/internal/apperr"
	"trademind/internal/history"
	"trademind/internal/model"
)

// defaultLookback applies when the request carries neither from_ts nor
// minutes: the trailing day.
const defaultLookback = 24 * time.Hour

type errorBody struct {
	Error string `json:"error"`
}

// handleHistory serves GET /api/v1/candles/history.
//
// Range selection: explicit from_ts wins; otherwise minutes counts back
// from to_ts (default now). indicators is a comma-separated list like
// "sma_20,rsi_14".
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}

	resolution := q.Get("resolution")
	if resolution == "" {
		resolution = string(model.Resolution1Min)
	}

	fromTS, ok := parseOptionalInt(w, q.Get("from_ts"), "from_ts")
	if !ok {
		return
	}
	toTS, ok := parseOptionalInt(w, q.Get("to_ts"), "to_ts")
	if !ok {
		return
	}
	minutes, ok := parseOptionalInt(w, q.Get("minutes"), "minutes")
	if !ok {
		return
	}
	if minutes != nil && *minutes <= 0 {
		writeError(w, http.StatusBadRequest, "minutes must be positive")
		return
	}

	now := time.Now().Unix()
	to := now
	if toTS != nil {
		to = *toTS
	}
	var from int64
	switch {
	case fromTS != nil:
		from = *fromTS
	case minutes != nil:
		from = to - *minutes*60
	default:
		from = to - int64(defaultLookback.Seconds())
	}

	var indicators []string
	if raw := q.Get("indicators"); raw != "" {
		indicators = strings.Split(raw, ",")
	}

	rows, err := s.resolver.Resolve(r.Context(), history.Query{
		Symbol:     symbol,
		Resolution: model.Resolution(resolution),
		From:       from,
		To:         to,
		Provider:   q.Get("provider"),
		Indicators: indicators,
	})
	if err != nil {
		status, msg := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.log.Error("history query failed", "symbol", symbol, "err", err)
		}
		writeError(w, status, msg)
		return
	}
	if len(rows) == 0 {
		writeError(w, http.StatusNotFound, "no candles found")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(rows)
}

// statusFor maps resolver errors to HTTP statuses. Rate limiting is
// checked before the upstream kind: a joined fallback error can carry
// both, and 429 is the actionable one.
func statusFor(err error) (int, string) {
	if apperr.IsRateLimited(err) {
		return http.StatusTooManyRequests, err.Error()
	}
	var invalid *apperr.InvalidArgumentError
	if errors.As(err, &invalid) {
		return http.StatusBadRequest, invalid.Msg
	}
	var tooLarge *apperr.RangeTooLargeError
	if errors.As(err, &tooLarge) {
		return http.StatusBadRequest, tooLarge.Error()
	}
	if apperr.IsUpstream(err) {
		return http.StatusBadGateway, "upstream provider error"
	}
	return http.StatusInternalServerError, "internal error"
}

func parseOptionalInt(w http.ResponseWriter, raw, name string) (*int64, bool) {
	if raw == "" {
		return nil, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		writeError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return nil, false
	}
	return &v, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: msg})
}
