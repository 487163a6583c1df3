package model

// Resolution identifies bar granularity: minute counts ("1", "5", "15",
// "30", "60") or daily/weekly/monthly buckets ("D", "W", "M").
type Resolution string

const (
	Resolution1Min  Resolution = "1"
	Resolution5Min  Resolution = "5"
	Resolution15Min Resolution = "15"
	Resolution30Min Resolution = "30"
	Resolution60Min Resolution = "60"
	ResolutionDay   Resolution = "D"
	ResolutionWeek  Resolution = "W"
	ResolutionMonth Resolution = "M"
)

// yahooIntervals maps resolutions to the interval strings the Yahoo chart
// API understands.
var yahooIntervals = map[Resolution]string{
	Resolution1Min:  "1m",
	Resolution5Min:  "5m",
	Resolution15Min: "15m",
	Resolution30Min: "30m",
	Resolution60Min: "1h",
	ResolutionDay:   "1d",
	ResolutionWeek:  "1wk",
	ResolutionMonth: "1mo",
}

// Valid reports whether r is a member of the resolution enum.
func (r Resolution) Valid() bool {
	_, ok := yahooIntervals[r]
	return ok
}

// Intraday reports whether r is one of the five minute-level granularities.
func (r Resolution) Intraday() bool {
	switch r {
	case Resolution1Min, Resolution5Min, Resolution15Min, Resolution30Min, Resolution60Min:
		return true
	}
	return false
}

// YahooInterval returns the Yahoo chart API interval string for r,
// defaulting to daily bars for unknown values.
func (r Resolution) YahooInterval() string {
	if iv, ok := yahooIntervals[r]; ok {
		return iv
	}
	return "1d"
}
