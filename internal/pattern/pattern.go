// Package pattern classifies single candles into simple candlestick
// patterns. Classify is pure and allocation-light: it runs once per symbol
// per poll cycle on the hot path.
package pattern

import (
	"math"

	"trademind/internal/model"
)

// epsilon floors the high-low range so flat candles cannot divide by zero.
const epsilon = 1e-7

// Ratio thresholds relative to the candle's high-low range.
const (
	dojiBodyMax      = 0.1
	shadowDominant   = 0.6
	shadowNegligible = 0.1
	engulfGrowth     = 1.1 // current body must exceed previous body by >10%
)

// Classify tags latest with pattern names: doji (refined to gravestone or
// dragonfly by shadow dominance), engulfing patterns when previous is
// supplied and the body grew enough, and a bullish/bearish/neutral
// direction fallback when nothing else fired.
func Classify(latest model.Candle, previous *model.Candle) []string {
	patterns := make([]string, 0, 2)

	candleRange := latest.H - latest.L
	if candleRange < epsilon {
		candleRange = epsilon
	}
	body := math.Abs(latest.C - latest.O)
	upperShadow := latest.H - math.Max(latest.O, latest.C)
	lowerShadow := math.Min(latest.O, latest.C) - latest.L

	bodyRatio := body / candleRange
	upperRatio := upperShadow / candleRange
	lowerRatio := lowerShadow / candleRange

	if bodyRatio < dojiBodyMax {
		patterns = append(patterns, "doji")
		switch {
		case upperRatio >= shadowDominant && lowerRatio <= shadowNegligible:
			patterns = append(patterns, "gravestone_doji")
		case lowerRatio >= shadowDominant && upperRatio <= shadowNegligible:
			patterns = append(patterns, "dragonfly_doji")
		}
	}

	if previous != nil {
		prevBody := math.Abs(previous.C - previous.O)
		if prevBody > 0 && body > prevBody*engulfGrowth {
			bullish := latest.C > latest.O && previous.C < previous.O &&
				latest.O < previous.C && latest.C > previous.O
			bearish := latest.C < latest.O && previous.C > previous.O &&
				latest.O > previous.C && latest.C < previous.O
			if bullish {
				patterns = append(patterns, "bullish_engulfing")
			} else if bearish {
				patterns = append(patterns, "bearish_engulfing")
			}
		}
	}

	if len(patterns) == 0 {
		switch {
		case latest.C > latest.O:
			patterns = append(patterns, "bullish")
		case latest.C < latest.O:
			patterns = append(patterns, "bearish")
		default:
			patterns = append(patterns, "neutral")
		}
	}
	return patterns
}
