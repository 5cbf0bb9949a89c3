package decision

import (
	"perp-engine/internal/indicators"
	"perp-engine/pkg/types"
)

// Regime is the market-character classification that scales TP/SL targets
// and can veto a trade entirely.
type Regime string

const (
	RegimeTrendingUp   Regime = "trending_up"
	RegimeTrendingDown Regime = "trending_down"
	RegimeRanging      Regime = "ranging"
	RegimeVolatile     Regime = "volatile"
	RegimeUnknown      Regime = "unknown"
)

// RegimeResult is the classification plus the TP/SL multipliers and
// strategy recommendation it implies.
type RegimeResult struct {
	Regime          Regime
	TPMultiplier    float64
	SLMultiplier    float64
	RecommendAvoid  bool
}

const (
	rangingWindow   = 20
	highVolatilityX = 1.5 // current vol vs average vol ratio that reads "volatile"
)

// ClassifyRegime derives the market regime from ADX-like trend strength,
// the EMA stack, the 20-bar range percent, and current-vs-average
// volatility, per spec.md §4.4 step 6.
func ClassifyRegime(prices []float64) RegimeResult {
	if len(prices) < rangingWindow+1 {
		return RegimeResult{Regime: RegimeUnknown, TPMultiplier: 1.0, SLMultiplier: 1.0}
	}

	ts := indicators.TrendStrength(prices, 14)
	currentVol := indicators.Volatility(prices, 10)
	avgVol := indicators.Volatility(prices, rangingWindow)
	rangePct := rangePercent(prices, rangingWindow)

	isVolatile := avgVol > 0 && currentVol/avgVol >= highVolatilityX
	if isVolatile {
		return RegimeResult{Regime: RegimeVolatile, TPMultiplier: 0.5, SLMultiplier: 1.5, RecommendAvoid: true}
	}

	switch {
	case ts.Strength >= 25 && ts.Direction == indicators.DirUp:
		return RegimeResult{Regime: RegimeTrendingUp, TPMultiplier: 1.5, SLMultiplier: 0.8}
	case ts.Strength >= 25 && ts.Direction == indicators.DirDown:
		return RegimeResult{Regime: RegimeTrendingDown, TPMultiplier: 1.5, SLMultiplier: 0.8}
	case rangePct <= 3.0:
		return RegimeResult{Regime: RegimeRanging, TPMultiplier: 0.7, SLMultiplier: 1.0}
	default:
		return RegimeResult{Regime: RegimeUnknown, TPMultiplier: 1.0, SLMultiplier: 1.0}
	}
}

// rangePercent is the high-low range of the trailing window expressed as a
// percentage of its midpoint.
func rangePercent(prices []float64, window int) float64 {
	if len(prices) < window {
		return 0
	}
	recent := prices[len(prices)-window:]
	hi, lo := recent[0], recent[0]
	for _, p := range recent {
		if p > hi {
			hi = p
		}
		if p < lo {
			lo = p
		}
	}
	mid := (hi + lo) / 2
	if mid == 0 {
		return 0
	}
	return (hi - lo) / mid * 100
}

// RegimeAllowsTrade applies the trade-veto rule: a regime recommending
// "avoid" blocks the trade unless the mode is aggressive or the user has
// opted into counter-trend trading for this mode.
func RegimeAllowsTrade(r RegimeResult, mode types.Mode, allowCounterTrend bool) bool {
	if !r.RecommendAvoid {
		return true
	}
	return mode == types.ModeAggressive || allowCounterTrend
}
