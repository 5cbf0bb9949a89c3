package decision

import (
	"perp-engine/pkg/types"
)

const (
	minSizeMultiplier = 0.25
	maxSizeMultiplier = 2.0
)

// DrawdownState is the running-drawdown read the sizing step folds in.
type DrawdownState struct {
	ShouldReduceSize bool // drawdown past the "reduce" threshold
	ShouldPause      bool // drawdown past the hard threshold
}

// SizingInput bundles the state the dynamic-sizing step (§4.4 step 8) reads.
type SizingInput struct {
	Stats             types.TradingStats
	ConfluenceScore   float64 // 0-100, from the confluence pass
	WinRateLastTwenty float64 // 0-1, rolling win rate used for the win-streak boost
	KellyFraction     float64 // half-Kelly, already computed and clamped by the caller
	Drawdown          DrawdownState
}

// SizeMultiplier composes the consecutive-loss/win-streak/daily-PnL/
// confluence/Kelly/drawdown adjustments into one clamped multiplier, per
// spec.md §4.4 step 8.
func SizeMultiplier(in SizingInput) float64 {
	mult := 1.0

	switch {
	case in.Stats.ConsecutiveLosses >= 3:
		mult *= 0.25
	case in.Stats.ConsecutiveLosses == 2:
		mult *= 0.5
	case in.Stats.ConsecutiveLosses == 1:
		mult *= 0.75
	}

	if in.Stats.ConsecutiveWins >= 3 && in.WinRateLastTwenty >= 0.70 {
		mult *= 1.25
	}

	dailyPnl, _ := in.Stats.DailyPnl.Float64()
	switch {
	case dailyPnl < -50:
		mult *= 0.5
	case dailyPnl > 100:
		mult *= 1.1
	}

	switch {
	case in.ConfluenceScore >= 80:
		mult *= 1.2
	case in.ConfluenceScore < 60:
		mult *= 0.8
	}

	if in.KellyFraction > 0 {
		mult *= in.KellyFraction
	}

	if in.Drawdown.ShouldReduceSize {
		mult *= 0.5
	}

	return clampMultiplier(mult)
}

func clampMultiplier(m float64) float64 {
	if m < minSizeMultiplier {
		return minSizeMultiplier
	}
	if m > maxSizeMultiplier {
		return maxSizeMultiplier
	}
	return m
}

// HalfKelly computes the half-Kelly fraction from a rolling win rate and
// average win/loss ratio, clamped to [0, 1] — a conservative fractional-
// Kelly sizing input rather than full-Kelly, which over-bets on noisy
// win-rate estimates.
func HalfKelly(winRate, avgWinLossRatio float64) float64 {
	if avgWinLossRatio <= 0 {
		return 0
	}
	// Kelly fraction f* = winRate - (1-winRate)/avgWinLossRatio
	full := winRate - (1-winRate)/avgWinLossRatio
	half := full / 2
	if half < 0 {
		return 0
	}
	if half > 1 {
		return 1
	}
	return half
}

// DrawdownFromEquity classifies the current drawdown against the configured
// threshold: reduce size past the threshold, pause entirely past 2x it. A
// non-positive thresholdPct means no drawdown gate is configured for this
// user, so both factors stay off rather than tripping on a 0% threshold.
func DrawdownFromEquity(currentDrawdownPct, thresholdPct float64) DrawdownState {
	if thresholdPct <= 0 {
		return DrawdownState{}
	}
	return DrawdownState{
		ShouldReduceSize: currentDrawdownPct >= thresholdPct,
		ShouldPause:      currentDrawdownPct >= thresholdPct*2,
	}
}
