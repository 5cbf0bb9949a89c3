package decision

import (
	"github.com/shopspring/decimal"

	"perp-engine/internal/indicators"
	"perp-engine/pkg/types"
)

// minSmartSLTPSamples is the history floor below which the smart blend
// falls back to fixed settings percentages (spec.md §4.4 step 10).
const minSmartSLTPSamples = 30

// SLTPResult is the strategic stop-loss/take-profit placement the decision
// engine hands to the order manager.
type SLTPResult struct {
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
	StopLossPct     float64
	TakeProfitPct   float64
	RiskReward      float64
}

// modeDistanceMult scales the smart SL/TP distance by the engine's overall
// risk posture: aggressive mode runs wider targets, conservative tighter.
func modeDistanceMult(mode types.Mode) float64 {
	switch mode {
	case types.ModeAggressive:
		return 1.2
	case types.ModeConservative:
		return 0.8
	default:
		return 1.0
	}
}

// StrategicSLTP blends the user's base SL/TP percentages (already adjusted
// by the regime multipliers from step 6) with an ATR-derived read, then
// applies the trend/strength/volatility/mode multiplier chain from
// spec.md §4.4 step 10. Falls back to the fixed base percentages unmodified
// when useSmartSLTP is off or there isn't enough history.
func StrategicSLTP(prices []float64, entry decimal.Decimal, side types.PositionSide, mode types.Mode, baseSLPct, baseTPPct float64, useSmartSLTP bool, regime RegimeResult) SLTPResult {
	if !useSmartSLTP || len(prices) < minSmartSLTPSamples {
		return buildResult(entry, side, baseSLPct, baseTPPct, prices)
	}

	atrPct := indicators.ATRPercent(prices, 14)
	blendedSL := baseSLPct*0.6 + atrPct*0.4
	blendedTP := baseTPPct*0.6 + (atrPct*2)*0.4

	ts := indicators.TrendStrength(prices, 14)
	tradeDir := DirLong
	if side == types.Short {
		tradeDir = DirShort
	}
	trendAligned := (tradeDir == DirLong && ts.Direction == indicators.DirUp) ||
		(tradeDir == DirShort && ts.Direction == indicators.DirDown)
	trendDirMult := 0.8
	if trendAligned {
		trendDirMult = 1.5
	}

	// trend-strength adjustment: stronger trend widens the stop modestly,
	// weak/sideways trend tightens it.
	trendStrengthMult := 1.0 + (ts.Strength-25)/200 // ~0.875 at ADX 0, ~1.125 at ADX 50

	currentVol := indicators.Volatility(prices, 10)
	avgVol := indicators.Volatility(prices, 20)
	volMult := 1.0
	if avgVol > 0 {
		volMult = clamp(currentVol/avgVol, 0.8, 1.3)
	}

	modeMult := modeDistanceMult(mode)

	slPct := blendedSL * trendDirMult * trendStrengthMult * volMult * modeMult
	slPct = clamp(slPct, 0.5*baseSLPct, 2.0*baseSLPct)
	tpPct := blendedTP * trendDirMult * trendStrengthMult * volMult * modeMult

	result := buildResult(entry, side, slPct, tpPct, prices)
	return snapToSupportResistance(result, entry, side, prices)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func buildResult(entry decimal.Decimal, side types.PositionSide, slPct, tpPct float64, prices []float64) SLTPResult {
	sl := decimal.NewFromFloat(slPct / 100)
	tp := decimal.NewFromFloat(tpPct / 100)
	one := decimal.NewFromInt(1)

	var slPrice, tpPrice decimal.Decimal
	if side == types.Long {
		slPrice = entry.Mul(one.Sub(sl))
		tpPrice = entry.Mul(one.Add(tp))
	} else {
		slPrice = entry.Mul(one.Add(sl))
		tpPrice = entry.Mul(one.Sub(tp))
	}

	rr := 0.0
	if slPct > 0 {
		rr = tpPct / slPct
	}

	return SLTPResult{
		StopLossPrice:   slPrice,
		TakeProfitPrice: tpPrice,
		StopLossPct:     slPct,
		TakeProfitPct:   tpPct,
		RiskReward:      rr,
	}
}

// snapToSupportResistance pulls the SL to just beyond the nearest support
// (long) or resistance (short) level when that level sits strictly closer
// to entry than the computed SL — a tighter, structurally-anchored stop.
func snapToSupportResistance(result SLTPResult, entry decimal.Decimal, side types.PositionSide, prices []float64) SLTPResult {
	levels := indicators.SupportResistance(prices, 20)
	if levels.Support == 0 && levels.Resistance == 0 {
		return result
	}
	entryF, _ := entry.Float64()
	const beyondPct = 0.001 // snap just beyond the level, not exactly on it

	if side == types.Long && levels.Support > 0 && levels.Support < entryF {
		snapped := levels.Support * (1 - beyondPct)
		if snapped > mustFloat(result.StopLossPrice) {
			result.StopLossPrice = decimal.NewFromFloat(snapped)
			result.StopLossPct = (entryF - snapped) / entryF * 100
			if result.StopLossPct > 0 {
				result.RiskReward = result.TakeProfitPct / result.StopLossPct
			}
		}
	}
	if side == types.Short && levels.Resistance > 0 && levels.Resistance > entryF {
		snapped := levels.Resistance * (1 + beyondPct)
		if snapped < mustFloat(result.StopLossPrice) {
			result.StopLossPrice = decimal.NewFromFloat(snapped)
			result.StopLossPct = (snapped - entryF) / entryF * 100
			if result.StopLossPct > 0 {
				result.RiskReward = result.TakeProfitPct / result.StopLossPct
			}
		}
	}
	return result
}

func mustFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
