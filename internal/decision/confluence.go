package decision

import (
	"perp-engine/internal/indicators"
)

// Direction is the trade direction a confluence pass settles on.
type Direction string

const (
	DirLong    Direction = "long"
	DirShort   Direction = "short"
	DirNeutral Direction = "neutral"
)

// SignalVote is one indicator's contribution to the confluence tally: its
// direction, its own reading strength (0-100), and its fixed importance
// weight.
type SignalVote struct {
	Name      string
	Direction Direction
	Strength  float64
	Weight    float64
}

// ConfluenceResult is the outcome of evaluating the full indicator set
// against one symbol's price/volume/book history.
type ConfluenceResult struct {
	Direction     Direction
	AlignedCount  int // votes agreeing with Direction
	OpposedCount  int
	TotalStrength float64 // weighted average of the winning side's strengths, rounded
	Votes         []SignalVote
}

// confluenceInput bundles everything a single confluence pass needs.
type confluenceInput struct {
	Prices   []float64 // closes, oldest first
	Volumes  []float64
	BidSizes []float64
	AskSizes []float64
}

const srProximityPct = 1.0 // within 1% of a support/resistance level counts as "near"

// Confluence evaluates the C3 indicator set and emits a weighted directional
// read per spec.md §4.4 step 5. Signals whose preconditions aren't satisfied
// (not enough history, reading inside its neutral band) simply don't vote.
func Confluence(in confluenceInput) ConfluenceResult {
	var votes []SignalVote

	if v, ok := macdVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := emaStackVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := zscoreVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := orderFlowVote(in.BidSizes, in.AskSizes); ok {
		votes = append(votes, v)
	}
	if v, ok := bollingerSqueezeVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := rsiVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := stochRSIVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := supportResistanceVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := momentumVote(in.Prices); ok {
		votes = append(votes, v)
	}
	if v, ok := imbalanceVote(in.BidSizes, in.AskSizes); ok {
		votes = append(votes, v)
	}
	if v, ok := higherHighsLowerLowsVote(in.Prices); ok {
		votes = append(votes, v)
	}

	return tally(votes)
}

func tally(votes []SignalVote) ConfluenceResult {
	var longCount, shortCount int
	var longStrength, longWeight, shortStrength, shortWeight float64
	for _, v := range votes {
		switch v.Direction {
		case DirLong:
			longCount++
			longStrength += v.Strength * v.Weight
			longWeight += v.Weight
		case DirShort:
			shortCount++
			shortStrength += v.Strength * v.Weight
			shortWeight += v.Weight
		}
	}

	result := ConfluenceResult{Direction: DirNeutral, Votes: votes}

	var winCount, loseCount int
	var winStrength, winWeight float64
	switch {
	case longCount >= shortCount+2 && longCount >= 2:
		result.Direction = DirLong
		winCount, loseCount = longCount, shortCount
		winStrength, winWeight = longStrength, longWeight
	case shortCount >= longCount+2 && shortCount >= 2:
		result.Direction = DirShort
		winCount, loseCount = shortCount, longCount
		winStrength, winWeight = shortStrength, shortWeight
	default:
		return result
	}

	result.AlignedCount = winCount
	result.OpposedCount = loseCount
	if winWeight > 0 {
		result.TotalStrength = roundTo(winStrength/winWeight, 0)
	}
	return result
}

func roundTo(v float64, places int) float64 {
	mult := 1.0
	for i := 0; i < places; i++ {
		mult *= 10
	}
	return float64(int(v*mult+signOf(v)*0.5)) / mult
}

func signOf(v float64) float64 {
	if v < 0 {
		return -1
	}
	return 1
}

func clampStrength(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func macdVote(prices []float64) (SignalVote, bool) {
	m := indicators.MACD(prices, 12, 26, 9)
	if m.Crossover == indicators.CrossoverNone || len(prices) == 0 || prices[len(prices)-1] == 0 {
		return SignalVote{}, false
	}
	pctHist := m.Histogram / prices[len(prices)-1] * 100
	dir := DirLong
	if m.Crossover == indicators.CrossoverBearish {
		dir = DirShort
	}
	return SignalVote{Name: "macd_cross", Direction: dir, Weight: 1.6, Strength: clampStrength(abs(pctHist) / 1.0 * 100)}, true
}

func emaStackVote(prices []float64) (SignalVote, bool) {
	if len(prices) < 50 || prices[len(prices)-1] == 0 {
		return SignalVote{}, false
	}
	e9 := indicators.EMA(prices, 9)
	e21 := indicators.EMA(prices, 21)
	e50 := indicators.EMA(prices, 50)

	var dir Direction
	switch {
	case e9 > e21 && e21 > e50:
		dir = DirLong
	case e9 < e21 && e21 < e50:
		dir = DirShort
	default:
		return SignalVote{}, false
	}
	strength := clampStrength(abs(e9-e50) / prices[len(prices)-1] * 100 / 2.0 * 100)
	return SignalVote{Name: "ema_stack", Direction: dir, Weight: 1.5, Strength: strength}, true
}

func zscoreVote(prices []float64) (SignalVote, bool) {
	z := indicators.ZScore(prices, 20)
	var dir Direction
	switch z.Signal {
	case indicators.ZSignalStrongBuy:
		dir = DirLong
	case indicators.ZSignalStrongSell:
		dir = DirShort
	default:
		return SignalVote{}, false
	}
	return SignalVote{Name: "zscore_strong", Direction: dir, Weight: 1.5, Strength: clampStrength(abs(z.Value) / 3 * 100)}, true
}

func orderFlowVote(bidSizes, askSizes []float64) (SignalVote, bool) {
	if len(bidSizes) == 0 && len(askSizes) == 0 {
		return SignalVote{}, false
	}
	f := indicators.OrderFlow(bidSizes, askSizes)
	var dir Direction
	switch f.Signal {
	case indicators.FlowStrongBuy:
		dir = DirLong
	case indicators.FlowStrongSell:
		dir = DirShort
	default:
		return SignalVote{}, false
	}
	return SignalVote{Name: "order_flow_strong", Direction: dir, Weight: 1.4, Strength: clampStrength(abs(f.PercentDelta) / 50 * 100)}, true
}

func bollingerSqueezeVote(prices []float64) (SignalVote, bool) {
	b := indicators.Bollinger(prices, 20, 2.0)
	if !b.Squeeze {
		return SignalVote{}, false
	}
	dir := DirShort
	if b.PercentB >= 0.5 {
		dir = DirLong
	}
	return SignalVote{Name: "bb_squeeze", Direction: dir, Weight: 1.2, Strength: clampStrength((4 - b.Bandwidth) / 4 * 100)}, true
}

func rsiVote(prices []float64) (SignalVote, bool) {
	r := indicators.RSI(prices, 14)
	var dir Direction
	switch {
	case r <= 30:
		dir = DirLong
	case r >= 70:
		dir = DirShort
	default:
		return SignalVote{}, false
	}
	return SignalVote{Name: "rsi", Direction: dir, Weight: 1.2, Strength: clampStrength(abs(r-50) / 50 * 100)}, true
}

func stochRSIVote(prices []float64) (SignalVote, bool) {
	s := indicators.StochRSI(prices, 14, 14, 3, 3)
	var dir Direction
	switch s.Crossover {
	case indicators.CrossoverBullish:
		dir = DirLong
	case indicators.CrossoverBearish:
		dir = DirShort
	default:
		return SignalVote{}, false
	}
	return SignalVote{Name: "stoch_rsi_cross", Direction: dir, Weight: 1.4, Strength: clampStrength(abs(s.K-s.D) * 2)}, true
}

func supportResistanceVote(prices []float64) (SignalVote, bool) {
	if len(prices) == 0 {
		return SignalVote{}, false
	}
	levels := indicators.SupportResistance(prices, 20)
	if levels.Support == 0 && levels.Resistance == 0 {
		return SignalVote{}, false
	}
	last := prices[len(prices)-1]
	if last == 0 {
		return SignalVote{}, false
	}
	distSupport := abs(last-levels.Support) / last * 100
	distResistance := abs(last-levels.Resistance) / last * 100

	switch {
	case distSupport <= srProximityPct && distSupport <= distResistance:
		return SignalVote{Name: "support_resistance", Direction: DirLong, Weight: 1.3, Strength: clampStrength((srProximityPct - distSupport) / srProximityPct * 100)}, true
	case distResistance <= srProximityPct:
		return SignalVote{Name: "support_resistance", Direction: DirShort, Weight: 1.3, Strength: clampStrength((srProximityPct - distResistance) / srProximityPct * 100)}, true
	default:
		return SignalVote{}, false
	}
}

const momentumProximityPct = 2.0

func momentum5(prices []float64) float64 {
	if len(prices) < 6 {
		return 0
	}
	prev := prices[len(prices)-6]
	last := prices[len(prices)-1]
	if prev == 0 {
		return 0
	}
	return (last - prev) / prev * 100
}

func momentumVote(prices []float64) (SignalVote, bool) {
	m := momentum5(prices)
	if abs(m) < 0.5 {
		return SignalVote{}, false
	}
	dir := DirLong
	if m < 0 {
		dir = DirShort
	}
	return SignalVote{Name: "momentum", Direction: dir, Weight: 1.0, Strength: clampStrength(abs(m) / momentumProximityPct * 100)}, true
}

func imbalanceVote(bidSizes, askSizes []float64) (SignalVote, bool) {
	bidTotal, askTotal := sumAll(bidSizes), sumAll(askSizes)
	total := bidTotal + askTotal
	if total == 0 {
		return SignalVote{}, false
	}
	imbalance := bidTotal / total
	if abs(imbalance-0.5) < 0.1 {
		return SignalVote{}, false
	}
	dir := DirShort
	if imbalance > 0.5 {
		dir = DirLong
	}
	return SignalVote{Name: "order_book_imbalance", Direction: dir, Weight: 0.8, Strength: clampStrength(abs(imbalance-0.5) * 2 * 100)}, true
}

// higherHighsLowerLowsVote looks at the last 10 steps (11 closes) and votes long when
// at least 70% of consecutive steps are higher highs, short on the mirror
// lower-lows case.
func higherHighsLowerLowsVote(prices []float64) (SignalVote, bool) {
	const window = 10
	if len(prices) < window+1 {
		return SignalVote{}, false
	}
	recent := prices[len(prices)-window-1:]
	var higher, lower int
	for i := 1; i < len(recent); i++ {
		switch {
		case recent[i] > recent[i-1]:
			higher++
		case recent[i] < recent[i-1]:
			lower++
		}
	}
	higherRatio := float64(higher) / float64(window)
	lowerRatio := float64(lower) / float64(window)

	switch {
	case higherRatio >= 0.7:
		return SignalVote{Name: "hh_ll", Direction: DirLong, Weight: 1.1, Strength: clampStrength(higherRatio * 100)}, true
	case lowerRatio >= 0.7:
		return SignalVote{Name: "hh_ll", Direction: DirShort, Weight: 1.1, Strength: clampStrength(lowerRatio * 100)}, true
	default:
		return SignalVote{}, false
	}
}

func sumAll(vals []float64) float64 {
	var total float64
	for _, v := range vals {
		total += v
	}
	return total
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
