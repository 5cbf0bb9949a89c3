package indicators

import "sort"

// OrderFlowSignal classifies the order-book imbalance delta.
type OrderFlowSignal string

const (
	FlowStrongBuy  OrderFlowSignal = "strong_buy"
	FlowBuy        OrderFlowSignal = "buy"
	FlowNeutral    OrderFlowSignal = "neutral"
	FlowSell       OrderFlowSignal = "sell"
	FlowStrongSell OrderFlowSignal = "strong_sell"
)

// OrderFlowResult is the order-book-derived directional pressure read.
type OrderFlowResult struct {
	PercentDelta float64
	Signal       OrderFlowSignal
	Institutional bool
}

// OrderFlow computes percent delta = (bids-asks)/(bids+asks) * 100 from
// aggregated top-of-book sizes and classifies it against ±10 (buy/sell) and
// ±30 (strong) thresholds. Institutional activity is flagged when at least
// two levels (across both sides combined) exceed 3x the median level size.
func OrderFlow(bidSizes, askSizes []float64) OrderFlowResult {
	var bidTotal, askTotal float64
	for _, s := range bidSizes {
		bidTotal += s
	}
	for _, s := range askSizes {
		askTotal += s
	}
	total := bidTotal + askTotal
	if total == 0 {
		return OrderFlowResult{Signal: FlowNeutral}
	}
	delta := (bidTotal - askTotal) / total * 100

	signal := FlowNeutral
	switch {
	case delta >= 30:
		signal = FlowStrongBuy
	case delta >= 10:
		signal = FlowBuy
	case delta <= -30:
		signal = FlowStrongSell
	case delta <= -10:
		signal = FlowSell
	}

	all := append(append([]float64{}, bidSizes...), askSizes...)
	med := median(all)
	institutional := false
	if med > 0 {
		count := 0
		for _, s := range all {
			if s > 3*med {
				count++
			}
		}
		institutional = count >= 2
	}

	return OrderFlowResult{PercentDelta: delta, Signal: signal, Institutional: institutional}
}

func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := append([]float64{}, vals...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
