package indicators

// WilliamsR computes Williams %R over period using close prices as a proxy
// for the high/low range (the market data pipeline retains close samples
// only — see pkg/types.PriceRing). Returns -50 (neutral midpoint) when
// there isn't a full window.
func WilliamsR(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return -50
	}
	window := prices[len(prices)-period:]
	hi, lo := window[0], window[0]
	for _, v := range window {
		if v > hi {
			hi = v
		}
		if v < lo {
			lo = v
		}
	}
	if hi == lo {
		return -50
	}
	close := prices[len(prices)-1]
	return (hi - close) / (hi - lo) * -100
}
