package indicators

// BollingerResult is the band set plus the derived %B and bandwidth metrics.
type BollingerResult struct {
	Middle    float64
	Upper     float64
	Lower     float64
	PercentB  float64 // (close - lower) / (upper - lower)
	Bandwidth float64 // (upper - lower) / middle, as a percentage
	Squeeze   bool    // bandwidth < 4%
}

// Bollinger computes Bollinger Bands over period with the given standard
// deviation multiplier (commonly 2.0).
func Bollinger(prices []float64, period int, stdDevMult float64) BollingerResult {
	if period <= 0 || len(prices) < period {
		return BollingerResult{}
	}
	window := prices[len(prices)-period:]
	mid := sma(window, period)
	sd := stddev(window)
	upper := mid + stdDevMult*sd
	lower := mid - stdDevMult*sd

	res := BollingerResult{Middle: mid, Upper: upper, Lower: lower}
	if upper != lower {
		res.PercentB = (prices[len(prices)-1] - lower) / (upper - lower)
	}
	if mid != 0 {
		res.Bandwidth = (upper - lower) / mid * 100
	}
	res.Squeeze = res.Bandwidth < 4
	return res
}
