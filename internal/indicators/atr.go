package indicators

// ATR computes the Average True Range over period using close-to-close
// absolute deltas as the true-range proxy (no high/low series is retained
// by the market data pipeline). Returns 0 when there isn't enough history.
func ATR(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 0
	}
	trs := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d < 0 {
			d = -d
		}
		trs = append(trs, d)
	}
	// Wilder smoothing, seeded with the SMA of the first `period` true ranges.
	atr := sma(trs[:period], period)
	for _, tr := range trs[period:] {
		atr = (atr*float64(period-1) + tr) / float64(period)
	}
	return atr
}

// ATRPercent expresses ATR as a percentage of the latest close.
func ATRPercent(prices []float64, period int) float64 {
	if len(prices) == 0 || prices[len(prices)-1] == 0 {
		return 0
	}
	return ATR(prices, period) / prices[len(prices)-1] * 100
}
