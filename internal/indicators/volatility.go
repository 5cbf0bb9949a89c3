package indicators

// Volatility returns the standard deviation of percentage returns over the
// trailing `period` samples — the engine's catch-all measure of how choppy
// recent price action has been.
func Volatility(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period+1 {
		return 0
	}
	window := prices[len(prices)-period-1:]
	return stddev(returns(window))
}
