package indicators

import "math"

// CCI computes the Commodity Channel Index over period using close prices
// as the typical price proxy. Returns 0 (neutral) when there isn't a full
// window.
func CCI(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	window := prices[len(prices)-period:]
	mean := sma(window, period)

	var meanDev float64
	for _, p := range window {
		meanDev += math.Abs(p - mean)
	}
	meanDev /= float64(period)
	if meanDev == 0 {
		return 0
	}
	return (prices[len(prices)-1] - mean) / (0.015 * meanDev)
}
