// Package indicators implements pure, side-effect-free technical-analysis
// functions over close-price series. Every function returns a neutral
// default when the input is shorter than the lookback it needs — callers
// never have to special-case "not enough data" themselves.
package indicators

import "math"

func sma(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	sum := 0.0
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period)
}

func stddev(prices []float64) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}
	mean := sma(prices, n)
	var sumSq float64
	for _, p := range prices {
		d := p - mean
		sumSq += d * d
	}
	return math.Sqrt(sumSq / float64(n))
}

// returns converts a close-price series into percentage returns.
func returns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			out = append(out, 0)
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1]*100)
	}
	return out
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
