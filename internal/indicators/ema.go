package indicators

// EMA returns the most recent exponential moving average over period,
// seeded with the simple moving average of the first `period` samples.
// Returns 0 if there are fewer than period samples.
func EMA(prices []float64, period int) float64 {
	if period <= 0 || len(prices) < period {
		return 0
	}
	seed := sma(prices[:period], period)
	k := 2.0 / float64(period+1)
	ema := seed
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
	}
	return ema
}

// EMASeries returns the full EMA series aligned to prices, with zeros before
// the seed window fills. Used by callers (e.g. MACD) that need the trajectory,
// not just the latest value.
func EMASeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	if period <= 0 || len(prices) < period {
		return out
	}
	seed := sma(prices[:period], period)
	out[period-1] = seed
	k := 2.0 / float64(period+1)
	ema := seed
	for i := period; i < len(prices); i++ {
		ema = prices[i]*k + ema*(1-k)
		out[i] = ema
	}
	return out
}
