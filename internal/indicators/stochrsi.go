package indicators

// StochRSIResult is the Stochastic RSI oscillator value plus its %K/%D smoothing.
type StochRSIResult struct {
	K         float64
	D         float64
	Crossover Crossover
}

// rsiSeries returns the full RSI trajectory, one value per input sample
// (neutral 50 before the first full window), used internally by StochRSI.
func rsiSeries(prices []float64, period int) []float64 {
	out := make([]float64, len(prices))
	for i := range out {
		out[i] = 50
	}
	if len(prices) < period+1 {
		return out
	}
	for i := period + 1; i <= len(prices); i++ {
		out[i-1] = RSI(prices[:i], period)
	}
	return out
}

// StochRSI computes the Stochastic RSI over rsiPeriod with a stochPeriod
// lookback window and kSmooth/dSmooth SMA smoothing on %K/%D, detecting a
// %K/%D crossover between the last two samples.
func StochRSI(prices []float64, rsiPeriod, stochPeriod, kSmooth, dSmooth int) StochRSIResult {
	need := rsiPeriod + stochPeriod + kSmooth + dSmooth
	if len(prices) < need {
		return StochRSIResult{K: 50, D: 50, Crossover: CrossoverNone}
	}

	rsis := rsiSeries(prices, rsiPeriod)

	rawK := make([]float64, len(rsis))
	for i := range rsis {
		if i < stochPeriod-1 {
			rawK[i] = 50
			continue
		}
		window := rsis[i-stochPeriod+1 : i+1]
		lo, hi := window[0], window[0]
		for _, v := range window {
			if v < lo {
				lo = v
			}
			if v > hi {
				hi = v
			}
		}
		if hi == lo {
			rawK[i] = 50
		} else {
			rawK[i] = (rsis[i] - lo) / (hi - lo) * 100
		}
	}

	kSeries := smoothSeries(rawK, kSmooth)
	dSeries := smoothSeries(kSeries, dSmooth)

	last := len(prices) - 1
	prev := last - 1
	cross := CrossoverNone
	if prev >= 0 {
		if kSeries[prev] <= dSeries[prev] && kSeries[last] > dSeries[last] {
			cross = CrossoverBullish
		} else if kSeries[prev] >= dSeries[prev] && kSeries[last] < dSeries[last] {
			cross = CrossoverBearish
		}
	}

	return StochRSIResult{K: kSeries[last], D: dSeries[last], Crossover: cross}
}

// smoothSeries applies a trailing simple-moving-average smoothing pass.
func smoothSeries(in []float64, period int) []float64 {
	out := make([]float64, len(in))
	if period <= 1 {
		copy(out, in)
		return out
	}
	for i := range in {
		lo := i - period + 1
		if lo < 0 {
			lo = 0
		}
		out[i] = sma(in[lo:i+1], i-lo+1)
	}
	return out
}
