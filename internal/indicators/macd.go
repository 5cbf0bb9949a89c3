package indicators

// Trend classifies MACD histogram sign.
type Trend string

const (
	TrendBullish Trend = "bullish"
	TrendBearish Trend = "bearish"
	TrendNeutral Trend = "neutral"
)

// Crossover classifies a MACD/signal line cross between the last two samples.
type Crossover string

const (
	CrossoverBullish Crossover = "bullish_cross"
	CrossoverBearish Crossover = "bearish_cross"
	CrossoverNone    Crossover = "none"
)

// MACDResult is the output of MACD: the line, its signal, their difference,
// and the crossover relationship between the current and previous tick.
type MACDResult struct {
	MACD      float64
	Signal    float64
	Histogram float64
	Trend     Trend
	Crossover Crossover
}

// MACD computes the standard (fast,slow,signal) MACD over prices, comparing
// the current vs. previous macd/signal relationship to detect a crossover.
// Returns a zero-valued, neutral result if there isn't enough history for
// the slow EMA plus the signal line to have two valid samples.
func MACD(prices []float64, fast, slow, signal int) MACDResult {
	if len(prices) < slow+signal+1 {
		return MACDResult{Trend: TrendNeutral, Crossover: CrossoverNone}
	}

	fastSeries := EMASeries(prices, fast)
	slowSeries := EMASeries(prices, slow)

	macdSeries := make([]float64, len(prices))
	for i := slow - 1; i < len(prices); i++ {
		macdSeries[i] = fastSeries[i] - slowSeries[i]
	}

	signalSeries := EMASeries(macdSeries[slow-1:], signal)
	// signalSeries is aligned to macdSeries[slow-1:]; pad back to full length.
	fullSignal := make([]float64, len(prices))
	copy(fullSignal[slow-1:], signalSeries)

	last := len(prices) - 1
	prev := last - 1

	macd := macdSeries[last]
	sig := fullSignal[last]
	hist := macd - sig

	trend := TrendNeutral
	switch {
	case hist > 0:
		trend = TrendBullish
	case hist < 0:
		trend = TrendBearish
	}

	cross := CrossoverNone
	if prev >= slow-1+signal {
		prevMacd := macdSeries[prev]
		prevSig := fullSignal[prev]
		if prevMacd <= prevSig && macd > sig {
			cross = CrossoverBullish
		} else if prevMacd >= prevSig && macd < sig {
			cross = CrossoverBearish
		}
	}

	return MACDResult{MACD: macd, Signal: sig, Histogram: hist, Trend: trend, Crossover: cross}
}
