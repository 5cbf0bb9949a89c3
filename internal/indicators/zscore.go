package indicators

// ZSignal classifies a Z-Score reading against the strong/normal thresholds.
type ZSignal string

const (
	ZSignalStrongBuy  ZSignal = "strong_buy"
	ZSignalBuy        ZSignal = "buy"
	ZSignalNeutral    ZSignal = "neutral"
	ZSignalSell       ZSignal = "sell"
	ZSignalStrongSell ZSignal = "strong_sell"
)

// ZScoreResult is the rolling z-score value plus its classified signal.
type ZScoreResult struct {
	Value  float64
	Signal ZSignal
}

// ZScore computes the rolling z-score of the latest close over period
// (default 20), classifying against ±2 (buy/sell) and ±2.5 (strong).
func ZScore(prices []float64, period int) ZScoreResult {
	if period <= 1 || len(prices) < period {
		return ZScoreResult{Signal: ZSignalNeutral}
	}
	window := prices[len(prices)-period:]
	mean := sma(window, period)
	sd := stddev(window)
	if sd == 0 {
		return ZScoreResult{Signal: ZSignalNeutral}
	}
	z := (prices[len(prices)-1] - mean) / sd

	signal := ZSignalNeutral
	switch {
	case z <= -2.5:
		signal = ZSignalStrongBuy
	case z <= -2:
		signal = ZSignalBuy
	case z >= 2.5:
		signal = ZSignalStrongSell
	case z >= 2:
		signal = ZSignalSell
	}
	return ZScoreResult{Value: z, Signal: signal}
}
