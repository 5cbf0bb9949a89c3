package indicators

import "sort"

// SRLevels is a support/resistance estimate derived from the quantiles of
// recent closes.
type SRLevels struct {
	Support    float64
	Resistance float64
}

// SupportResistance returns the lower-20%/upper-80% quantile of the last n
// closes (n=20 by spec default). Returns a zero-valued result if there are
// fewer than n samples.
func SupportResistance(prices []float64, n int) SRLevels {
	if n <= 0 || len(prices) < n {
		return SRLevels{}
	}
	window := append([]float64(nil), prices[len(prices)-n:]...)
	sort.Float64s(window)
	return SRLevels{
		Support:    quantile(window, 0.20),
		Resistance: quantile(window, 0.80),
	}
}

// quantile assumes sorted ascending input.
func quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
