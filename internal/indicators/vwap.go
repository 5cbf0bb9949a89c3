package indicators

import "math"

// VWAPResult is the volume-weighted average price plus ±1 standard-deviation
// bands computed from the same weighted series.
type VWAPResult struct {
	VWAP      float64
	UpperBand float64
	LowerBand float64
}

// VWAP computes the volume-weighted average price and ±1σ bands from
// parallel price/volume samples. Returns a zero result if the slices are
// empty, mismatched in length, or total volume is zero.
func VWAP(prices, volumes []float64) VWAPResult {
	if len(prices) == 0 || len(prices) != len(volumes) {
		return VWAPResult{}
	}
	var sumPV, sumV float64
	for i := range prices {
		sumPV += prices[i] * volumes[i]
		sumV += volumes[i]
	}
	if sumV == 0 {
		return VWAPResult{}
	}
	vwap := sumPV / sumV

	var sumSqDevV float64
	for i := range prices {
		d := prices[i] - vwap
		sumSqDevV += d * d * volumes[i]
	}
	variance := sumSqDevV / sumV
	sd := math.Sqrt(math.Max(variance, 0))

	return VWAPResult{VWAP: vwap, UpperBand: vwap + sd, LowerBand: vwap - sd}
}
