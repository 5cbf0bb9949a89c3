package indicators

// ADXResult is the ADX trend-strength value plus its directional components.
type ADXResult struct {
	ADX     float64
	PlusDI  float64
	MinusDI float64
}

// ADX computes an ADX-like trend-strength indicator over period, using
// close-to-close positive/negative movement as the directional-movement
// proxy (the pipeline retains close samples only, see ATR). Returns a
// zero result when there isn't enough history.
func ADX(prices []float64, period int) ADXResult {
	if period <= 0 || len(prices) < 2*period+1 {
		return ADXResult{}
	}

	plusDM := make([]float64, 0, len(prices)-1)
	minusDM := make([]float64, 0, len(prices)-1)
	trueRange := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		d := prices[i] - prices[i-1]
		if d > 0 {
			plusDM = append(plusDM, d)
			minusDM = append(minusDM, 0)
		} else {
			plusDM = append(plusDM, 0)
			minusDM = append(minusDM, -d)
		}
		if d < 0 {
			d = -d
		}
		trueRange = append(trueRange, d)
	}

	smoothedPlusDM := wilderSmooth(plusDM, period)
	smoothedMinusDM := wilderSmooth(minusDM, period)
	smoothedTR := wilderSmooth(trueRange, period)

	dxSeries := make([]float64, len(smoothedTR))
	for i := range smoothedTR {
		if smoothedTR[i] == 0 {
			continue
		}
		plusDI := smoothedPlusDM[i] / smoothedTR[i] * 100
		minusDI := smoothedMinusDM[i] / smoothedTR[i] * 100
		if plusDI+minusDI == 0 {
			continue
		}
		dxSeries[i] = (abs(plusDI-minusDI) / (plusDI + minusDI)) * 100
	}

	adx := sma(dxSeries, period)
	last := len(smoothedTR) - 1
	var plusDI, minusDI float64
	if smoothedTR[last] != 0 {
		plusDI = smoothedPlusDM[last] / smoothedTR[last] * 100
		minusDI = smoothedMinusDM[last] / smoothedTR[last] * 100
	}
	return ADXResult{ADX: adx, PlusDI: plusDI, MinusDI: minusDI}
}

// wilderSmooth applies Wilder's smoothing, seeded with an SMA over the
// first `period` samples.
func wilderSmooth(series []float64, period int) []float64 {
	out := make([]float64, len(series))
	if len(series) < period {
		return out
	}
	seed := sma(series[:period], period)
	out[period-1] = seed
	v := seed
	for i := period; i < len(series); i++ {
		v = v - v/float64(period) + series[i]
		out[i] = v
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
