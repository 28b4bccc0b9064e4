package calculator

// RSIPeriod is the look-back used by the RSI indicator.
const RSIPeriod = 14

// RollingRSI computes RSI from simple rolling means (not Wilder smoothing) of
// the last period gains and losses. A position needs period deltas behind it,
// so the first period positions are NaN.
//
// A window with losses of exactly zero and some gain is 100. A window with no
// movement at all has an undefined RS and stays NaN.
func RollingRSI(closes []float64, period int) []float64 {
	out := nanSlice(len(closes))
	if period <= 0 || len(closes) <= period {
		return out
	}

	gains := make([]float64, len(closes))
	losses := make([]float64, len(closes))
	for i := 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains[i] = change
		} else {
			losses[i] = -change
		}
	}

	for i := period; i < len(closes); i++ {
		avgGain := Mean(gains[i-period+1 : i+1])
		avgLoss := Mean(losses[i-period+1 : i+1])
		switch {
		case avgLoss == 0 && avgGain == 0:
			// no movement, RS undefined
		case avgLoss == 0:
			out[i] = 100
		default:
			rs := avgGain / avgLoss
			out[i] = 100 - 100/(1+rs)
		}
	}
	return out
}
