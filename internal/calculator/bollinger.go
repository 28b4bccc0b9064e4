package calculator

// Bollinger band parameters.
const (
	BBWindow = 20
	BBWidth  = 2.0
)

// RollingSampleStd returns the trailing N-1 standard deviation over window.
// The first window-1 positions are NaN.
func RollingSampleStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = SampleStdDev(values[i-window+1 : i+1])
	}
	return out
}

// Bollinger returns the upper, middle and lower bands: middle is the rolling
// mean and the bands sit k sample deviations away from it.
func Bollinger(closes []float64, window int, k float64) (upper, middle, lower []float64) {
	middle = RollingMean(closes, window)
	std := RollingSampleStd(closes, window)
	upper = make([]float64, len(closes))
	lower = make([]float64, len(closes))
	for i := range closes {
		upper[i] = middle[i] + k*std[i]
		lower[i] = middle[i] - k*std[i]
	}
	return upper, middle, lower
}
