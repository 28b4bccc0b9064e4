package calculator

import "math"

// Mean returns the arithmetic mean, or NaN for an empty slice.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// SampleStdDev returns the N-1 standard deviation. Fewer than two values
// have no dispersion and yield 0.
func SampleStdDev(values []float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	mean := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

// SimpleReturn is (last - first) / first. A zero first price has no defined
// return and yields 0.
func SimpleReturn(first, last float64) float64 {
	if first == 0 {
		return 0
	}
	return (last - first) / first
}

// DailyReturns returns the day-over-day simple returns, one fewer than closes.
func DailyReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		out = append(out, SimpleReturn(closes[i-1], closes[i]))
	}
	return out
}
