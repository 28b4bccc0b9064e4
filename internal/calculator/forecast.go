package calculator

import "math"

// TrendForecast extrapolates the mean daily return forward from the last
// close: price_i = last * (1 + meanReturn)^i for i in 1..days.
// Fewer than two closes give no forecast.
func TrendForecast(closes []float64, days int) []float64 {
	if len(closes) < 2 || days <= 0 {
		return nil
	}
	avg := Mean(DailyReturns(closes))
	last := closes[len(closes)-1]
	out := make([]float64, days)
	for i := 1; i <= days; i++ {
		out[i-1] = last * math.Pow(1+avg, float64(i))
	}
	return out
}
