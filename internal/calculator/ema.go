package calculator

// MACD parameters.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// EMA returns the exponentially weighted mean with alpha = 2/(span+1),
// seeded with the first value. Every position is defined.
func EMA(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}
	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// MACD returns the EMA(fast)-EMA(slow) line and its EMA(signal) line.
func MACD(closes []float64, fast, slow, signal int) (line, signalLine []float64) {
	emaFast := EMA(closes, fast)
	emaSlow := EMA(closes, slow)
	line = make([]float64, len(closes))
	for i := range closes {
		line[i] = emaFast[i] - emaSlow[i]
	}
	return line, EMA(line, signal)
}
