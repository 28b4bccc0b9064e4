package portfolio

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockLens/internal/cache"
	"StockLens/internal/calculator"
	"StockLens/internal/model"
)

var day0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, closes ...float64) model.PriceSeries {
	s := model.PriceSeries{Symbol: symbol}
	for i, c := range closes {
		s.Bars = append(s.Bars, model.PriceBar{Date: day0.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c})
	}
	return s
}

type fakeSource struct {
	mu        sync.Mutex
	history   map[string]model.PriceSeries
	infos     map[string]model.CompanyInfo
	errs      map[string]error
	infoCalls int
	histCalls int
}

func (f *fakeSource) History(_ context.Context, symbol string, _, _ time.Time) (model.PriceSeries, error) {
	f.mu.Lock()
	f.histCalls++
	f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return model.PriceSeries{}, err
	}
	return f.history[symbol], nil
}

func (f *fakeSource) CompanyInfo(_ context.Context, symbol string) (model.CompanyInfo, error) {
	f.mu.Lock()
	f.infoCalls++
	f.mu.Unlock()
	if err := f.errs[symbol]; err != nil {
		return model.CompanyInfo{}, err
	}
	return f.infos[symbol], nil
}

func newAggregator(src Source) *Aggregator {
	return NewAggregator(src, cache.New(cache.NewMemory(), time.Hour, nil))
}

func TestResolveWeights(t *testing.T) {
	w, err := ResolveWeights([]string{"A", "B", "C", "D"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []float64{0.25, 0.25, 0.25, 0.25}, w)

	in := []float64{0.7, 0.3}
	w, err = ResolveWeights([]string{"A", "B"}, in)
	require.NoError(t, err)
	assert.Equal(t, in, w)
	w[0] = 9
	assert.Equal(t, 0.7, in[0], "resolved weights are a copy")

	_, err = ResolveWeights([]string{"A", "B"}, []float64{1.0})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = ResolveWeights([]string{"A", "B"}, []float64{1.5, -0.5})
	assert.ErrorIs(t, err, ErrInvalidWeights)

	_, err = ResolveWeights(nil, nil)
	assert.ErrorIs(t, err, ErrNoSymbols)
}

func TestValueBasket(t *testing.T) {
	infos := []model.CompanyInfo{
		{Symbol: "A", MarketCap: 1000, PE: 10, PB: 2},
		{Symbol: "B", MarketCap: 3000, PE: 20, PB: 4},
	}
	v := ValueBasket(infos, []float64{0.5, 0.5})
	assert.InDelta(t, 2000, v.TotalMarketCap, 1e-9)
	assert.InDelta(t, 15, v.AvgPE, 1e-9)
	assert.InDelta(t, 3, v.AvgPB, 1e-9)
	assert.Len(t, v.Stocks, 2)

	// large caps sum without float drift
	big := []model.CompanyInfo{{MarketCap: 2.5e12}, {MarketCap: 1.1e11}, {MarketCap: 7e9}}
	v = ValueBasket(big, []float64{0.1, 0.1, 0.1})
	assert.Equal(t, 2.617e11, v.TotalMarketCap)
}

func TestMeasure_SingleSymbolMatchesOwnStats(t *testing.T) {
	closes := []float64{100, 102, 101, 105, 104}
	perf := Measure([]model.PriceSeries{series("A", closes...)}, []float64{1})

	assert.InDelta(t, 0.04, perf.TotalReturn, 1e-12)
	own := calculator.DailyReturns(closes)
	assert.InDeltaSlice(t, own, perf.DailyReturns, 1e-12)
	assert.InDelta(t, calculator.SampleStdDev(own), perf.Volatility, 1e-12)
	assert.InDelta(t, perf.TotalReturn/perf.Volatility, perf.SharpeRatio, 1e-12)
}

func TestMeasure_FlattensInBasketOrder(t *testing.T) {
	perf := Measure([]model.PriceSeries{
		series("A", 10, 11),
		series("B", 20, 18, 18),
	}, []float64{0.5, 0.5})

	assert.InDelta(t, 0.5*0.1+0.5*-0.1, perf.TotalReturn, 1e-12)
	require.Len(t, perf.DailyReturns, 3)
	assert.InDelta(t, 0.05, perf.DailyReturns[0], 1e-12)
	assert.InDelta(t, -0.05, perf.DailyReturns[1], 1e-12)
	assert.InDelta(t, 0, perf.DailyReturns[2], 1e-12)
}

func TestMeasure_ShortAndFlatSeries(t *testing.T) {
	perf := Measure([]model.PriceSeries{series("A", 10), series("B")}, []float64{0.5, 0.5})
	assert.Zero(t, perf.TotalReturn)
	assert.Empty(t, perf.DailyReturns)
	assert.Zero(t, perf.Volatility)
	assert.Zero(t, perf.SharpeRatio)

	perf = Measure([]model.PriceSeries{series("A", 10, 10, 10)}, []float64{1})
	assert.Zero(t, perf.Volatility)
	assert.Zero(t, perf.SharpeRatio, "zero volatility never divides")
	assert.False(t, math.IsNaN(perf.SharpeRatio))
}

func TestAggregator_AnalyzeValidatesBeforeFetching(t *testing.T) {
	src := &fakeSource{}
	a := newAggregator(src)
	_, err := a.Analyze(context.Background(), []string{"A", "B"}, []float64{1.0})
	assert.ErrorIs(t, err, ErrInvalidWeights)
	_, err = a.Track(context.Background(), []string{"A", "B"}, []float64{1.0}, day0, day0)
	assert.ErrorIs(t, err, ErrInvalidWeights)
	assert.Zero(t, src.infoCalls)
	assert.Zero(t, src.histCalls)
}

func TestAggregator_Analyze(t *testing.T) {
	src := &fakeSource{infos: map[string]model.CompanyInfo{
		"A": {Symbol: "A", MarketCap: 100, PE: 10, PB: 1},
		"B": {Symbol: "B", MarketCap: 300, PE: 30, PB: 3},
	}}
	a := newAggregator(src)

	res, err := a.Analyze(context.Background(), []string{"a", "b"}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, res.Symbols)
	assert.Equal(t, []float64{0.5, 0.5}, res.Weights)
	assert.InDelta(t, 200, res.Analysis.TotalMarketCap, 1e-9)
	assert.InDelta(t, 20, res.Analysis.AvgPE, 1e-9)
	assert.Equal(t, "A", res.Analysis.Stocks[0].Symbol, "basket order is preserved")

	_, err = a.Analyze(context.Background(), []string{"A", "B"}, []float64{0.5, 0.5})
	require.NoError(t, err)
	assert.Equal(t, 2, src.infoCalls, "explicit equal weights hit the default-weight entry")
}

func TestAggregator_TrackPropagatesUpstream(t *testing.T) {
	boom := errors.New("upstream unavailable")
	src := &fakeSource{
		history: map[string]model.PriceSeries{"A": series("A", 1, 2)},
		errs:    map[string]error{"B": boom},
	}
	a := newAggregator(src)
	_, err := a.Track(context.Background(), []string{"A", "B"}, nil, day0, day0.AddDate(0, 0, 5))
	assert.ErrorIs(t, err, boom)
}

func TestAggregator_TrackMemoized(t *testing.T) {
	src := &fakeSource{history: map[string]model.PriceSeries{
		"A": series("A", 10, 11, 12),
		"B": series("B", 5, 5, 6),
	}}
	a := newAggregator(src)
	ctx := context.Background()

	res, err := a.Track(ctx, []string{"A", "B"}, []float64{0.6, 0.4}, day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01", res.StartDate)
	assert.Equal(t, "2024-03-03", res.EndDate)
	assert.InDelta(t, 0.6*0.2+0.4*0.2, res.Performance.TotalReturn, 1e-12)
	assert.Len(t, res.Performance.DailyReturns, 4)

	_, err = a.Track(ctx, []string{"A", "B"}, []float64{0.6, 0.4}, day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 2, src.histCalls)

	_, err = a.Track(ctx, []string{"A", "B"}, []float64{0.4, 0.6}, day0, day0.AddDate(0, 0, 2))
	require.NoError(t, err)
	assert.Equal(t, 4, src.histCalls, "weights are part of the key")
}

func TestFormatWeights(t *testing.T) {
	assert.Equal(t, "0.5,0.25,0.25", strings.Join(formatWeights([]float64{0.5, 0.25, 0.25}), ","))
}
