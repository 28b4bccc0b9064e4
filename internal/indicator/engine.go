package indicator

import (
	"context"
	"errors"
	"math"
	"strconv"
	"strings"
	"time"

	"StockLens/internal/cache"
	"StockLens/internal/calculator"
	"StockLens/internal/model"
)

// SnapshotLookback is the history window used for snapshots.
const SnapshotLookback = 365 * 24 * time.Hour

// ErrNoData is returned when a symbol has no bars in the requested window.
var ErrNoData = errors.New("no price data")

// HistorySource supplies validated price series. The collector satisfies it.
type HistorySource interface {
	History(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)
}

// Request describes one technical analysis call. Dates are already validated.
type Request struct {
	Symbol     string
	Start      time.Time
	End        time.Time
	Indicators []string
}

// Engine computes indicators over provider history and memoizes the results.
type Engine struct {
	Source HistorySource
	Cache  *cache.Cache
	Now    func() time.Time
}

// NewEngine creates an Engine backed by src and the in-process memo cache.
func NewEngine(src HistorySource, memo *cache.Cache) *Engine {
	return &Engine{Source: src, Cache: memo, Now: time.Now}
}

// Normalize upper-cases names, drops unknown ones and duplicates, and keeps
// the canonical order. Nil or empty input selects every indicator.
func Normalize(names []string) []string {
	if len(names) == 0 {
		return append([]string(nil), model.AllIndicators...)
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToUpper(strings.TrimSpace(n))] = true
	}
	out := make([]string, 0, len(model.AllIndicators))
	for _, n := range model.AllIndicators {
		if want[n] {
			out = append(out, n)
		}
	}
	return out
}

// Compute evaluates the requested indicators over series. Unknown names are
// ignored; every value is keyed by its bar date and nil where history is short.
func Compute(series model.PriceSeries, names []string) model.IndicatorResult {
	dates := series.Dates()
	closes := series.Closes()
	result := make(model.IndicatorResult)

	for _, name := range names {
		switch strings.ToUpper(strings.TrimSpace(name)) {
		case model.IndicatorMA:
			lines := make(model.Lines, len(calculator.MAWindows))
			for _, w := range calculator.MAWindows {
				lines["MA"+strconv.Itoa(w)] = toSeries(dates, calculator.RollingMean(closes, w))
			}
			result[model.IndicatorMA] = lines
		case model.IndicatorRSI:
			result[model.IndicatorRSI] = model.Lines{
				"RSI": toSeries(dates, calculator.RollingRSI(closes, calculator.RSIPeriod)),
			}
		case model.IndicatorMACD:
			line, signal := calculator.MACD(closes, calculator.MACDFast, calculator.MACDSlow, calculator.MACDSignal)
			result[model.IndicatorMACD] = model.Lines{
				"MACD":   toSeries(dates, line),
				"Signal": toSeries(dates, signal),
			}
		case model.IndicatorBB:
			upper, middle, lower := calculator.Bollinger(closes, calculator.BBWindow, calculator.BBWidth)
			result[model.IndicatorBB] = model.Lines{
				"Upper":  toSeries(dates, upper),
				"Middle": toSeries(dates, middle),
				"Lower":  toSeries(dates, lower),
			}
		}
	}
	return result
}

func toSeries(dates []string, values []float64) model.Series {
	s := make(model.Series, len(dates))
	for i, d := range dates {
		if i >= len(values) || math.IsNaN(values[i]) || math.IsInf(values[i], 0) {
			s[d] = nil
			continue
		}
		v := values[i]
		s[d] = &v
	}
	return s
}

// Analyze returns the technical analysis for req, serving repeated requests
// from the memo cache without touching the history source.
func (e *Engine) Analyze(ctx context.Context, req Request) (model.TechnicalAnalysis, error) {
	names := Normalize(req.Indicators)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	start := req.Start.Format(model.DateLayout)
	end := req.End.Format(model.DateLayout)
	key := cache.Key{
		Op:         cache.OpTechnicalAnalysis,
		Symbol:     symbol,
		Start:      start,
		End:        end,
		Indicators: names,
	}

	return cache.Remember(ctx, e.Cache, key, func(ctx context.Context) (model.TechnicalAnalysis, error) {
		series, err := e.Source.History(ctx, symbol, req.Start, req.End)
		if err != nil {
			return model.TechnicalAnalysis{}, err
		}
		return model.TechnicalAnalysis{
			Symbol:    symbol,
			StartDate: start,
			EndDate:   end,
			Data:      Compute(series, names),
		}, nil
	})
}

// Snapshot summarises the latest year of symbol's history.
func (e *Engine) Snapshot(ctx context.Context, symbol string) (model.Snapshot, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	end := model.Day(e.now())
	series, err := e.Source.History(ctx, symbol, end.Add(-SnapshotLookback), end)
	if err != nil {
		return model.Snapshot{}, err
	}
	return BuildSnapshot(series)
}

// BuildSnapshot derives a Snapshot from series. It needs at least one bar.
func BuildSnapshot(series model.PriceSeries) (model.Snapshot, error) {
	n := series.Len()
	if n == 0 {
		return model.Snapshot{}, ErrNoData
	}
	closes := series.Closes()
	last := series.Bars[n-1]
	snap := model.Snapshot{
		Symbol: series.Symbol,
		Date:   last.Date.Format(model.DateLayout),
		Close:  last.Close,
	}
	if n > 1 {
		snap.ChangePct = calculator.SimpleReturn(closes[n-2], last.Close) * 100
	}
	if ma, err := calculator.CalculateSMA(closes, 20); err == nil {
		snap.MA20 = &ma
	}
	if ma, err := calculator.CalculateSMA(closes, 200); err == nil {
		snap.MA200 = &ma
	}
	if rsi := calculator.RollingRSI(closes, calculator.RSIPeriod); !math.IsNaN(rsi[n-1]) {
		v := rsi[n-1]
		snap.RSI = &v
	}

	// both ranges succeed for a non-empty series
	snap.High52w, snap.Low52w, _ = calculator.PriceRange(series.Bars, calculator.Days52Week)
	snap.High30d, snap.Low30d, _ = calculator.PriceRange(series.Bars, calculator.Days30Day)
	if pos, err := calculator.RangePosition(last.Close, snap.High52w, snap.Low52w); err == nil {
		snap.Position52w = pos
	} else {
		snap.Position52w = 0.5
	}
	return snap, nil
}

// Forecast extrapolates the mean daily return of [start, end] forward by
// days calendar days from the last bar.
func (e *Engine) Forecast(ctx context.Context, symbol string, start, end time.Time, days int) ([]model.ForecastPoint, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	key := cache.Key{
		Op:     cache.OpForecast,
		Symbol: symbol,
		Start:  start.Format(model.DateLayout),
		End:    end.Format(model.DateLayout),
		Params: []string{strconv.Itoa(days)},
	}
	return cache.Remember(ctx, e.Cache, key, func(ctx context.Context) ([]model.ForecastPoint, error) {
		series, err := e.Source.History(ctx, symbol, start, end)
		if err != nil {
			return nil, err
		}
		return BuildForecast(series, days), nil
	})
}

// BuildForecast returns one point per day after the last bar. Series with
// fewer than two bars give an empty forecast.
func BuildForecast(series model.PriceSeries, days int) []model.ForecastPoint {
	prices := calculator.TrendForecast(series.Closes(), days)
	out := make([]model.ForecastPoint, 0, len(prices))
	if len(prices) == 0 {
		return out
	}
	last := series.Bars[series.Len()-1].Date
	for i, p := range prices {
		out = append(out, model.ForecastPoint{
			Date:  last.AddDate(0, 0, i+1).Format(model.DateLayout),
			Price: p,
		})
	}
	return out
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}
