package portfolio

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"StockLens/internal/cache"
	"StockLens/internal/calculator"
	"StockLens/internal/model"
)

// DefaultConcurrency bounds per-symbol fetches within one request.
const DefaultConcurrency = 4

var (
	// ErrInvalidWeights is returned when weights do not match symbols or are negative.
	ErrInvalidWeights = errors.New("invalid weights")
	// ErrNoSymbols is returned for an empty basket.
	ErrNoSymbols = errors.New("no symbols")
)

// Source supplies per-symbol data. The collector satisfies it.
type Source interface {
	History(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)
	CompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error)
}

// ResolveWeights validates weights against symbols and returns the weights to
// use: a copy of weights, or 1/N each when weights is empty.
func ResolveWeights(symbols []string, weights []float64) ([]float64, error) {
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if len(weights) == 0 {
		w := 1.0 / float64(len(symbols))
		out := make([]float64, len(symbols))
		for i := range out {
			out[i] = w
		}
		return out, nil
	}
	if len(weights) != len(symbols) {
		return nil, fmt.Errorf("%w: %d weights for %d symbols", ErrInvalidWeights, len(weights), len(symbols))
	}
	for i, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight %d is %v", ErrInvalidWeights, i, w)
		}
	}
	return append([]float64(nil), weights...), nil
}

// ValueBasket sums weighted market cap and weights P/E and P/B. The P/E and
// P/B figures are weighted sums, which equal weighted averages when the
// weights add up to 1.
func ValueBasket(infos []model.CompanyInfo, weights []float64) model.Valuation {
	capSum := decimal.Zero
	var pe, pb float64
	for i, info := range infos {
		w := weights[i]
		capSum = capSum.Add(decimal.NewFromFloat(info.MarketCap).Mul(decimal.NewFromFloat(w)))
		pe += w * info.PE
		pb += w * info.PB
	}
	total, _ := capSum.Float64()
	stocks := make([]model.CompanyInfo, len(infos))
	copy(stocks, infos)
	return model.Valuation{
		TotalMarketCap: total,
		AvgPE:          pe,
		AvgPB:          pb,
		Stocks:         stocks,
	}
}

// Measure computes basket performance. Each series with at least two bars
// adds weight*simple return to the total and its weighted daily returns to
// the flattened return sequence. Volatility is the sample deviation of that
// sequence; Sharpe is total/volatility, or 0 when volatility is 0.
func Measure(series []model.PriceSeries, weights []float64) model.Performance {
	perf := model.Performance{DailyReturns: []float64{}}
	for i, s := range series {
		if s.Len() < 2 {
			continue
		}
		closes := s.Closes()
		w := weights[i]
		perf.TotalReturn += w * calculator.SimpleReturn(closes[0], closes[len(closes)-1])
		for _, r := range calculator.DailyReturns(closes) {
			perf.DailyReturns = append(perf.DailyReturns, w*r)
		}
	}
	perf.Volatility = calculator.SampleStdDev(perf.DailyReturns)
	if perf.Volatility != 0 {
		perf.SharpeRatio = perf.TotalReturn / perf.Volatility
	}
	return perf
}

// Aggregator fetches basket data and memoizes the aggregates.
type Aggregator struct {
	Source      Source
	Cache       *cache.Cache
	Concurrency int
}

// NewAggregator creates an Aggregator over src and the in-process memo cache.
func NewAggregator(src Source, memo *cache.Cache) *Aggregator {
	return &Aggregator{Source: src, Cache: memo, Concurrency: DefaultConcurrency}
}

// Analyze returns the valuation of the weighted basket.
func (a *Aggregator) Analyze(ctx context.Context, symbols []string, weights []float64) (model.PortfolioAnalysis, error) {
	symbols = normalizeSymbols(symbols)
	resolved, err := ResolveWeights(symbols, weights)
	if err != nil {
		return model.PortfolioAnalysis{}, err
	}
	key := cache.Key{
		Op:     cache.OpPortfolioAnalysis,
		Symbol: strings.Join(symbols, ","),
		Params: formatWeights(resolved),
	}
	return cache.Remember(ctx, a.Cache, key, func(ctx context.Context) (model.PortfolioAnalysis, error) {
		infos := make([]model.CompanyInfo, len(symbols))
		err := a.each(ctx, symbols, func(ctx context.Context, i int, sym string) error {
			info, err := a.Source.CompanyInfo(ctx, sym)
			if err != nil {
				return err
			}
			infos[i] = info
			return nil
		})
		if err != nil {
			return model.PortfolioAnalysis{}, err
		}
		return model.PortfolioAnalysis{
			Symbols:  symbols,
			Weights:  resolved,
			Analysis: ValueBasket(infos, resolved),
		}, nil
	})
}

// Track returns the performance of the weighted basket over [start, end].
func (a *Aggregator) Track(ctx context.Context, symbols []string, weights []float64, start, end time.Time) (model.PortfolioPerformance, error) {
	symbols = normalizeSymbols(symbols)
	resolved, err := ResolveWeights(symbols, weights)
	if err != nil {
		return model.PortfolioPerformance{}, err
	}
	startStr := start.Format(model.DateLayout)
	endStr := end.Format(model.DateLayout)
	key := cache.Key{
		Op:     cache.OpPortfolioPerformance,
		Symbol: strings.Join(symbols, ","),
		Start:  startStr,
		End:    endStr,
		Params: formatWeights(resolved),
	}
	return cache.Remember(ctx, a.Cache, key, func(ctx context.Context) (model.PortfolioPerformance, error) {
		series := make([]model.PriceSeries, len(symbols))
		err := a.each(ctx, symbols, func(ctx context.Context, i int, sym string) error {
			s, err := a.Source.History(ctx, sym, start, end)
			if err != nil {
				return err
			}
			series[i] = s
			return nil
		})
		if err != nil {
			return model.PortfolioPerformance{}, err
		}
		return model.PortfolioPerformance{
			Symbols:     symbols,
			Weights:     resolved,
			StartDate:   startStr,
			EndDate:     endStr,
			Performance: Measure(series, resolved),
		}, nil
	})
}

// each runs fn for every symbol with bounded concurrency. Results are written
// by index so basket order is preserved; the first error cancels the rest.
func (a *Aggregator) each(ctx context.Context, symbols []string, fn func(ctx context.Context, i int, sym string) error) error {
	limit := a.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, sym := range symbols {
		g.Go(func() error {
			return fn(gctx, i, sym)
		})
	}
	return g.Wait()
}

func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, strings.ToUpper(strings.TrimSpace(s)))
	}
	return out
}

func formatWeights(weights []float64) []string {
	out := make([]string, len(weights))
	for i, w := range weights {
		out[i] = strconv.FormatFloat(w, 'g', -1, 64)
	}
	return out
}
