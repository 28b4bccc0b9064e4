package collector

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"StockLens/internal/cache"
	"StockLens/internal/metrics"
	"StockLens/internal/model"
)

// ListingKey is the well-known key the exchange listing is published under.
var ListingKey = cache.Key{Op: cache.OpStockList}

// HistoryKey identifies a symbol's price history over [start, end].
func HistoryKey(symbol string, start, end time.Time) cache.Key {
	return cache.Key{
		Op:     cache.OpPrice,
		Symbol: normalizeSymbol(symbol),
		Start:  start.Format(model.DateLayout),
		End:    end.Format(model.DateLayout),
	}
}

// InfoKey identifies a symbol's company info.
func InfoKey(symbol string) cache.Key {
	return cache.Key{Op: cache.OpInfo, Symbol: normalizeSymbol(symbol)}
}

// Collector fronts a Fetcher with the persisted cache. Read-through methods
// serve fresh entries without touching the provider; Refresh methods always
// fetch and overwrite.
type Collector struct {
	Fetcher Fetcher
	Cache   *cache.Cache
	Breaker *CircuitBreaker
	Metrics *metrics.Metrics
}

// NewCollector creates a new Collector. breaker and m may be nil.
func NewCollector(fetcher Fetcher, c *cache.Cache, breaker *CircuitBreaker, m *metrics.Metrics) *Collector {
	return &Collector{Fetcher: fetcher, Cache: c, Breaker: breaker, Metrics: m}
}

// History returns the daily bars of symbol between start and end inclusive.
func (c *Collector) History(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	key := HistoryKey(symbol, start, end)
	series, err := cache.Remember(ctx, c.Cache, key, func(ctx context.Context) (model.PriceSeries, error) {
		return c.fetchHistory(ctx, symbol, start, end)
	})
	return series, c.tolerateWrite(key, err)
}

// CompanyInfo returns the company record for symbol.
func (c *Collector) CompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error) {
	key := InfoKey(symbol)
	info, err := cache.Remember(ctx, c.Cache, key, func(ctx context.Context) (model.CompanyInfo, error) {
		return c.fetchInfo(ctx, symbol)
	})
	return info, c.tolerateWrite(key, err)
}

// Listing returns the exchange listing.
func (c *Collector) Listing(ctx context.Context) ([]model.ListingEntry, error) {
	entries, err := cache.Remember(ctx, c.Cache, ListingKey, c.fetchListing)
	return entries, c.tolerateWrite(ListingKey, err)
}

// Screen returns the listing sorted by symbol, truncated to limit when limit > 0.
func (c *Collector) Screen(ctx context.Context, limit int) ([]model.ListingEntry, error) {
	entries, err := c.Listing(ctx)
	if err != nil {
		return nil, err
	}
	sorted := make([]model.ListingEntry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Symbol < sorted[j].Symbol })
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

// RefreshHistory fetches and stores history regardless of what is cached.
// A cache write failure is returned as *cache.IOError with the fresh series.
func (c *Collector) RefreshHistory(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	return cache.Refresh(ctx, c.Cache, HistoryKey(symbol, start, end), func(ctx context.Context) (model.PriceSeries, error) {
		return c.fetchHistory(ctx, symbol, start, end)
	})
}

// RefreshCompanyInfo fetches and stores company info regardless of what is cached.
func (c *Collector) RefreshCompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error) {
	return cache.Refresh(ctx, c.Cache, InfoKey(symbol), func(ctx context.Context) (model.CompanyInfo, error) {
		return c.fetchInfo(ctx, symbol)
	})
}

// RefreshListing fetches and publishes the listing under ListingKey.
func (c *Collector) RefreshListing(ctx context.Context) ([]model.ListingEntry, error) {
	return cache.Refresh(ctx, c.Cache, ListingKey, c.fetchListing)
}

// CachedListing reads the published listing without calling the provider.
func (c *Collector) CachedListing() ([]model.ListingEntry, bool) {
	return cache.Lookup[[]model.ListingEntry](c.Cache, ListingKey)
}

func (c *Collector) tolerateWrite(key cache.Key, err error) error {
	if err != nil && cache.IsIOError(err) {
		log.Warn().Str("key", key.String()).Err(err).Msg("cache write failed, serving uncached value")
		return nil
	}
	return err
}

func (c *Collector) fetchHistory(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	symbol = normalizeSymbol(symbol)
	series := model.PriceSeries{Symbol: symbol}
	err := c.call(ctx, OpHistory, symbol, func() error {
		bars, err := c.Fetcher.FetchHistory(ctx, symbol, start, end)
		if err != nil {
			return err
		}
		series.Bars = model.NormalizeBars(bars)
		return nil
	})
	if err != nil {
		return model.PriceSeries{}, err
	}
	log.Debug().Str("symbol", symbol).Int("bars", series.Len()).Msg("fetched history")
	return series, nil
}

func (c *Collector) fetchInfo(ctx context.Context, symbol string) (model.CompanyInfo, error) {
	symbol = normalizeSymbol(symbol)
	var info model.CompanyInfo
	err := c.call(ctx, OpInfo, symbol, func() error {
		var err error
		info, err = c.Fetcher.FetchCompanyInfo(ctx, symbol)
		return err
	})
	if err != nil {
		return model.CompanyInfo{}, err
	}
	if info.Symbol == "" {
		info.Symbol = symbol
	}
	return info, nil
}

func (c *Collector) fetchListing(ctx context.Context) ([]model.ListingEntry, error) {
	var entries []model.ListingEntry
	err := c.call(ctx, OpListing, "", func() error {
		var err error
		entries, err = c.Fetcher.FetchListing(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []model.ListingEntry{}
	}
	return entries, nil
}

// call runs one provider request through the breaker and records its outcome.
func (c *Collector) call(ctx context.Context, op, symbol string, fn func() error) error {
	started := time.Now()
	err := c.Breaker.Execute(ctx, fn)
	c.Metrics.ObserveUpstream(c.Fetcher.Name(), op, started, err)
	if err != nil {
		return &UpstreamError{Provider: c.Fetcher.Name(), Op: op, Symbol: symbol, Err: err}
	}
	return nil
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
