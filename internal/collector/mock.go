package collector

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"StockLens/internal/model"
)

// MockFetcher returns controllable fixed data for development and testing.
type MockFetcher struct {
	Price   float64
	Bars    map[string][]model.PriceBar // fixed history per symbol, overrides generated bars
	Infos   map[string]model.CompanyInfo
	Symbols []string

	// Err fails every call; Fail fails calls for one symbol.
	Err  error
	Fail map[string]error

	mu           sync.Mutex
	historyCalls atomic.Int64
	infoCalls    atomic.Int64
	listingCalls atomic.Int64
	historyBySym map[string]int
}

func (m *MockFetcher) Name() string { return "mock" }

func (m *MockFetcher) failure(symbol string) error {
	if m.Err != nil {
		return m.Err
	}
	return m.Fail[strings.ToUpper(symbol)]
}

func (m *MockFetcher) FetchHistory(_ context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	m.historyCalls.Add(1)
	m.mu.Lock()
	if m.historyBySym == nil {
		m.historyBySym = make(map[string]int)
	}
	m.historyBySym[strings.ToUpper(symbol)]++
	m.mu.Unlock()

	if err := m.failure(symbol); err != nil {
		return nil, err
	}
	if bars, ok := m.Bars[strings.ToUpper(symbol)]; ok {
		return filterBars(bars, start, end), nil
	}
	return generateMockBars(m.Price, start, end), nil
}

func (m *MockFetcher) FetchCompanyInfo(_ context.Context, symbol string) (model.CompanyInfo, error) {
	m.infoCalls.Add(1)
	if err := m.failure(symbol); err != nil {
		return model.CompanyInfo{}, err
	}
	if info, ok := m.Infos[strings.ToUpper(symbol)]; ok {
		return info, nil
	}
	return model.CompanyInfo{Symbol: strings.ToUpper(symbol)}, nil
}

func (m *MockFetcher) FetchListing(_ context.Context) ([]model.ListingEntry, error) {
	m.listingCalls.Add(1)
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]model.ListingEntry, 0, len(m.Symbols))
	for _, s := range m.Symbols {
		out = append(out, model.ListingEntry{Symbol: strings.ToUpper(s), Exchange: "MOCK"})
	}
	return out, nil
}

// HistoryCalls returns how many times FetchHistory ran.
func (m *MockFetcher) HistoryCalls() int { return int(m.historyCalls.Load()) }

// HistoryCallsFor returns how many times FetchHistory ran for symbol.
func (m *MockFetcher) HistoryCallsFor(symbol string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.historyBySym[strings.ToUpper(symbol)]
}

// InfoCalls returns how many times FetchCompanyInfo ran.
func (m *MockFetcher) InfoCalls() int { return int(m.infoCalls.Load()) }

// ListingCalls returns how many times FetchListing ran.
func (m *MockFetcher) ListingCalls() int { return int(m.listingCalls.Load()) }

func filterBars(bars []model.PriceBar, start, end time.Time) []model.PriceBar {
	from := model.Day(start)
	to := model.Day(end)
	out := make([]model.PriceBar, 0, len(bars))
	for _, b := range bars {
		d := model.Day(b.Date)
		if d.Before(from) || d.After(to) {
			continue
		}
		out = append(out, b)
	}
	return model.NormalizeBars(out)
}

// generateMockBars emits one bar per calendar day in [start, end] with a
// slow upward drift from basePrice.
func generateMockBars(basePrice float64, start, end time.Time) []model.PriceBar {
	if basePrice <= 0 {
		basePrice = 100
	}
	from := model.Day(start)
	to := model.Day(end)
	var bars []model.PriceBar
	for i, d := 0, from; !d.After(to); i, d = i+1, d.AddDate(0, 0, 1) {
		p := basePrice * (1 + float64(i)*0.001)
		bars = append(bars, model.PriceBar{
			Date:   d,
			Open:   p * 0.999,
			High:   p * 1.005,
			Low:    p * 0.995,
			Close:  p,
			Volume: 1000000,
		})
	}
	return bars
}

var _ Fetcher = (*MockFetcher)(nil)
