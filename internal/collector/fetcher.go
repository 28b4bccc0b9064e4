package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"StockLens/internal/model"
)

// Fetcher is a market data provider. Implementations return typed, validated
// records; "no data" is an empty result, not an error.
type Fetcher interface {
	FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error)
	FetchCompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error)
	FetchListing(ctx context.Context) ([]model.ListingEntry, error)
	Name() string
}

// Provider operations, used in errors and metrics.
const (
	OpHistory = "history"
	OpInfo    = "info"
	OpListing = "listing"
)

// UpstreamError wraps a failed provider call.
type UpstreamError struct {
	Provider string
	Op       string
	Symbol   string
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Provider, e.Op, e.Symbol, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// StatusError is a non-2xx provider response.
type StatusError struct {
	StatusCode int
	Endpoint   string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d from %s: %s", e.StatusCode, e.Endpoint, e.Body)
}

func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
