package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/phuslu/log"
	"golang.org/x/time/rate"

	"StockLens/internal/model"
)

const (
	// DefaultEODHDBaseURL is the public EODHD API root.
	DefaultEODHDBaseURL = "https://eodhd.com/api"

	defaultTimeout   = 30 * time.Second
	defaultRateLimit = 5
)

// EODHDFetcher implements Fetcher using the EOD Historical Data REST API.
type EODHDFetcher struct {
	baseURL  string
	apiKey   string
	exchange string
	client   *http.Client
	limiter  *rate.Limiter
}

// EODHDOption configures an EODHDFetcher.
type EODHDOption func(*EODHDFetcher)

// WithBaseURL overrides the API root.
func WithBaseURL(baseURL string) EODHDOption {
	return func(f *EODHDFetcher) {
		if baseURL != "" {
			f.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) EODHDOption {
	return func(f *EODHDFetcher) { f.client = c }
}

// WithRateLimit caps requests per second.
func WithRateLimit(perSecond int) EODHDOption {
	return func(f *EODHDFetcher) {
		if perSecond > 0 {
			f.limiter = rate.NewLimiter(rate.Limit(perSecond), perSecond)
		}
	}
}

// WithExchange sets the exchange used for the listing and for unqualified symbols.
func WithExchange(exchange string) EODHDOption {
	return func(f *EODHDFetcher) {
		if exchange != "" {
			f.exchange = strings.ToUpper(exchange)
		}
	}
}

// WithProxy routes requests through proxyURL with the given timeout.
func WithProxy(proxyURL string, timeout time.Duration) EODHDOption {
	return func(f *EODHDFetcher) {
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		f.client = newHTTPClient(proxyURL, timeout)
	}
}

// NewEODHDFetcher creates a fetcher for apiKey.
func NewEODHDFetcher(apiKey string, opts ...EODHDOption) *EODHDFetcher {
	f := &EODHDFetcher{
		baseURL:  DefaultEODHDBaseURL,
		apiKey:   apiKey,
		exchange: "US",
		client:   &http.Client{Timeout: defaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(defaultRateLimit), defaultRateLimit),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *EODHDFetcher) Name() string { return "eodhd" }

// qualify appends the default exchange to bare tickers ("AAPL" -> "AAPL.US").
func (f *EODHDFetcher) qualify(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if strings.Contains(symbol, ".") {
		return symbol
	}
	return symbol + "." + f.exchange
}

// eodRow is one element of the /eod response.
type eodRow struct {
	Date          string    `json:"date"`
	Open          flexFloat `json:"open"`
	High          flexFloat `json:"high"`
	Low           flexFloat `json:"low"`
	Close         flexFloat `json:"close"`
	AdjustedClose flexFloat `json:"adjusted_close"`
	Volume        flexFloat `json:"volume"`
}

// fundamentals is the subset of /fundamentals we read.
type fundamentals struct {
	General struct {
		Code         string `json:"Code"`
		Name         string `json:"Name"`
		Exchange     string `json:"Exchange"`
		CurrencyCode string `json:"CurrencyCode"`
		Sector       string `json:"Sector"`
		Industry     string `json:"Industry"`
	} `json:"General"`
	Highlights struct {
		MarketCapitalization flexFloat `json:"MarketCapitalization"`
		PERatio              flexFloat `json:"PERatio"`
	} `json:"Highlights"`
	Valuation struct {
		PriceBookMRQ flexFloat `json:"PriceBookMRQ"`
	} `json:"Valuation"`
}

// exchangeSymbol is one element of /exchange-symbol-list.
type exchangeSymbol struct {
	Code     string `json:"Code"`
	Name     string `json:"Name"`
	Exchange string `json:"Exchange"`
	Type     string `json:"Type"`
}

func (f *EODHDFetcher) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	params := url.Values{}
	params.Set("from", start.Format(model.DateLayout))
	params.Set("to", end.Format(model.DateLayout))
	params.Set("period", "d")
	params.Set("order", "a")

	var rows []eodRow
	found, err := f.get(ctx, "/eod/"+url.PathEscape(f.qualify(symbol)), params, &rows)
	if err != nil || !found {
		return nil, err
	}

	bars := make([]model.PriceBar, 0, len(rows))
	for _, r := range rows {
		d, err := time.Parse(model.DateLayout, r.Date)
		if err != nil {
			log.Debug().Str("symbol", symbol).Str("date", r.Date).Msg("skipping eod row with bad date")
			continue
		}
		bars = append(bars, model.PriceBar{
			Date:   d,
			Open:   float64(r.Open),
			High:   float64(r.High),
			Low:    float64(r.Low),
			Close:  float64(r.Close),
			Volume: int64(r.Volume),
		})
	}
	return model.NormalizeBars(bars), nil
}

func (f *EODHDFetcher) FetchCompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error) {
	info := model.CompanyInfo{Symbol: strings.ToUpper(symbol)}
	var fr fundamentals
	found, err := f.get(ctx, "/fundamentals/"+url.PathEscape(f.qualify(symbol)), nil, &fr)
	if err != nil || !found {
		return info, err
	}
	info.Name = fr.General.Name
	info.Exchange = fr.General.Exchange
	info.Currency = fr.General.CurrencyCode
	info.Sector = fr.General.Sector
	info.Industry = fr.General.Industry
	info.MarketCap = nonNegative(float64(fr.Highlights.MarketCapitalization))
	info.PE = float64(fr.Highlights.PERatio)
	info.PB = float64(fr.Valuation.PriceBookMRQ)
	return info, nil
}

func (f *EODHDFetcher) FetchListing(ctx context.Context) ([]model.ListingEntry, error) {
	var rows []exchangeSymbol
	found, err := f.get(ctx, "/exchange-symbol-list/"+url.PathEscape(f.exchange), nil, &rows)
	if err != nil || !found {
		return nil, err
	}
	out := make([]model.ListingEntry, 0, len(rows))
	for _, r := range rows {
		if r.Code == "" {
			continue
		}
		out = append(out, model.ListingEntry{
			Symbol:   strings.ToUpper(r.Code),
			Name:     r.Name,
			Exchange: r.Exchange,
			Type:     r.Type,
		})
	}
	return out, nil
}

// get performs a rate-limited GET and decodes JSON into result. found is
// false when the provider has no data for the path (HTTP 404).
func (f *EODHDFetcher) get(ctx context.Context, path string, params url.Values, result interface{}) (found bool, err error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return false, fmt.Errorf("rate limit wait: %w", err)
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", f.apiKey)
	params.Set("fmt", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("execute request: %w", scrubToken(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{StatusCode: resp.StatusCode, Endpoint: path, Body: truncate(f.redact(string(body)), 200)}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(body, result); err != nil {
		return false, fmt.Errorf("decode response: %w", err)
	}
	return true, nil
}

// flexFloat decodes numbers, numeric strings and null (as 0).
type flexFloat float64

func (v *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" || strings.EqualFold(s, "NA") {
		*v = 0
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*v = flexFloat(f)
	return nil
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

// scrubToken hides the api_token query parameter in the URL a transport
// error carries.
func scrubToken(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		uerr.URL = redactURL(uerr.URL)
	}
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<unparsable url>"
	}
	q := u.Query()
	if q.Has("api_token") {
		q.Set("api_token", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (f *EODHDFetcher) redact(s string) string {
	if f.apiKey == "" {
		return s
	}
	return strings.ReplaceAll(s, f.apiKey, "REDACTED")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Fetcher = (*EODHDFetcher)(nil)

// errNoResult is returned by adapters whose upstream replied with an explicit error payload.
var errNoResult = errors.New("no result in response")
