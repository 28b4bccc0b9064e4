package collector

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"StockLens/internal/model"
)

const defaultYahooBaseURL = "https://query1.finance.yahoo.com"

// YahooFetcher implements Fetcher using Yahoo Finance public API.
type YahooFetcher struct {
	Client    *http.Client
	BaseURL   string
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
	// Universe is the listing; Yahoo has no public symbol directory.
	Universe []string

	limiter *rate.Limiter
}

// NewYahooFetcher creates a new Yahoo Finance fetcher.
func NewYahooFetcher(proxyURL string, timeout time.Duration, perSecond int, universe []string) *YahooFetcher {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if perSecond <= 0 {
		perSecond = defaultRateLimit
	}
	return &YahooFetcher{
		Client:  newHTTPClient(proxyURL, timeout),
		BaseURL: defaultYahooBaseURL,
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"SP500":  "^GSPC",
		},
		Universe: universe,
		limiter:  rate.NewLimiter(rate.Limit(perSecond), perSecond),
	}
}

func (f *YahooFetcher) Name() string { return "yahoo" }

func (f *YahooFetcher) yahooSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if mapped, ok := f.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from Yahoo Finance chart API.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"chart"`
}

type yahooQuote struct {
	QuoteResponse struct {
		Result []struct {
			Symbol           string  `json:"symbol"`
			LongName         string  `json:"longName"`
			ShortName        string  `json:"shortName"`
			FullExchangeName string  `json:"fullExchangeName"`
			Currency         string  `json:"currency"`
			MarketCap        float64 `json:"marketCap"`
			TrailingPE       float64 `json:"trailingPE"`
			PriceToBook      float64 `json:"priceToBook"`
		} `json:"result"`
		Error *yahooError `json:"error"`
	} `json:"quoteResponse"`
}

type yahooError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func at(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func (f *YahooFetcher) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("period1", strconv.FormatInt(start.Unix(), 10))
	// period2 is exclusive
	params.Set("period2", strconv.FormatInt(end.AddDate(0, 0, 1).Unix(), 10))

	var chart yahooChart
	found, err := f.get(ctx, "/v8/finance/chart/"+url.PathEscape(f.yahooSymbol(symbol)), params, &chart)
	if err != nil || !found {
		return nil, err
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return nil, nil
		}
		return nil, fmt.Errorf("yahoo api error: %s: %w", chart.Chart.Error.Description, errNoResult)
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, nil
	}

	result := chart.Chart.Result[0]
	quote := result.Indicators.Quote[0]
	bars := make([]model.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := at(quote.Close, i)
		if c == 0 {
			continue // null bars on holidays
		}
		bars = append(bars, model.PriceBar{
			Date:   time.Unix(ts, 0).UTC(),
			Open:   at(quote.Open, i),
			High:   at(quote.High, i),
			Low:    at(quote.Low, i),
			Close:  c,
			Volume: int64(at(quote.Volume, i)),
		})
	}
	return model.NormalizeBars(bars), nil
}

func (f *YahooFetcher) FetchCompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error) {
	info := model.CompanyInfo{Symbol: strings.ToUpper(symbol)}
	params := url.Values{}
	params.Set("symbols", f.yahooSymbol(symbol))

	var q yahooQuote
	found, err := f.get(ctx, "/v7/finance/quote", params, &q)
	if err != nil || !found {
		return info, err
	}
	if q.QuoteResponse.Error != nil {
		return info, fmt.Errorf("yahoo api error: %s: %w", q.QuoteResponse.Error.Description, errNoResult)
	}
	if len(q.QuoteResponse.Result) == 0 {
		return info, nil
	}
	r := q.QuoteResponse.Result[0]
	info.Name = r.LongName
	if info.Name == "" {
		info.Name = r.ShortName
	}
	info.Exchange = r.FullExchangeName
	info.Currency = r.Currency
	info.MarketCap = nonNegative(r.MarketCap)
	info.PE = r.TrailingPE
	info.PB = r.PriceToBook
	return info, nil
}

// FetchListing returns the configured universe.
func (f *YahooFetcher) FetchListing(_ context.Context) ([]model.ListingEntry, error) {
	out := make([]model.ListingEntry, 0, len(f.Universe))
	for _, s := range f.Universe {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		out = append(out, model.ListingEntry{Symbol: s, Type: "Common Stock"})
	}
	return out, nil
}

func (f *YahooFetcher) get(ctx context.Context, path string, params url.Values, result interface{}) (bool, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return false, fmt.Errorf("rate limit wait: %w", err)
		}
	}
	base := f.BaseURL
	if base == "" {
		base = defaultYahooBaseURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+path+"?"+params.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.Client.Do(req)
	if err != nil {
		return false, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return false, fmt.Errorf("yahoo read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return false, &StatusError{StatusCode: resp.StatusCode, Endpoint: path, Body: truncate(string(body), 200)}
	}
	if err := json.Unmarshal(body, result); err != nil {
		return false, fmt.Errorf("yahoo decode: %w", err)
	}
	return true, nil
}

var _ Fetcher = (*YahooFetcher)(nil)
