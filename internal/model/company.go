package model

// CompanyInfo is the basic company record returned by a data provider.
// Zero values mean the provider did not report the field.
type CompanyInfo struct {
	Symbol    string  `json:"symbol"`
	Name      string  `json:"name,omitempty"`
	Exchange  string  `json:"exchange,omitempty"`
	Sector    string  `json:"sector,omitempty"`
	Industry  string  `json:"industry,omitempty"`
	Currency  string  `json:"currency,omitempty"`
	MarketCap float64 `json:"market_cap"`
	PE        float64 `json:"pe"`
	PB        float64 `json:"pb"`
}

// ListingEntry is one tradable symbol from the exchange listing.
type ListingEntry struct {
	Symbol   string `json:"symbol"`
	Name     string `json:"name,omitempty"`
	Exchange string `json:"exchange,omitempty"`
	Type     string `json:"type,omitempty"`
}
