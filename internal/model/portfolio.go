package model

// Valuation aggregates basic company figures across a weighted basket.
type Valuation struct {
	TotalMarketCap float64       `json:"total_market_cap"`
	AvgPE          float64       `json:"avg_pe"`
	AvgPB          float64       `json:"avg_pb"`
	Stocks         []CompanyInfo `json:"stocks"`
}

// Performance holds basket return statistics over a date range.
//
// TotalReturn is the weighted sum of each instrument's simple return, not a
// compounded portfolio return. DailyReturns concatenates every instrument's
// weighted day-over-day returns in basket order without aligning dates.
type Performance struct {
	TotalReturn  float64   `json:"total_return"`
	Volatility   float64   `json:"volatility"`
	SharpeRatio  float64   `json:"sharpe_ratio"`
	DailyReturns []float64 `json:"daily_returns"`
}

// PortfolioAnalysis is the valuation response.
type PortfolioAnalysis struct {
	Symbols  []string  `json:"symbols"`
	Weights  []float64 `json:"weights"`
	Analysis Valuation `json:"analysis"`
}

// PortfolioPerformance is the performance response.
type PortfolioPerformance struct {
	Symbols     []string    `json:"symbols"`
	Weights     []float64   `json:"weights"`
	StartDate   string      `json:"start_date"`
	EndDate     string      `json:"end_date"`
	Performance Performance `json:"performance"`
}
