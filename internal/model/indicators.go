package model

// Indicator names accepted by the analysis engine.
const (
	IndicatorMA   = "MA"
	IndicatorRSI  = "RSI"
	IndicatorMACD = "MACD"
	IndicatorBB   = "BB"
)

// AllIndicators lists every supported indicator in display order.
var AllIndicators = []string{IndicatorMA, IndicatorRSI, IndicatorMACD, IndicatorBB}

// Series maps a YYYY-MM-DD date to a value. A nil value marks a date without
// enough trailing history.
type Series map[string]*float64

// Lines groups the named output lines of one indicator (e.g. "MA5", "MA20").
type Lines map[string]Series

// IndicatorResult maps an indicator name to its output lines.
type IndicatorResult map[string]Lines

// TechnicalAnalysis is the response for one symbol and date range.
type TechnicalAnalysis struct {
	Symbol    string          `json:"symbol"`
	StartDate string          `json:"start_date"`
	EndDate   string          `json:"end_date"`
	Data      IndicatorResult `json:"data"`
}

// Snapshot summarises the latest state of an instrument.
type Snapshot struct {
	Symbol      string   `json:"symbol"`
	Date        string   `json:"date"`
	Close       float64  `json:"close"`
	ChangePct   float64  `json:"change_pct"`
	MA20        *float64 `json:"ma20"`
	MA200       *float64 `json:"ma200"`
	RSI         *float64 `json:"rsi"`
	High52w     float64  `json:"high_52w"`
	Low52w      float64  `json:"low_52w"`
	Position52w float64  `json:"position_52w"` // 0.0 ~ 1.0
	High30d     float64  `json:"high_30d"`
	Low30d      float64  `json:"low_30d"`
}

// ForecastPoint is one day of a naive trend extrapolation.
type ForecastPoint struct {
	Date  string  `json:"date"`
	Price float64 `json:"forecast_price"`
}
