package model

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// DateLayout is the canonical date format used for request dates and result keys.
const DateLayout = "2006-01-02"

// PriceBar represents a single daily candlestick.
type PriceBar struct {
	Date   time.Time `json:"date"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// PriceSeries is the date-ordered daily history of one instrument.
type PriceSeries struct {
	Symbol string     `json:"symbol"`
	Bars   []PriceBar `json:"data"`
}

// Len returns the number of bars.
func (s PriceSeries) Len() int { return len(s.Bars) }

// Closes returns the close prices in date order.
func (s PriceSeries) Closes() []float64 {
	closes := make([]float64, len(s.Bars))
	for i, b := range s.Bars {
		closes[i] = b.Close
	}
	return closes
}

// Dates returns the bar dates formatted with DateLayout.
func (s PriceSeries) Dates() []string {
	dates := make([]string, len(s.Bars))
	for i, b := range s.Bars {
		dates[i] = b.Date.Format(DateLayout)
	}
	return dates
}

// Validate reports the first bar that breaks ordering or price invariants.
func (s PriceSeries) Validate() error {
	for i, b := range s.Bars {
		if !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close) {
			return fmt.Errorf("bar %d (%s): invalid price", i, b.Date.Format(DateLayout))
		}
		if b.Volume < 0 {
			return fmt.Errorf("bar %d (%s): negative volume", i, b.Date.Format(DateLayout))
		}
		if i > 0 && !s.Bars[i-1].Date.Before(b.Date) {
			return fmt.Errorf("bar %d (%s): dates not strictly ascending", i, b.Date.Format(DateLayout))
		}
	}
	return nil
}

// NormalizeBars sorts bars by date, keeps the last bar seen for a duplicated
// date and drops bars carrying negative or non-finite prices.
func NormalizeBars(bars []PriceBar) []PriceBar {
	out := make([]PriceBar, 0, len(bars))
	for _, b := range bars {
		if !validPrice(b.Open) || !validPrice(b.High) || !validPrice(b.Low) || !validPrice(b.Close) {
			continue
		}
		if b.Volume < 0 {
			b.Volume = 0
		}
		y, m, d := b.Date.Date()
		b.Date = time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		out = append(out, b)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })

	dedup := out[:0]
	for _, b := range out {
		if n := len(dedup); n > 0 && dedup[n-1].Date.Equal(b.Date) {
			dedup[n-1] = b
			continue
		}
		dedup = append(dedup, b)
	}
	return dedup
}

func validPrice(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0) && !math.IsNaN(v)
}

// Day returns t's calendar date as midnight UTC, the form used for request
// dates and cache keys.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
