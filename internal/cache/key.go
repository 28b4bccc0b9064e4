package cache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Well-known operation names.
const (
	OpStockList            = "stock_list"
	OpPrice                = "price"
	OpInfo                 = "info"
	OpTechnicalAnalysis    = "technical_analysis"
	OpPortfolioAnalysis    = "portfolio_analysis"
	OpPortfolioPerformance = "portfolio_performance"
	OpForecast             = "forecast"
)

// Key identifies one cached value. Two keys describing the same logical
// request produce the same String and Hash regardless of indicator order or
// case.
type Key struct {
	Op         string
	Symbol     string
	Start      string
	End        string
	Indicators []string
	Params     []string
}

// String returns the canonical form "op:symbol:start:end:IND1,IND2:p1,p2".
// Trailing empty parts are omitted, so Key{Op: "stock_list"} is "stock_list".
func (k Key) String() string {
	parts := []string{
		k.Op,
		strings.ToUpper(k.Symbol),
		k.Start,
		k.End,
		strings.Join(canonicalIndicators(k.Indicators), ","),
		strings.Join(k.Params, ","),
	}
	n := len(parts)
	for n > 1 && parts[n-1] == "" {
		n--
	}
	return strings.Join(parts[:n], ":")
}

// Hash returns the hex SHA-1 of String, used for file names.
func (k Key) Hash() string {
	sum := sha1.Sum([]byte(k.String()))
	return hex.EncodeToString(sum[:])
}

func canonicalIndicators(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// ParseKey is the inverse of Key.String.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Key{}, fmt.Errorf("empty cache key")
	}
	parts := strings.Split(s, ":")
	if len(parts) > 6 {
		return Key{}, fmt.Errorf("cache key %q has %d parts, want at most 6", s, len(parts))
	}
	parts = append(parts, make([]string, 6-len(parts))...)
	k := Key{Op: parts[0], Symbol: parts[1], Start: parts[2], End: parts[3]}
	if parts[4] != "" {
		k.Indicators = strings.Split(parts[4], ",")
	}
	if parts[5] != "" {
		k.Params = strings.Split(parts[5], ",")
	}
	return k, nil
}
