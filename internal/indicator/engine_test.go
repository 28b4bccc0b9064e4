package indicator

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"StockLens/internal/cache"
	"StockLens/internal/model"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func makeSeries(symbol string, closes ...float64) model.PriceSeries {
	s := model.PriceSeries{Symbol: symbol}
	for i, c := range closes {
		s.Bars = append(s.Bars, model.PriceBar{
			Date: day0.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 100,
		})
	}
	return s
}

type fakeSource struct {
	series model.PriceSeries
	err    error
	calls  int
}

func (f *fakeSource) History(_ context.Context, symbol string, _, _ time.Time) (model.PriceSeries, error) {
	f.calls++
	if f.err != nil {
		return model.PriceSeries{}, f.err
	}
	s := f.series
	s.Symbol = symbol
	return s, nil
}

func newMemo() *cache.Cache {
	return cache.New(cache.NewMemory(), time.Hour, nil)
}

func value(t *testing.T, s model.Series, date string) float64 {
	t.Helper()
	v, ok := s[date]
	if !ok {
		t.Fatalf("date %s missing from series", date)
	}
	if v == nil {
		t.Fatalf("value at %s is missing", date)
	}
	return *v
}

func TestCompute_FlatFiveBars(t *testing.T) {
	series := makeSeries("X", 10, 10, 10, 10, 10)
	res := Compute(series, model.AllIndicators)

	ma5 := res[model.IndicatorMA]["MA5"]
	if got := value(t, ma5, "2024-01-05"); got != 10 {
		t.Errorf("MA5 at 5th date = %v, want 10", got)
	}
	if ma5["2024-01-04"] != nil {
		t.Errorf("MA5 at 4th date should be missing")
	}
	if len(res[model.IndicatorMA]["MA200"]) != 5 {
		t.Errorf("MA200 should still carry every date")
	}

	for d, v := range res[model.IndicatorRSI]["RSI"] {
		if v != nil {
			t.Errorf("RSI at %s = %v, want missing", d, *v)
		}
	}
	for _, line := range []string{"MACD", "Signal"} {
		s := res[model.IndicatorMACD][line]
		if len(s) != 5 {
			t.Fatalf("%s has %d dates, want 5", line, len(s))
		}
		for d := range s {
			if got := value(t, s, d); math.Abs(got) > 1e-9 {
				t.Errorf("%s at %s = %v, want 0", line, d, got)
			}
		}
	}
	for _, v := range res[model.IndicatorBB]["Middle"] {
		if v != nil {
			t.Errorf("BB needs 20 bars, got a value with 5")
		}
	}
}

func TestCompute_EmptySeries(t *testing.T) {
	res := Compute(model.PriceSeries{Symbol: "X"}, model.AllIndicators)
	want := map[string][]string{
		model.IndicatorMA:   {"MA5", "MA10", "MA20", "MA50", "MA200"},
		model.IndicatorRSI:  {"RSI"},
		model.IndicatorMACD: {"MACD", "Signal"},
		model.IndicatorBB:   {"Upper", "Middle", "Lower"},
	}
	if len(res) != len(want) {
		t.Fatalf("got %d indicators, want %d", len(res), len(want))
	}
	for name, lines := range want {
		for _, line := range lines {
			s, ok := res[name][line]
			if !ok {
				t.Errorf("%s/%s missing", name, line)
				continue
			}
			if len(s) != 0 {
				t.Errorf("%s/%s has %d values, want 0", name, line, len(s))
			}
		}
	}
}

func TestCompute_UnknownNamesIgnored(t *testing.T) {
	res := Compute(makeSeries("X", 1, 2, 3), []string{"rsi", "FOO", ""})
	if len(res) != 1 {
		t.Fatalf("got %v indicators, want only RSI", len(res))
	}
	if _, ok := res[model.IndicatorRSI]; !ok {
		t.Fatal("RSI missing")
	}
}

func TestCompute_AlignedWithDates(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100 + math.Sin(float64(i))*5
	}
	series := makeSeries("X", closes...)
	res := Compute(series, []string{"BB", "MA"})
	for _, d := range series.Dates() {
		if _, ok := res[model.IndicatorBB]["Upper"][d]; !ok {
			t.Fatalf("BB upper missing date %s", d)
		}
	}
	for d := range res[model.IndicatorBB]["Upper"] {
		u, m, l := res[model.IndicatorBB]["Upper"][d], res[model.IndicatorBB]["Middle"][d], res[model.IndicatorBB]["Lower"][d]
		if u == nil {
			continue
		}
		if !(*u >= *m && *m >= *l) {
			t.Errorf("band ordering broken at %s: %v %v %v", d, *u, *m, *l)
		}
		if got := value(t, res[model.IndicatorMA]["MA20"], d); math.Abs(got-*m) > 1e-9 {
			t.Errorf("BB middle %v != MA20 %v at %s", *m, got, d)
		}
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{"empty selects all", nil, model.AllIndicators},
		{"canonical order", []string{"bb", "ma"}, []string{"MA", "BB"}},
		{"dedupe and drop unknown", []string{"RSI", "rsi", "VWAP"}, []string{"RSI"}},
		{"all unknown", []string{"VWAP"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Normalize(%v) = %v, want %v", tt.in, got, tt.want)
				}
			}
		})
	}
}

func TestAnalyze_CacheHitSkipsFetch(t *testing.T) {
	src := &fakeSource{series: makeSeries("", 10, 11, 12, 13, 14)}
	e := NewEngine(src, newMemo())
	ctx := context.Background()
	req := Request{Symbol: "aapl", Start: day0, End: day0.AddDate(0, 0, 4), Indicators: []string{"RSI", "MA"}}

	first, err := e.Analyze(ctx, req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if first.Symbol != "AAPL" || first.StartDate != "2024-01-01" || first.EndDate != "2024-01-05" {
		t.Errorf("unexpected header: %+v", first)
	}

	// same request with a different spelling of the indicator set
	req.Indicators = []string{"ma", "rsi", "MA"}
	second, err := e.Analyze(ctx, req)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if src.calls != 1 {
		t.Errorf("history fetched %d times, want 1", src.calls)
	}
	if got := value(t, second.Data[model.IndicatorMA]["MA5"], "2024-01-05"); got != 12 {
		t.Errorf("cached MA5 = %v, want 12", got)
	}

	req.Indicators = []string{"MACD"}
	if _, err := e.Analyze(ctx, req); err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if src.calls != 2 {
		t.Errorf("different indicator set should miss, calls = %d", src.calls)
	}
}

func TestAnalyze_PropagatesUpstreamError(t *testing.T) {
	boom := errors.New("provider down")
	e := NewEngine(&fakeSource{err: boom}, newMemo())
	_, err := e.Analyze(context.Background(), Request{Symbol: "X", Start: day0, End: day0})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}

func TestBuildSnapshot(t *testing.T) {
	closes := make([]float64, 30)
	for i := range closes {
		closes[i] = float64(100 + i)
	}
	snap, err := BuildSnapshot(makeSeries("X", closes...))
	if err != nil {
		t.Fatalf("BuildSnapshot: %v", err)
	}
	if snap.Close != 129 || snap.Date != "2024-01-30" {
		t.Errorf("latest bar = %v on %s", snap.Close, snap.Date)
	}
	if math.Abs(snap.ChangePct-100.0/128.0) > 1e-9 {
		t.Errorf("ChangePct = %v", snap.ChangePct)
	}
	if snap.MA20 == nil || *snap.MA20 != 119.5 {
		t.Errorf("MA20 = %v, want 119.5", snap.MA20)
	}
	if snap.MA200 != nil {
		t.Errorf("MA200 should be missing with 30 bars")
	}
	if snap.RSI == nil || *snap.RSI != 100 {
		t.Errorf("RSI of a rising series = %v, want 100", snap.RSI)
	}
	if snap.High52w != 130 || snap.Low52w != 99 {
		t.Errorf("52w range = %v..%v", snap.Low52w, snap.High52w)
	}
	if snap.Position52w <= 0.9 || snap.Position52w > 1 {
		t.Errorf("Position52w = %v", snap.Position52w)
	}

	if _, err := BuildSnapshot(model.PriceSeries{}); !errors.Is(err, ErrNoData) {
		t.Errorf("empty series err = %v, want ErrNoData", err)
	}
}

func TestSnapshot_UsesYearWindow(t *testing.T) {
	src := &fakeSource{series: makeSeries("", 5, 6)}
	e := NewEngine(src, newMemo())
	e.Now = func() time.Time { return time.Date(2024, 6, 1, 15, 0, 0, 0, time.UTC) }
	snap, err := e.Snapshot(context.Background(), "x")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Symbol != "X" || snap.Close != 6 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestForecast(t *testing.T) {
	src := &fakeSource{series: makeSeries("", 100, 110)}
	e := NewEngine(src, newMemo())
	ctx := context.Background()

	points, err := e.Forecast(ctx, "X", day0, day0.AddDate(0, 0, 1), 2)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(points) != 2 {
		t.Fatalf("got %d points, want 2", len(points))
	}
	if points[0].Date != "2024-01-03" || math.Abs(points[0].Price-121) > 1e-9 {
		t.Errorf("day 1 = %+v", points[0])
	}
	if points[1].Date != "2024-01-04" || math.Abs(points[1].Price-133.1) > 1e-9 {
		t.Errorf("day 2 = %+v", points[1])
	}

	if _, err := e.Forecast(ctx, "X", day0, day0.AddDate(0, 0, 1), 2); err != nil {
		t.Fatal(err)
	}
	if src.calls != 1 {
		t.Errorf("forecast not memoized, calls = %d", src.calls)
	}

	if got := BuildForecast(makeSeries("X", 5), 3); len(got) != 0 {
		t.Errorf("single bar forecast = %v, want empty", got)
	}
}
