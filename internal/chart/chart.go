package chart

import (
	"errors"
	"fmt"
	"math"

	"github.com/vicanso/go-charts/v2"

	"StockLens/internal/model"
)

// ErrNotEnoughData is returned for series with fewer than two bars.
var ErrNotEnoughData = errors.New("not enough data points")

// overlayLines are the moving averages drawn over the close line.
var overlayLines = []string{"MA20", "MA50"}

// RenderPriceChart draws the close price with MA20 and MA50 overlays and
// returns PNG bytes. ma is the "MA" entry of an indicator result; missing
// lines are skipped.
func RenderPriceChart(series model.PriceSeries, ma model.Lines) ([]byte, error) {
	if series.Len() < 2 {
		return nil, ErrNotEnoughData
	}
	dates := series.Dates()
	closes := series.Closes()

	values := [][]float64{closes}
	names := []string{"Close"}
	yMin, yMax := bounds(closes)
	for _, name := range overlayLines {
		line, ok := ma[name]
		if !ok {
			continue
		}
		points := make([]float64, len(dates))
		for i, d := range dates {
			v := line[d]
			if v == nil {
				points[i] = charts.GetNullValue()
				continue
			}
			points[i] = *v
			yMin = math.Min(yMin, *v)
			yMax = math.Max(yMax, *v)
		}
		values = append(values, points)
		names = append(names, name)
	}

	pad := (yMax - yMin) * 0.05
	if pad < yMax*0.002 {
		pad = yMax * 0.002
	}
	yMin = math.Max(0, yMin-pad)
	yMax += pad

	painter, err := charts.LineRender(values,
		charts.PNGTypeOption(),
		charts.TitleTextOptionFunc(fmt.Sprintf("%s • %s ~ %s", series.Symbol, dates[0], dates[len(dates)-1])),
		charts.XAxisOptionFunc(charts.XAxisOption{Data: dates, BoundaryGap: charts.FalseFlag(), SplitNumber: 6}),
		charts.YAxisOptionFunc(charts.YAxisOption{Min: &yMin, Max: &yMax, DivideCount: 5}),
		charts.LegendOptionFunc(charts.LegendOption{Data: names, Left: charts.PositionRight}),
		charts.ThemeOptionFunc(charts.ThemeLight),
	)
	if err != nil {
		return nil, fmt.Errorf("render chart: %w", err)
	}
	img, err := painter.Bytes()
	if err != nil {
		return nil, fmt.Errorf("encode chart: %w", err)
	}
	return img, nil
}

func bounds(values []float64) (lo, hi float64) {
	lo, hi = values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi
}
