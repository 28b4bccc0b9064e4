package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/phuslu/log"

	"StockLens/internal/chart"
	"StockLens/internal/collector"
	"StockLens/internal/indicator"
	"StockLens/internal/model"
	"StockLens/internal/portfolio"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

// fail maps err to a status code and writes it.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	var reqErr *requestError
	var upErr *collector.UpstreamError
	switch {
	case errors.As(err, &reqErr),
		errors.Is(err, portfolio.ErrInvalidWeights),
		errors.Is(err, portfolio.ErrNoSymbols):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, indicator.ErrNoData), errors.Is(err, chart.ErrNotEnoughData):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &upErr):
		log.Warn().Str("path", r.URL.Path).Err(err).Msg("upstream failure")
		writeError(w, http.StatusBadGateway, fmt.Sprintf("upstream provider %s failed on %s", upErr.Provider, upErr.Op))
	default:
		log.Error().Str("path", r.URL.Path).Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func symbolOf(r *http.Request) string {
	return strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := s.Collector.Listing(r.Context())
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r.URL.Query(), "limit", DefaultScreenLimit)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := screenQuery{Limit: limit}
	if err := s.check(q); err != nil {
		fail(w, r, err)
		return
	}
	list, err := s.Collector.Screen(r.Context(), q.Limit)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	q, err := parseWindow(r, DefaultDays)
	if err == nil {
		err = s.check(q)
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	start, end, err := s.resolve(q)
	if err != nil {
		fail(w, r, err)
		return
	}
	series, err := s.Collector.History(r.Context(), symbolOf(r), start, end)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	info, err := s.Collector.CompanyInfo(r.Context(), symbolOf(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleTechnicalAnalysis(w http.ResponseWriter, r *http.Request) {
	win, err := parseWindow(r, DefaultDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := analysisQuery{windowQuery: win, Indicators: listParam(r.URL.Query(), "indicators")}
	if err := s.check(q); err != nil {
		fail(w, r, err)
		return
	}
	start, end, err := s.resolve(q.windowQuery)
	if err != nil {
		fail(w, r, err)
		return
	}
	ta, err := s.Engine.Analyze(r.Context(), indicator.Request{
		Symbol:     symbolOf(r),
		Start:      start,
		End:        end,
		Indicators: q.Indicators,
	})
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ta)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	snap, err := s.Engine.Snapshot(r.Context(), symbolOf(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	days, err := intParam(query, "days", DefaultForecastDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	history, err := intParam(query, "history_days", DefaultForecastHistory)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := forecastQuery{Days: days, HistoryDays: history}
	if err := s.check(q); err != nil {
		fail(w, r, err)
		return
	}

	symbol := symbolOf(r)
	end := model.Day(s.now())
	points, err := s.Engine.Forecast(r.Context(), symbol, end.AddDate(0, 0, -q.HistoryDays), end, q.Days)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "forecast": points})
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	days, err := intParam(r.URL.Query(), "days", DefaultChartDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	q := chartQuery{Days: days}
	if err := s.check(q); err != nil {
		fail(w, r, err)
		return
	}

	end := model.Day(s.now())
	series, err := s.Collector.History(r.Context(), symbolOf(r), end.AddDate(0, 0, -q.Days), end)
	if err != nil {
		fail(w, r, err)
		return
	}
	ma := indicator.Compute(series, []string{model.IndicatorMA})[model.IndicatorMA]
	img, err := chart.RenderPriceChart(series, ma)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "max-age=300")
	if _, err := w.Write(img); err != nil {
		log.Warn().Err(err).Msg("write chart")
	}
}

func (s *Server) parsePortfolio(r *http.Request, defDays int) (portfolioQuery, error) {
	win, err := parseWindow(r, defDays)
	if err != nil {
		return portfolioQuery{}, err
	}
	weights, err := floatListParam(r.URL.Query(), "weights")
	if err != nil {
		return portfolioQuery{}, err
	}
	q := portfolioQuery{
		windowQuery: win,
		Symbols:     listParam(r.URL.Query(), "symbols"),
		Weights:     weights,
	}
	if len(q.Symbols) == 0 {
		return q, badRequest("symbols is required")
	}
	if len(q.Weights) > 0 && len(q.Weights) != len(q.Symbols) {
		return q, badRequest("Number of weights must match number of symbols")
	}
	return q, s.check(q)
}

func (s *Server) handlePortfolioAnalysis(w http.ResponseWriter, r *http.Request) {
	q, err := s.parsePortfolio(r, DefaultPerformanceDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	analysis, err := s.Portfolio.Analyze(r.Context(), q.Symbols, q.Weights)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) handlePortfolioPerformance(w http.ResponseWriter, r *http.Request) {
	q, err := s.parsePortfolio(r, DefaultPerformanceDays)
	if err != nil {
		fail(w, r, err)
		return
	}
	start, end, err := s.resolve(q.windowQuery)
	if err != nil {
		fail(w, r, err)
		return
	}
	perf, err := s.Portfolio.Track(r.Context(), q.Symbols, q.Weights, start, end)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perf)
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	for _, c := range s.Caches {
		if err := c.Clear(nil); err != nil {
			fail(w, r, err)
			return
		}
	}
	log.Info().Int("caches", len(s.Caches)).Msg("caches cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "success", "message": "cache cleared"})
}
