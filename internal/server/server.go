package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"

	"StockLens/internal/cache"
	"StockLens/internal/collector"
	"StockLens/internal/indicator"
	"StockLens/internal/metrics"
	"StockLens/internal/portfolio"
)

// Server exposes the collector, indicator engine and portfolio aggregator
// over HTTP.
type Server struct {
	Collector *collector.Collector
	Engine    *indicator.Engine
	Portfolio *portfolio.Aggregator
	Metrics   *metrics.Metrics
	// Caches are cleared by DELETE /cache.
	Caches []*cache.Cache
	Now    func() time.Time

	validate *validator.Validate
	mux      *http.ServeMux
}

// New creates a Server and registers its routes.
func New(col *collector.Collector, engine *indicator.Engine, agg *portfolio.Aggregator, m *metrics.Metrics, caches ...*cache.Cache) *Server {
	s := &Server{
		Collector: col,
		Engine:    engine,
		Portfolio: agg,
		Metrics:   m,
		Caches:    caches,
		Now:       time.Now,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		mux:       http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.Metrics.Handler())

	s.mux.HandleFunc("GET /stocks/list", s.handleList)
	s.mux.HandleFunc("GET /stocks/screen", s.handleScreen)
	s.mux.HandleFunc("GET /stocks/portfolio/analysis", s.handlePortfolioAnalysis)
	s.mux.HandleFunc("GET /stocks/portfolio/performance", s.handlePortfolioPerformance)

	s.mux.HandleFunc("GET /stocks/{symbol}/price", s.handlePrice)
	s.mux.HandleFunc("GET /stocks/{symbol}/info", s.handleInfo)
	s.mux.HandleFunc("GET /stocks/{symbol}/basic-info", s.handleInfo)
	s.mux.HandleFunc("GET /stocks/{symbol}/technical-analysis", s.handleTechnicalAnalysis)
	s.mux.HandleFunc("GET /stocks/{symbol}/summary", s.handleSummary)
	s.mux.HandleFunc("GET /stocks/{symbol}/forecast", s.handleForecast)
	s.mux.HandleFunc("GET /stocks/{symbol}/chart.png", s.handleChart)

	s.mux.HandleFunc("DELETE /cache", s.handleClearCache)
}

// Handler returns the routed handler wrapped with request logging and panic
// recovery.
func (s *Server) Handler() http.Handler {
	return logRequests(recoverPanics(s.mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Msg("http server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(started)).
			Msg("http request")
	})
}

func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if v := recover(); v != nil {
				log.Error().Str("path", r.URL.Path).Interface("panic", v).Msg("handler panicked")
				writeError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
