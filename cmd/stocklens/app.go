package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/phuslu/log"

	"StockLens/internal/cache"
	"StockLens/internal/collector"
	"StockLens/internal/config"
	"StockLens/internal/indicator"
	"StockLens/internal/logging"
	"StockLens/internal/metrics"
	"StockLens/internal/notifier"
	"StockLens/internal/portfolio"
	"StockLens/internal/recorder"
	"StockLens/internal/refresh"
)

// loadConfig reads, validates and applies the logging section. Tests replace it.
var loadConfig = func() (*config.Config, error) {
	p := *configPath
	if p == "" {
		p = config.Path()
	}
	cfg, err := config.Load(p)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	return cfg, nil
}

// app wires every component from one config.
type app struct {
	cfg          *config.Config
	metrics      *metrics.Metrics
	files        *cache.Cache
	memo         *cache.Cache
	collector    *collector.Collector
	engine       *indicator.Engine
	portfolio    *portfolio.Aggregator
	recorder     recorder.Recorder
	orchestrator *refresh.Orchestrator

	notifier notifier.Notifier
	telegram *notifier.TelegramNotifier // nil unless enableTelegram succeeded
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg, metrics: metrics.NewMetrics(), notifier: notifier.NoopNotifier{}}

	fileStore, err := cache.NewFileStore(cfg.Cache.Dir)
	if err != nil {
		return nil, fmt.Errorf("init file cache: %w", err)
	}
	a.files = cache.New(fileStore, cfg.Cache.FileMaxAge, a.metrics)
	a.memo = cache.New(cache.NewMemory(), cfg.Cache.MemoTTL, a.metrics)

	fetcher, err := newFetcher(cfg)
	if err != nil {
		return nil, err
	}
	log.Info().Str("provider", fetcher.Name()).Msg("data source ready")

	var breaker *collector.CircuitBreaker
	if cfg.Provider.BreakerFailures > 0 {
		breaker = collector.NewCircuitBreaker(fetcher.Name(), cfg.Provider.BreakerFailures, cfg.Provider.BreakerReset)
	}
	a.collector = collector.NewCollector(fetcher, a.files, breaker, a.metrics)
	a.engine = indicator.NewEngine(a.collector, a.memo)
	a.portfolio = portfolio.NewAggregator(a.collector, a.memo)
	a.recorder = openRecorder(cfg.Database.SQLitePath)
	a.orchestrator = refresh.NewOrchestrator(a.collector, a.recorder, a.metrics, refresh.Options{
		HistoryDays:   cfg.Refresh.HistoryDays,
		Concurrency:   cfg.Refresh.Concurrency,
		SymbolTimeout: cfg.Refresh.SymbolTimeout,
		BatchTimeout:  cfg.Refresh.BatchTimeout,
		MaxSymbols:    cfg.Refresh.MaxSymbols,
	})
	return a, nil
}

func newFetcher(cfg *config.Config) (collector.Fetcher, error) {
	p := cfg.Provider
	switch p.Name {
	case config.ProviderEODHD:
		opts := []collector.EODHDOption{
			collector.WithRateLimit(p.RateLimit),
			collector.WithExchange(p.Exchange),
			collector.WithProxy(cfg.Proxy, p.Timeout),
		}
		if p.BaseURL != "" {
			opts = append(opts, collector.WithBaseURL(p.BaseURL))
		}
		return collector.NewEODHDFetcher(p.APIKey, opts...), nil
	case config.ProviderYahoo:
		f := collector.NewYahooFetcher(cfg.Proxy, p.Timeout, p.RateLimit, p.Universe)
		if p.BaseURL != "" {
			f.BaseURL = p.BaseURL
		}
		return f, nil
	case config.ProviderMock:
		return &collector.MockFetcher{Symbols: p.Universe}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", p.Name)
	}
}

func openRecorder(path string) recorder.Recorder {
	if path == "" {
		return recorder.NewNoopRecorder()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		log.Warn().Err(err).Msg("create database dir failed, using noop recorder")
		return recorder.NewNoopRecorder()
	}
	rec, err := recorder.NewSQLiteRecorder(path)
	if err != nil {
		log.Warn().Err(err).Msg("init sqlite recorder failed, using noop recorder")
		return recorder.NewNoopRecorder()
	}
	return rec
}

// enableTelegram switches the notifier to Telegram when it is configured. A
// connection failure leaves the noop notifier in place.
func (a *app) enableTelegram() {
	if !a.cfg.TelegramEnabled() {
		log.Info().Msg("telegram not configured, notifications disabled")
		return
	}
	tn, err := notifier.NewTelegramNotifier(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, a.cfg.Proxy)
	if err != nil {
		log.Error().Err(err).Msg("init telegram notifier failed, notifications disabled")
		return
	}
	a.telegram = tn
	a.notifier = tn
}

func (a *app) Close() {
	if err := a.recorder.Close(); err != nil {
		log.Warn().Err(err).Msg("close recorder")
	}
}
