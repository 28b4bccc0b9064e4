package refresh

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"StockLens/internal/metrics"
	"StockLens/internal/model"
	"StockLens/internal/recorder"
)

var (
	// ErrNoUniverse aborts a run when no listing is cached after publishing.
	ErrNoUniverse = errors.New("stock list unavailable")
	// ErrBusy is returned when a run is already in progress.
	ErrBusy = errors.New("batch refresh already running")
)

// Source refreshes provider data into the persisted cache. The collector
// satisfies it.
type Source interface {
	RefreshListing(ctx context.Context) ([]model.ListingEntry, error)
	CachedListing() ([]model.ListingEntry, bool)
	RefreshHistory(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error)
	RefreshCompanyInfo(ctx context.Context, symbol string) (model.CompanyInfo, error)
}

// Options bound a run.
type Options struct {
	HistoryDays   int
	Concurrency   int
	SymbolTimeout time.Duration
	BatchTimeout  time.Duration
	MaxSymbols    int // 0 refreshes the whole universe
}

// DefaultOptions returns the settings used when config leaves them unset.
func DefaultOptions() Options {
	return Options{
		HistoryDays:   30,
		Concurrency:   4,
		SymbolTimeout: 30 * time.Second,
		BatchTimeout:  30 * time.Minute,
	}
}

// Orchestrator re-populates the cache for the whole universe.
type Orchestrator struct {
	Source   Source
	Recorder recorder.Recorder
	Metrics  *metrics.Metrics
	Options  Options
	Now      func() time.Time

	running atomic.Bool
}

// NewOrchestrator creates an Orchestrator. rec and m may be nil.
func NewOrchestrator(src Source, rec recorder.Recorder, m *metrics.Metrics, opts Options) *Orchestrator {
	def := DefaultOptions()
	if opts.HistoryDays <= 0 {
		opts.HistoryDays = def.HistoryDays
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}
	if opts.SymbolTimeout <= 0 {
		opts.SymbolTimeout = def.SymbolTimeout
	}
	if opts.BatchTimeout <= 0 {
		opts.BatchTimeout = def.BatchTimeout
	}
	return &Orchestrator{Source: src, Recorder: rec, Metrics: m, Options: opts, Now: time.Now}
}

// Running reports whether a batch is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// Run executes one batch: publish the listing, read it back, then refresh
// history and company info for every symbol. Symbol failures are collected
// in the returned run; only a missing universe or an expired batch deadline
// fail the run itself. Every run that starts is recorded.
func (o *Orchestrator) Run(ctx context.Context) (*model.BatchRun, error) {
	if !o.running.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer o.running.Store(false)

	run := &model.BatchRun{ID: uuid.NewString(), StartedAt: o.now()}
	log.Info().Str("run", run.ID).Msg("batch refresh started")

	ctx, cancel := context.WithTimeout(ctx, o.Options.BatchTimeout)
	defer cancel()

	err := o.run(ctx, run)
	if err == nil && ctx.Err() != nil {
		err = fmt.Errorf("batch deadline: %w", ctx.Err())
	}
	if err != nil {
		run.Err = err.Error()
	}
	o.finish(run)
	return run, err
}

func (o *Orchestrator) run(ctx context.Context, run *model.BatchRun) error {
	if _, err := o.Source.RefreshListing(ctx); err != nil {
		log.Warn().Err(err).Msg("refresh stock list failed, falling back to cached list")
	}

	universe, ok := o.Source.CachedListing()
	if !ok || len(universe) == 0 {
		log.Error().Msg("no stock list in cache, aborting batch")
		return ErrNoUniverse
	}
	if o.Options.MaxSymbols > 0 && len(universe) > o.Options.MaxSymbols {
		universe = universe[:o.Options.MaxSymbols]
	}
	run.Universe = len(universe)

	end := model.Day(o.now())
	start := end.AddDate(0, 0, -o.Options.HistoryDays)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(o.Options.Concurrency)
	for _, entry := range universe {
		symbol := entry.Symbol
		g.Go(func() error {
			failure := o.refreshSymbol(ctx, symbol, start, end)
			mu.Lock()
			defer mu.Unlock()
			if failure != nil {
				run.Failures = append(run.Failures, *failure)
				run.Failed++
			} else {
				run.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(run.Failures, func(i, j int) bool { return run.Failures[i].Symbol < run.Failures[j].Symbol })
	return nil
}

// refreshSymbol refreshes one symbol under its own deadline. It stops at the
// first failing stage.
func (o *Orchestrator) refreshSymbol(ctx context.Context, symbol string, start, end time.Time) *model.SymbolFailure {
	ctx, cancel := context.WithTimeout(ctx, o.Options.SymbolTimeout)
	defer cancel()

	if _, err := o.Source.RefreshHistory(ctx, symbol, start, end); err != nil {
		log.Warn().Str("symbol", symbol).Str("stage", model.StageHistory).Err(err).Msg("symbol refresh failed")
		return &model.SymbolFailure{Symbol: symbol, Stage: model.StageHistory, Error: err.Error()}
	}
	if _, err := o.Source.RefreshCompanyInfo(ctx, symbol); err != nil {
		log.Warn().Str("symbol", symbol).Str("stage", model.StageInfo).Err(err).Msg("symbol refresh failed")
		return &model.SymbolFailure{Symbol: symbol, Stage: model.StageInfo, Error: err.Error()}
	}
	return nil
}

func (o *Orchestrator) finish(run *model.BatchRun) {
	run.FinishedAt = o.now()

	byStage := make(map[string]int)
	for _, f := range run.Failures {
		byStage[f.Stage]++
	}
	o.Metrics.ObserveBatch(run.OK(), run.Duration(), byStage)

	if o.Recorder != nil {
		if err := o.Recorder.RecordBatch(run); err != nil {
			log.Error().Str("run", run.ID).Err(err).Msg("record batch run")
		}
	}

	log.Info().
		Str("run", run.ID).
		Int("universe", run.Universe).
		Int("succeeded", run.Succeeded).
		Int("failed", run.Failed).
		Dur("took", run.Duration()).
		Str("error", run.Err).
		Msg("batch refresh finished")
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}
