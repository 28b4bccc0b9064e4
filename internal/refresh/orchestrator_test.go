package refresh

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StockLens/internal/cache"
	"StockLens/internal/collector"
	"StockLens/internal/metrics"
	"StockLens/internal/model"
	"StockLens/internal/recorder"
)

var fixedNow = time.Date(2024, 6, 3, 18, 0, 0, 0, time.UTC)

func newRig(t *testing.T, mock *collector.MockFetcher, opts Options) (*Orchestrator, *collector.Collector, *recorder.NoopRecorder, *metrics.Metrics) {
	t.Helper()
	store := cache.NewMemory()
	store.Now = func() time.Time { return fixedNow }
	col := collector.NewCollector(mock, cache.New(store, 24*time.Hour, nil), nil, nil)
	rec := recorder.NewNoopRecorder()
	m := metrics.NewMetrics()
	o := NewOrchestrator(col, rec, m, opts)
	o.Now = func() time.Time { return fixedNow }
	return o, col, rec, m
}

func TestRun_WarmsCacheForUniverse(t *testing.T) {
	mock := &collector.MockFetcher{Price: 20, Symbols: []string{"AAA", "BBB", "CCC"}}
	o, col, rec, m := newRig(t, mock, Options{HistoryDays: 30})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, run.ID)
	assert.Equal(t, 3, run.Universe)
	assert.Equal(t, 3, run.Succeeded)
	assert.Zero(t, run.Failed)
	assert.True(t, run.OK())

	// the default request window is served without another fetch
	end := model.Day(fixedNow)
	for _, sym := range []string{"AAA", "BBB", "CCC"} {
		s, err := col.History(context.Background(), sym, end.AddDate(0, 0, -30), end)
		require.NoError(t, err)
		assert.Equal(t, 31, s.Len())
		assert.Equal(t, 1, mock.HistoryCallsFor(sym))
	}
	assert.Equal(t, 3, mock.InfoCalls())

	last, _ := rec.LastBatch()
	require.NotNil(t, last)
	assert.Equal(t, run.ID, last.ID)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRuns.WithLabelValues("ok")))
}

func TestRun_IsolatesSymbolFailures(t *testing.T) {
	mock := &collector.MockFetcher{
		Symbols: []string{"GOOD", "BAD", "ALSO"},
		Fail:    map[string]error{"BAD": errors.New("provider 500")},
	}
	o, _, _, m := newRig(t, mock, Options{})

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Succeeded)
	assert.Equal(t, 1, run.Failed)
	require.Len(t, run.Failures, 1)
	assert.Equal(t, "BAD", run.Failures[0].Symbol)
	assert.Equal(t, model.StageHistory, run.Failures[0].Stage)
	assert.Contains(t, run.Failures[0].Error, "provider 500")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchSymbolFailures.WithLabelValues(model.StageHistory)))
}

func TestRun_NoUniverse(t *testing.T) {
	mock := &collector.MockFetcher{Err: errors.New("listing down")}
	o, _, rec, m := newRig(t, mock, Options{})

	run, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrNoUniverse)
	require.NotNil(t, run)
	assert.False(t, run.OK())
	assert.Zero(t, mock.HistoryCalls(), "no per-symbol work without a universe")

	last, _ := rec.LastBatch()
	require.NotNil(t, last, "failed runs are recorded too")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BatchRuns.WithLabelValues("failed")))
}

func TestRun_FallsBackToCachedListing(t *testing.T) {
	mock := &collector.MockFetcher{Symbols: []string{"AAA"}}
	o, col, _, _ := newRig(t, mock, Options{})
	_, err := col.Listing(context.Background())
	require.NoError(t, err)

	o.Source = &failingListing{Collector: col}

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Universe)
}

type failingListing struct {
	*collector.Collector
}

func (f *failingListing) RefreshListing(context.Context) ([]model.ListingEntry, error) {
	return nil, errors.New("listing endpoint down")
}

func TestRun_MaxSymbols(t *testing.T) {
	mock := &collector.MockFetcher{Symbols: []string{"A", "B", "C", "D"}}
	o, _, _, _ := newRig(t, mock, Options{MaxSymbols: 2})
	run, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, run.Universe)
	assert.Equal(t, 2, mock.HistoryCalls())
}

type blockingSource struct {
	*collector.Collector
	release chan struct{}
	entered chan struct{}
	once    sync.Once
}

func (b *blockingSource) RefreshHistory(ctx context.Context, symbol string, start, end time.Time) (model.PriceSeries, error) {
	b.once.Do(func() { close(b.entered) })
	select {
	case <-b.release:
	case <-ctx.Done():
		return model.PriceSeries{}, ctx.Err()
	}
	return b.Collector.RefreshHistory(ctx, symbol, start, end)
}

func TestRun_RejectsOverlap(t *testing.T) {
	mock := &collector.MockFetcher{Symbols: []string{"A"}}
	o, col, _, _ := newRig(t, mock, Options{})
	src := &blockingSource{Collector: col, release: make(chan struct{}), entered: make(chan struct{})}
	o.Source = src

	done := make(chan error, 1)
	go func() {
		_, err := o.Run(context.Background())
		done <- err
	}()
	<-src.entered

	_, err := o.Run(context.Background())
	assert.ErrorIs(t, err, ErrBusy)

	close(src.release)
	require.NoError(t, <-done)
}

func TestRun_SymbolTimeout(t *testing.T) {
	mock := &collector.MockFetcher{Symbols: []string{"SLOW"}}
	o, col, _, _ := newRig(t, mock, Options{SymbolTimeout: 20 * time.Millisecond})
	o.Source = &blockingSource{Collector: col, release: make(chan struct{}), entered: make(chan struct{})}

	run, err := o.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, run.Failures, 1)
	assert.Contains(t, run.Failures[0].Error, context.DeadlineExceeded.Error())
}
