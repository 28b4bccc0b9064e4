package scheduler

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"StockLens/internal/cache"
	"StockLens/internal/collector"
	"StockLens/internal/indicator"
	"StockLens/internal/model"
	"StockLens/internal/recorder"
	"StockLens/internal/refresh"
)

var fixedNow = time.Date(2024, 6, 3, 18, 0, 0, 0, time.UTC)

type captureNotifier struct {
	mu    sync.Mutex
	texts []string
	sent  chan string
}

func (c *captureNotifier) Send(_ context.Context, text string) error {
	c.mu.Lock()
	c.texts = append(c.texts, text)
	c.mu.Unlock()
	if c.sent != nil {
		c.sent <- text
	}
	return nil
}

func (c *captureNotifier) SendPhoto(context.Context, string, []byte, string) error { return nil }

func newTestScheduler(t *testing.T, mock *collector.MockFetcher) (*Scheduler, *captureNotifier) {
	t.Helper()
	store := cache.NewMemory()
	store.Now = func() time.Time { return fixedNow }
	col := collector.NewCollector(mock, cache.New(store, 24*time.Hour, nil), nil, nil)

	engine := indicator.NewEngine(col, cache.New(cache.NewMemory(), time.Hour, nil))
	engine.Now = func() time.Time { return fixedNow }

	orch := refresh.NewOrchestrator(col, nil, nil, refresh.Options{})
	orch.Now = func() time.Time { return fixedNow }
	rec := recorder.NewNoopRecorder()
	orch.Recorder = rec

	n := &captureNotifier{sent: make(chan string, 4)}
	s := NewScheduler(context.Background(), orch, engine, col, n, rec)
	s.Now = func() time.Time { return fixedNow }
	return s, n
}

func TestRegister(t *testing.T) {
	s, _ := newTestScheduler(t, &collector.MockFetcher{})
	if err := s.Register("not a cron"); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
	if err := s.Register(""); err != nil {
		t.Fatalf("Register default: %v", err)
	}
	if got := len(s.Cron.Entries()); got != 1 {
		t.Errorf("entries = %d, want 1", got)
	}
}

func TestRunNow_SendsReportAndRecords(t *testing.T) {
	s, n := newTestScheduler(t, &collector.MockFetcher{Symbols: []string{"AAA", "BBB"}})

	run := s.RunNow()
	if run == nil {
		t.Fatal("RunNow returned nil")
	}
	if run.Succeeded != 2 {
		t.Errorf("succeeded = %d, want 2", run.Succeeded)
	}
	if len(n.texts) != 1 || !strings.Contains(n.texts[0], run.ID) {
		t.Fatalf("report not sent: %q", n.texts)
	}

	reply := s.HandleCommand(context.Background(), "/status")
	if !strings.Contains(reply.Text, run.ID) {
		t.Errorf("/status = %q, want run %s", reply.Text, run.ID)
	}
}

func TestRunNow_ReportsFailedRun(t *testing.T) {
	s, n := newTestScheduler(t, &collector.MockFetcher{Err: errors.New("down")})

	run := s.RunNow()
	if run == nil || run.OK() {
		t.Fatalf("expected failed run, got %+v", run)
	}
	if len(n.texts) != 1 || !strings.Contains(n.texts[0], refresh.ErrNoUniverse.Error()) {
		t.Errorf("failed run not reported: %q", n.texts)
	}
}

func TestHandleCommand(t *testing.T) {
	mock := &collector.MockFetcher{
		Price: 50,
		Bars:  map[string][]model.PriceBar{"EMPTY": {}},
		Fail:  map[string]error{"BROKEN": errors.New("status 500")},
	}
	s, _ := newTestScheduler(t, mock)
	ctx := context.Background()

	tests := []struct {
		text string
		want string
	}{
		{"/status", "No batch refresh has run yet."},
		{"/quote aapl", "<b>AAPL</b> | 2024-06-03"},
		{"/quote@lens_bot msft", "<b>MSFT</b>"},
		{"/quote", "Usage: /quote SYMBOL"},
		{"/quote EMPTY", "No price data for EMPTY."},
		{"/quote BROKEN", "Could not load BROKEN"},
		{"/chart", "Usage: /chart SYMBOL"},
		{"/chart EMPTY", "No price data for EMPTY."},
		{"/help", "StockLens commands"},
		{"hello", "StockLens commands"},
		{"   ", "StockLens commands"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := s.HandleCommand(ctx, tt.text)
			if !strings.Contains(got.Text, tt.want) {
				t.Errorf("HandleCommand(%q) = %q, want %q", tt.text, got.Text, tt.want)
			}
		})
	}
}

func TestHandleCommand_Chart(t *testing.T) {
	s, _ := newTestScheduler(t, &collector.MockFetcher{Price: 80})

	reply := s.HandleCommand(context.Background(), "/chart nvda")
	if !bytes.HasPrefix(reply.Photo, []byte("\x89PNG")) {
		t.Fatal("expected a PNG chart")
	}
	if reply.PhotoName != "NVDA.png" {
		t.Errorf("photo name = %q", reply.PhotoName)
	}
	if !strings.Contains(reply.Caption, "NVDA") {
		t.Errorf("caption = %q", reply.Caption)
	}
}

func TestHandleCommand_RefreshRunsInBackground(t *testing.T) {
	s, n := newTestScheduler(t, &collector.MockFetcher{Symbols: []string{"AAA"}})

	reply := s.HandleCommand(context.Background(), "/refresh")
	if !strings.Contains(reply.Text, "started") {
		t.Fatalf("/refresh = %q", reply.Text)
	}
	select {
	case report := <-n.sent:
		if !strings.Contains(report, "Succeeded: 1") {
			t.Errorf("unexpected report %q", report)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no batch report after /refresh")
	}
}
