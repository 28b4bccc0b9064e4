package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/robfig/cron/v3"

	"StockLens/internal/chart"
	"StockLens/internal/indicator"
	"StockLens/internal/model"
	"StockLens/internal/notifier"
	"StockLens/internal/recorder"
	"StockLens/internal/refresh"
)

// DefaultRefreshCron runs the batch refresh every day at 18:00.
const DefaultRefreshCron = "0 0 18 * * *"

// ChartDays is the window drawn by the /chart command.
const ChartDays = 180

// Scheduler triggers the batch refresh on a cron schedule and answers chat
// commands.
type Scheduler struct {
	Cron         *cron.Cron
	Orchestrator *refresh.Orchestrator
	Engine       *indicator.Engine
	History      indicator.HistorySource
	Notifier     notifier.Notifier
	Recorder     recorder.Recorder
	Ctx          context.Context
	Now          func() time.Time
}

// NewScheduler creates a new Scheduler.
func NewScheduler(ctx context.Context, o *refresh.Orchestrator, e *indicator.Engine, history indicator.HistorySource, n notifier.Notifier, rec recorder.Recorder) *Scheduler {
	if n == nil {
		n = notifier.NoopNotifier{}
	}
	return &Scheduler{
		Cron:         cron.New(cron.WithSeconds()),
		Orchestrator: o,
		Engine:       e,
		History:      history,
		Notifier:     n,
		Recorder:     rec,
		Ctx:          ctx,
		Now:          time.Now,
	}
}

// Register adds the daily batch refresh.
func (s *Scheduler) Register(refreshCron string) error {
	if refreshCron == "" {
		refreshCron = DefaultRefreshCron
	}
	if _, err := s.Cron.AddFunc(refreshCron, func() { s.RunNow() }); err != nil {
		return fmt.Errorf("register refresh task: %w", err)
	}
	log.Info().Str("cron", refreshCron).Msg("batch refresh scheduled")
	return nil
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Msg("scheduler started")
}

// Stop stops the cron scheduler and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
}

// RunNow executes the batch refresh immediately and reports it. It returns
// nil when another run is already in progress.
func (s *Scheduler) RunNow() *model.BatchRun {
	run, err := s.Orchestrator.Run(s.Ctx)
	if errors.Is(err, refresh.ErrBusy) {
		log.Warn().Msg("batch refresh already running, skipping")
		return nil
	}
	if err != nil {
		log.Error().Err(err).Msg("batch refresh failed")
	}
	if run != nil {
		s.trySend(notifier.FormatBatchReport(run))
	}
	return run
}

// HandleCommand answers one chat message.
func (s *Scheduler) HandleCommand(ctx context.Context, text string) notifier.Reply {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return notifier.Reply{Text: notifier.FormatHelp()}
	}
	cmd := strings.ToLower(fields[0])
	if i := strings.Index(cmd, "@"); i > 0 {
		cmd = cmd[:i]
	}
	var arg string
	if len(fields) > 1 {
		arg = strings.ToUpper(fields[1])
	}

	switch cmd {
	case "/refresh":
		if s.Orchestrator.Running() {
			return notifier.Reply{Text: "A batch refresh is already running."}
		}
		go s.RunNow()
		return notifier.Reply{Text: "Batch refresh started. The report follows when it finishes."}
	case "/status":
		return s.status()
	case "/quote":
		if arg == "" {
			return notifier.Reply{Text: "Usage: /quote SYMBOL"}
		}
		return s.quote(ctx, arg)
	case "/chart":
		if arg == "" {
			return notifier.Reply{Text: "Usage: /chart SYMBOL"}
		}
		return s.chart(ctx, arg)
	default:
		return notifier.Reply{Text: notifier.FormatHelp()}
	}
}

func (s *Scheduler) status() notifier.Reply {
	if s.Recorder == nil {
		return notifier.Reply{Text: "No batch refresh has run yet."}
	}
	run, err := s.Recorder.LastBatch()
	if err != nil {
		log.Error().Err(err).Msg("load last batch")
		return notifier.Reply{Text: "Could not load the last batch refresh."}
	}
	if run == nil {
		return notifier.Reply{Text: "No batch refresh has run yet."}
	}
	return notifier.Reply{Text: notifier.FormatBatchReport(run)}
}

func (s *Scheduler) quote(ctx context.Context, symbol string) notifier.Reply {
	snap, err := s.Engine.Snapshot(ctx, symbol)
	if err != nil {
		return failure(symbol, err)
	}
	return notifier.Reply{Text: notifier.FormatSnapshot(snap)}
}

func (s *Scheduler) chart(ctx context.Context, symbol string) notifier.Reply {
	end := model.Day(s.now())
	series, err := s.History.History(ctx, symbol, end.AddDate(0, 0, -ChartDays), end)
	if err != nil {
		return failure(symbol, err)
	}
	ma := indicator.Compute(series, []string{model.IndicatorMA})[model.IndicatorMA]
	img, err := chart.RenderPriceChart(series, ma)
	if err != nil {
		return failure(symbol, err)
	}
	return notifier.Reply{
		Photo:     img,
		PhotoName: symbol + ".png",
		Caption:   fmt.Sprintf("<b>%s</b> | %d days", symbol, ChartDays),
	}
}

func failure(symbol string, err error) notifier.Reply {
	log.Warn().Str("symbol", symbol).Err(err).Msg("command failed")
	if errors.Is(err, indicator.ErrNoData) || errors.Is(err, chart.ErrNotEnoughData) {
		return notifier.Reply{Text: fmt.Sprintf("No price data for %s.", symbol)}
	}
	return notifier.Reply{Text: fmt.Sprintf("Could not load %s, try again later.", symbol)}
}

type retrySender interface {
	SendWithRetry(ctx context.Context, text string, maxRetries int) error
}

func (s *Scheduler) trySend(text string) {
	var err error
	if r, ok := s.Notifier.(retrySender); ok {
		err = r.SendWithRetry(s.Ctx, text, 3)
	} else {
		err = s.Notifier.Send(s.Ctx, text)
	}
	if err != nil {
		log.Error().Err(err).Msg("send notification")
	}
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
