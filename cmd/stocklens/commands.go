package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/subcommands"
	"github.com/phuslu/log"

	"StockLens/internal/cache"
	"StockLens/internal/indicator"
	"StockLens/internal/model"
	"StockLens/internal/notifier"
	"StockLens/internal/scheduler"
	"StockLens/internal/server"
)

// commands lists every subcommand registered by main.
var commands = []subcommands.Command{
	&serveCmd{},
	&refreshCmd{},
	&analyzeCmd{},
	&portfolioCmd{},
	&cacheClearCmd{},
}

// stdout is where command results are printed. Tests replace it.
var stdout io.Writer = os.Stdout

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return subcommands.ExitFailure
}

func setup() (*app, subcommands.ExitStatus) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, subcommands.ExitUsageError
	}
	a, err := newApp(cfg)
	if err != nil {
		return nil, fail(err)
	}
	return a, subcommands.ExitSuccess
}

// serveCmd runs the HTTP API, the scheduled batch refresh and Telegram polling.
type serveCmd struct {
	addr string
}

func (*serveCmd) Name() string     { return "serve" }
func (*serveCmd) Synopsis() string { return "serve the HTTP API and run the scheduled batch refresh" }
func (*serveCmd) Usage() string {
	return `stocklens serve [-addr :8080]

  Serves the HTTP API, schedules the daily batch refresh and answers
  Telegram commands when a bot is configured.
`
}

func (c *serveCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.addr, "addr", "", "listen address (overrides server.addr)")
}

func (c *serveCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := setup()
	if a == nil {
		return status
	}
	defer a.Close()
	a.enableTelegram()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.NewScheduler(ctx, a.orchestrator, a.engine, a.collector, a.notifier, a.recorder)
	if err := sched.Register(a.cfg.Refresh.Cron); err != nil {
		return fail(err)
	}
	sched.Start()
	defer sched.Stop()

	if a.telegram != nil {
		go a.telegram.StartPolling(ctx, sched.HandleCommand)
	}
	if a.cfg.Refresh.RunOnStart {
		log.Info().Msg("run_on_start enabled, executing batch refresh now")
		go sched.RunNow()
	}

	addr := a.cfg.Server.Addr
	if c.addr != "" {
		addr = c.addr
	}
	srv := server.New(a.collector, a.engine, a.portfolio, a.metrics, a.files, a.memo)
	log.Info().Msg("StockLens is running. Press Ctrl+C to stop.")
	if err := srv.ListenAndServe(ctx, addr); err != nil {
		return fail(err)
	}
	log.Info().Msg("StockLens stopped")
	return subcommands.ExitSuccess
}

// refreshCmd runs one batch refresh.
type refreshCmd struct {
	maxSymbols int
	notify     bool
}

func (*refreshCmd) Name() string     { return "refresh" }
func (*refreshCmd) Synopsis() string { return "run one batch refresh of the stock universe" }
func (*refreshCmd) Usage() string {
	return `stocklens refresh [-max n] [-notify]

  Refreshes the listing, price history and company info of every symbol
  and prints the run summary.
`
}

func (c *refreshCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.maxSymbols, "max", 0, "refresh at most n symbols (overrides refresh.max_symbols)")
	f.BoolVar(&c.notify, "notify", false, "send the run report to Telegram")
}

func (c *refreshCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	a, status := setup()
	if a == nil {
		return status
	}
	defer a.Close()
	if c.maxSymbols > 0 {
		a.orchestrator.Options.MaxSymbols = c.maxSymbols
	}
	if c.notify {
		a.enableTelegram()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run, err := a.orchestrator.Run(ctx)
	if run != nil {
		if c.notify {
			if err := a.notifier.Send(ctx, notifier.FormatBatchReport(run)); err != nil {
				log.Error().Err(err).Msg("send batch report")
			}
		}
		if perr := printJSON(run); perr != nil {
			return fail(perr)
		}
	}
	if err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// analyzeCmd prints the technical analysis of one symbol.
type analyzeCmd struct {
	days       int
	start, end string
	indicators string
	summary    bool
}

func (*analyzeCmd) Name() string     { return "analyze" }
func (*analyzeCmd) Synopsis() string { return "print technical indicators for a symbol" }
func (*analyzeCmd) Usage() string {
	return `stocklens analyze [-days 30] [-start YYYY-MM-DD] [-end YYYY-MM-DD] [-indicators MA,RSI] [-summary] <symbol>

  Prints the technical analysis of <symbol> as JSON. With -summary, prints
  the latest snapshot instead.
`
}

func (c *analyzeCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.days, "days", 30, "window length when -start is not given")
	f.StringVar(&c.start, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&c.end, "end", "", "end date (YYYY-MM-DD, defaults to today)")
	f.StringVar(&c.indicators, "indicators", "", "comma separated indicators (defaults to all)")
	f.BoolVar(&c.summary, "summary", false, "print the snapshot instead of indicator lines")
}

func (c *analyzeCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	start, end, err := window(c.start, c.end, c.days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	a, status := setup()
	if a == nil {
		return status
	}
	defer a.Close()

	symbol := f.Arg(0)
	if c.summary {
		snap, err := a.engine.Snapshot(ctx, symbol)
		if err != nil {
			return fail(err)
		}
		if err := printJSON(snap); err != nil {
			return fail(err)
		}
		return subcommands.ExitSuccess
	}

	var names []string
	if c.indicators != "" {
		names = strings.Split(c.indicators, ",")
	}
	ta, err := a.engine.Analyze(ctx, indicator.Request{Symbol: symbol, Start: start, End: end, Indicators: names})
	if err != nil {
		return fail(err)
	}
	if err := printJSON(ta); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// portfolioCmd prints valuation and performance of a weighted basket.
type portfolioCmd struct {
	weights    string
	days       int
	start, end string
}

func (*portfolioCmd) Name() string     { return "portfolio" }
func (*portfolioCmd) Synopsis() string { return "print valuation and performance of a basket" }
func (*portfolioCmd) Usage() string {
	return `stocklens portfolio [-weights 0.5,0.5] [-days 365] [-start YYYY-MM-DD] [-end YYYY-MM-DD] <symbol>...

  Prints the valuation and the performance of the weighted basket. Weights
  default to equal.
`
}

func (c *portfolioCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.weights, "weights", "", "comma separated weights, one per symbol")
	f.IntVar(&c.days, "days", 365, "performance window when -start is not given")
	f.StringVar(&c.start, "start", "", "start date (YYYY-MM-DD)")
	f.StringVar(&c.end, "end", "", "end date (YYYY-MM-DD, defaults to today)")
}

func (c *portfolioCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	symbols := f.Args()
	if len(symbols) == 0 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	weights, err := parseWeights(c.weights)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}
	start, end, err := window(c.start, c.end, c.days)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitUsageError
	}

	a, status := setup()
	if a == nil {
		return status
	}
	defer a.Close()

	analysis, err := a.portfolio.Analyze(ctx, symbols, weights)
	if err != nil {
		return fail(err)
	}
	perf, err := a.portfolio.Track(ctx, symbols, weights, start, end)
	if err != nil {
		return fail(err)
	}
	out := struct {
		Symbols     []string          `json:"symbols"`
		Weights     []float64         `json:"weights"`
		StartDate   string            `json:"start_date"`
		EndDate     string            `json:"end_date"`
		Analysis    model.Valuation   `json:"analysis"`
		Performance model.Performance `json:"performance"`
	}{analysis.Symbols, analysis.Weights, perf.StartDate, perf.EndDate, analysis.Analysis, perf.Performance}
	if err := printJSON(out); err != nil {
		return fail(err)
	}
	return subcommands.ExitSuccess
}

// cacheClearCmd removes cached entries.
type cacheClearCmd struct{}

func (*cacheClearCmd) Name() string     { return "cache-clear" }
func (*cacheClearCmd) Synopsis() string { return "clear the persisted cache" }
func (*cacheClearCmd) Usage() string {
	return `stocklens cache-clear [key]

  Without a key, removes every cached entry. A key uses the canonical form
  op:symbol:start:end, e.g. "price:AAPL:2024-05-04:2024-06-03" or "stock_list".
`
}

func (*cacheClearCmd) SetFlags(*flag.FlagSet) {}

func (c *cacheClearCmd) Execute(_ context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() > 1 {
		fmt.Fprint(os.Stderr, c.Usage())
		return subcommands.ExitUsageError
	}
	var key *cache.Key
	if f.NArg() == 1 {
		k, err := cache.ParseKey(f.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitUsageError
		}
		key = &k
	}

	a, status := setup()
	if a == nil {
		return status
	}
	defer a.Close()

	for _, cc := range []*cache.Cache{a.files, a.memo} {
		if err := cc.Clear(key); err != nil {
			return fail(err)
		}
	}
	if key == nil {
		fmt.Fprintln(stdout, "cache cleared")
	} else {
		fmt.Fprintf(stdout, "cleared %s\n", key.String())
	}
	return subcommands.ExitSuccess
}

// window resolves CLI dates the same way the HTTP layer does.
func window(startStr, endStr string, days int) (start, end time.Time, err error) {
	today := model.Day(time.Now())
	end = today
	if endStr != "" {
		if end, err = time.Parse(model.DateLayout, endStr); err != nil {
			return start, end, fmt.Errorf("invalid end date %q: use YYYY-MM-DD", endStr)
		}
	}
	if days < 1 {
		return start, end, fmt.Errorf("days must be positive")
	}
	start = end.AddDate(0, 0, -days)
	if startStr != "" {
		if start, err = time.Parse(model.DateLayout, startStr); err != nil {
			return start, end, fmt.Errorf("invalid start date %q: use YYYY-MM-DD", startStr)
		}
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("end date must be on or after start date")
	}
	if end.After(today) {
		return start, end, fmt.Errorf("dates cannot be in the future")
	}
	return start, end, nil
}

func parseWeights(s string) ([]float64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight %q", p)
		}
		out[i] = v
	}
	return out, nil
}
