package notifier

import (
	"fmt"
	"html"
	"strings"
	"time"

	"StockLens/internal/model"
)

// maxListedFailures caps the failures spelled out in a batch report.
const maxListedFailures = 10

// FormatBatchReport formats a batch run summary into a Telegram message.
func FormatBatchReport(run *model.BatchRun) string {
	var b strings.Builder

	status := "✅"
	if !run.OK() {
		status = "❌"
	} else if run.Failed > 0 {
		status = "⚠️"
	}
	b.WriteString(fmt.Sprintf("%s <b>StockLens batch refresh</b> | %s\n\n", status, run.StartedAt.Format("2006-01-02 15:04")))
	b.WriteString(fmt.Sprintf("Run: <code>%s</code>\n", run.ID))
	b.WriteString(fmt.Sprintf("Universe: %d\n", run.Universe))
	b.WriteString(fmt.Sprintf("Succeeded: %d | Failed: %d\n", run.Succeeded, run.Failed))
	b.WriteString(fmt.Sprintf("Took: %s\n", run.Duration().Round(time.Second)))

	if run.Err != "" {
		b.WriteString(fmt.Sprintf("\nError: %s\n", html.EscapeString(run.Err)))
	}

	if len(run.Failures) > 0 {
		b.WriteString("\n<b>Failures:</b>\n")
		for i, f := range run.Failures {
			if i == maxListedFailures {
				b.WriteString(fmt.Sprintf("  … and %d more\n", len(run.Failures)-maxListedFailures))
				break
			}
			b.WriteString(fmt.Sprintf("  %s (%s): %s\n", html.EscapeString(f.Symbol), f.Stage, html.EscapeString(f.Error)))
		}
	}
	return b.String()
}

// FormatSnapshot formats the latest state of one instrument.
func FormatSnapshot(s model.Snapshot) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("📊 <b>%s</b> | %s\n\n", html.EscapeString(s.Symbol), s.Date))
	b.WriteString(fmt.Sprintf("Close: %.2f (%+.2f%%)\n", s.Close, s.ChangePct))
	b.WriteString(fmt.Sprintf("MA20: %s | MA200: %s\n", optional(s.MA20, "%.2f"), optional(s.MA200, "%.2f")))
	b.WriteString(fmt.Sprintf("RSI(14): %s\n", optional(s.RSI, "%.1f")))
	b.WriteString(fmt.Sprintf("52w: %.2f ~ %.2f (position %.0f%%)\n", s.Low52w, s.High52w, s.Position52w*100))
	b.WriteString(fmt.Sprintf("30d: %.2f ~ %.2f\n", s.Low30d, s.High30d))
	return b.String()
}

// FormatHelp lists the chat commands.
func FormatHelp() string {
	return "<b>StockLens commands</b>\n" +
		"/quote SYMBOL - latest close, moving averages and RSI\n" +
		"/chart SYMBOL - 180 day price chart\n" +
		"/status - last batch refresh\n" +
		"/refresh - run the batch refresh now\n" +
		"/help - this message"
}

func optional(v *float64, format string) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf(format, *v)
}
