package model

import "time"

// Refresh stages reported in SymbolFailure.
const (
	StageHistory = "history"
	StageInfo    = "info"
)

// SymbolFailure records one instrument that could not be refreshed.
type SymbolFailure struct {
	Symbol string `json:"symbol"`
	Stage  string `json:"stage"`
	Error  string `json:"error"`
}

// BatchRun summarises one execution of the batch refresh.
type BatchRun struct {
	ID         string          `json:"id"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Universe   int             `json:"universe"`
	Succeeded  int             `json:"succeeded"`
	Failed     int             `json:"failed"`
	Failures   []SymbolFailure `json:"failures,omitempty"`
	Err        string          `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r *BatchRun) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// OK reports whether the run completed its pipeline (individual symbols may
// still have failed).
func (r *BatchRun) OK() bool { return r.Err == "" }
