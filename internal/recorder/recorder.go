package recorder

import "StockLens/internal/model"

// Recorder persists batch refresh history for later inspection.
type Recorder interface {
	RecordBatch(run *model.BatchRun) error
	// LastBatch returns the most recent run, or nil when none was recorded.
	LastBatch() (*model.BatchRun, error)
	Close() error
}
