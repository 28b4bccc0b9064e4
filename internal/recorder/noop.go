package recorder

import (
	"sync"

	"StockLens/internal/model"
)

// NoopRecorder is used when SQLite is not configured. It keeps only the last
// run in memory so /status still has an answer.
type NoopRecorder struct {
	mu   sync.Mutex
	last *model.BatchRun
}

func NewNoopRecorder() *NoopRecorder { return &NoopRecorder{} }

func (n *NoopRecorder) RecordBatch(run *model.BatchRun) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := *run
	n.last = &cp
	return nil
}

func (n *NoopRecorder) LastBatch() (*model.BatchRun, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last, nil
}

func (n *NoopRecorder) Close() error { return nil }
