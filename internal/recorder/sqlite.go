package recorder

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/phuslu/log"
	_ "modernc.org/sqlite"

	"StockLens/internal/model"
)

// SQLiteRecorder persists batch runs to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the SQLite database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets /status read while a batch is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("sqlite recorder opened")
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS batch_runs (
			id          TEXT PRIMARY KEY,
			started_at  INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			universe    INTEGER,
			succeeded   INTEGER,
			failed      INTEGER,
			error       TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_batch_started ON batch_runs(started_at)`,

		`CREATE TABLE IF NOT EXISTS batch_failures (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id  TEXT NOT NULL REFERENCES batch_runs(id),
			symbol  TEXT NOT NULL,
			stage   TEXT,
			error   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_failures_run ON batch_failures(run_id)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

// RecordBatch stores run and its failures in one transaction.
func (r *SQLiteRecorder) RecordBatch(run *model.BatchRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO batch_runs
		(id, started_at, finished_at, universe, succeeded, failed, error)
		VALUES (?,?,?,?,?,?,?)`,
		run.ID, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
		run.Universe, run.Succeeded, run.Failed, run.Err,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for _, f := range run.Failures {
		if _, err := tx.Exec(`INSERT INTO batch_failures (run_id, symbol, stage, error) VALUES (?,?,?,?)`,
			run.ID, f.Symbol, f.Stage, f.Error,
		); err != nil {
			return fmt.Errorf("insert failure %s: %w", f.Symbol, err)
		}
	}
	return tx.Commit()
}

// LastBatch loads the most recently started run with its failures.
func (r *SQLiteRecorder) LastBatch() (*model.BatchRun, error) {
	var run model.BatchRun
	var started, finished int64
	var errText sql.NullString
	err := r.db.QueryRow(`SELECT id, started_at, finished_at, universe, succeeded, failed, error
		FROM batch_runs ORDER BY started_at DESC LIMIT 1`).
		Scan(&run.ID, &started, &finished, &run.Universe, &run.Succeeded, &run.Failed, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run: %w", err)
	}
	run.StartedAt = time.UnixMilli(started)
	run.FinishedAt = time.UnixMilli(finished)
	run.Err = errText.String

	rows, err := r.db.Query(`SELECT symbol, stage, error FROM batch_failures WHERE run_id = ? ORDER BY id`, run.ID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var f model.SymbolFailure
		if err := rows.Scan(&f.Symbol, &f.Stage, &f.Error); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		run.Failures = append(run.Failures, f)
	}
	return &run, rows.Err()
}

func (r *SQLiteRecorder) Close() error {
	log.Info().Msg("closing sqlite recorder")
	return r.db.Close()
}
