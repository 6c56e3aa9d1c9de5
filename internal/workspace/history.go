package workspace

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/spacesbuild/spaces/internal/log"
	"github.com/spacesbuild/spaces/internal/scheduler"
)

// History is the run-history ledger backing .spaces/history.db: a flat
// append-only record of every task run, keyed by a generated uuid.
// Grounded on internal/storage/sqlite.go's OpenSQLite/BootstrapSQLite
// pattern (pragmas then CREATE TABLE IF NOT EXISTS), generalized from
// the teacher's job_queue/job_log pair to the single task_runs table
// spec §10.3 specifies.
type History struct {
	db *sql.DB
}

// OpenHistory opens (creating if needed) the SQLite database at path and
// ensures the task_runs table and its index exist.
func OpenHistory(ctx context.Context, path string) (*History, error) {
	if path == "" {
		return nil, fmt.Errorf("history db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := db.ExecContext(pctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign_keys: %w", err)
	}
	if _, err := db.ExecContext(pctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout: %w", err)
	}
	if err := bootstrapHistory(pctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &History{db: db}, nil
}

func bootstrapHistory(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS task_runs (
  id          TEXT PRIMARY KEY,
  rule_name   TEXT NOT NULL,
  phase       TEXT NOT NULL,
  status      TEXT NOT NULL,
  fingerprint TEXT,
  started_at  TEXT NOT NULL,
  finished_at TEXT NOT NULL,
  log_tail    TEXT
);`,
		`CREATE INDEX IF NOT EXISTS task_runs_rule_name_finished_at_idx ON task_runs(rule_name, finished_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history db: %w", err)
		}
	}
	return nil
}

// Close releases the underlying database handle.
func (h *History) Close() error {
	return h.db.Close()
}

// Phase distinguishes a checkout-graph run from a run-graph run within
// the same ledger.
type Phase string

const (
	PhaseCheckout Phase = "checkout"
	PhaseRun      Phase = "run"
)

// phaseRecorder binds a Phase to an otherwise phase-agnostic History so it
// can be handed to scheduler.New as a scheduler.Recorder.
type phaseRecorder struct {
	h     *History
	phase Phase
}

// Recorder returns a scheduler.Recorder that tags every recorded run
// with phase.
func (h *History) Recorder(phase Phase) scheduler.Recorder {
	return &phaseRecorder{h: h, phase: phase}
}

// RecordTaskRun implements scheduler.Recorder. Write failures are
// logged at warn and otherwise dropped: the ledger is a best-effort aid
// to `inspect --last-run`, never a gate on task success.
func (p *phaseRecorder) RecordTaskRun(name string, status scheduler.Status, started, finished time.Time, taskErr error) {
	if err := p.h.record(name, p.phase, string(status), "", started, finished, logTail(taskErr)); err != nil {
		log.WithRule(name).Warn("run-history ledger write failed", "err", err)
	}
}

func logTail(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (h *History) record(ruleName string, phase Phase, status, fingerprint string, started, finished time.Time, logTail string) error {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Errorf("generate run id: %w", err)
	}
	// Fixed-width fractional seconds, so LastRun's text ORDER BY on
	// finished_at sorts chronologically.
	const layout = "2006-01-02T15:04:05.000000000Z07:00"
	_, err = h.db.Exec(
		`INSERT INTO task_runs (id, rule_name, phase, status, fingerprint, started_at, finished_at, log_tail)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), ruleName, string(phase), status, fingerprint,
		started.UTC().Format(layout), finished.UTC().Format(layout), logTail,
	)
	return err
}

// RunRecord is one row of task_runs, as returned by LastRun.
type RunRecord struct {
	ID         string
	RuleName   string
	Phase      Phase
	Status     string
	Fingerprint string
	StartedAt  time.Time
	FinishedAt time.Time
	LogTail    string
}

// LastRun returns the most recently finished run of ruleName across both
// phases, or nil if the rule has never run — backing `inspect --last-run`.
func (h *History) LastRun(ruleName string) (*RunRecord, error) {
	row := h.db.QueryRow(
		`SELECT id, rule_name, phase, status, fingerprint, started_at, finished_at, log_tail
		 FROM task_runs WHERE rule_name = ? ORDER BY finished_at DESC LIMIT 1`,
		ruleName,
	)

	var rec RunRecord
	var phase, startedAt, finishedAt string
	var fp, logTailVal sql.NullString
	err := row.Scan(&rec.ID, &rec.RuleName, &phase, &rec.Status, &fp, &startedAt, &finishedAt, &logTailVal)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query last run for %s: %w", ruleName, err)
	}

	rec.Phase = Phase(phase)
	rec.Fingerprint = fp.String
	rec.LogTail = logTailVal.String
	rec.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt)
	rec.FinishedAt, _ = time.Parse(time.RFC3339Nano, finishedAt)
	return &rec, nil
}
