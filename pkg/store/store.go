// Run history kept in an embedded SQLite database
// One row per run with its stats; outcomes are stored as the JSON the runner persists
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andrewh/infercheck/pkg/runner"
	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	workflow    TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	elapsed_ms  INTEGER NOT NULL,
	total       INTEGER NOT NULL,
	succeeded   INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	safe        INTEGER NOT NULL,
	unsafe      INTEGER NOT NULL,
	matched     INTEGER NOT NULL,
	mismatched  INTEGER NOT NULL,
	output_file TEXT NOT NULL DEFAULT '',
	outcomes    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_started_at ON runs (started_at);
`

// ErrNotFound is returned by LoadRun for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is a stored run.
type Run struct {
	ID         string
	Workflow   string
	StartedAt  time.Time
	Elapsed    time.Duration
	Stats      runner.Stats
	OutputFile string
	// Outcomes is only populated by LoadRun.
	Outcomes []runner.Outcome
}

// Store is a run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema exists.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening history %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating history schema in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun records a completed run. Saving the same run twice replaces it.
func (s *Store) SaveRun(ctx context.Context, report *runner.Report) error {
	outcomes, err := json.Marshal(report.Outcomes)
	if err != nil {
		return fmt.Errorf("encoding outcomes of run %s: %w", report.RunID, err)
	}
	st := report.Stats
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, workflow, started_at, elapsed_ms, total, succeeded, failed, safe, unsafe, matched, mismatched, output_file, outcomes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.Workflow, report.StartedAt.UnixNano(), report.Elapsed.Milliseconds(),
		st.Total, st.Succeeded, st.Failed, st.Safe, st.Unsafe, st.Matched, st.Mismatched,
		report.OutputFile, string(outcomes),
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", report.RunID, err)
	}
	return nil
}

const runColumns = `id, workflow, started_at, elapsed_ms, total, succeeded, failed, safe, unsafe, matched, mismatched, output_file`

// ListRuns returns the most recent runs first. limit <= 0 returns all of them.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		var run Run
		if err := scanRun(rows, &run); err != nil {
			return nil, fmt.Errorf("listing runs: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	return runs, nil
}

// LoadRun returns one run with its outcomes.
func (s *Store) LoadRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+`, outcomes FROM runs WHERE id = ?`, id)
	var (
		run      Run
		outcomes string
	)
	err := scanRun(row, &run, &outcomes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading run %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(outcomes), &run.Outcomes); err != nil {
		return nil, fmt.Errorf("decoding outcomes of run %s: %w", id, err)
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner, run *Run, extra ...any) error {
	var startedAt, elapsedMS int64
	dest := []any{
		&run.ID, &run.Workflow, &startedAt, &elapsedMS,
		&run.Stats.Total, &run.Stats.Succeeded, &run.Stats.Failed,
		&run.Stats.Safe, &run.Stats.Unsafe, &run.Stats.Matched, &run.Stats.Mismatched,
		&run.OutputFile,
	}
	if err := sc.Scan(append(dest, extra...)...); err != nil {
		return err
	}
	run.StartedAt = time.Unix(0, startedAt)
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	return nil
}
