// Package telemetry records indexing run history for operator
// diagnostics. All data is stored locally, nothing is reported
// externally.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// Run is one completed indexing run.
type Run struct {
	Workspace  string
	Postfix    string
	Nodes      int
	Partitions int
	ItemErrors int
	Update     bool
	StartedAt  time.Time
	Duration   time.Duration
}

// Store persists run history in SQLite.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS indexing_runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	workspace   TEXT NOT NULL,
	postfix     TEXT NOT NULL,
	nodes       INTEGER NOT NULL,
	partitions  INTEGER NOT NULL,
	item_errors INTEGER NOT NULL,
	update_mode INTEGER NOT NULL,
	started_at  TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);
`

// Open opens (or creates) a run-history store at the given path.
// An empty path opens an in-memory store for testing.
func Open(path string) (*Store, error) {
	dsn := path
	if dsn == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry store: %w", err)
	}
	if path != "" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create telemetry schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun appends one run to the history.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	updateMode := 0
	if run.Update {
		updateMode = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO indexing_runs
			(workspace, postfix, nodes, partitions, item_errors, update_mode, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.Workspace, run.Postfix, run.Nodes, run.Partitions, run.ItemErrors,
		updateMode, run.StartedAt.UTC().Format(time.RFC3339), run.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// LastRun returns the most recent run, if any.
func (s *Store) LastRun(ctx context.Context) (*Run, error) {
	runs, err := s.RecentRuns(ctx, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT workspace, postfix, nodes, partitions, item_errors, update_mode, started_at, duration_ms
		FROM indexing_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			run        Run
			updateMode int
			startedAt  string
			durationMS int64
		)
		if err := rows.Scan(&run.Workspace, &run.Postfix, &run.Nodes, &run.Partitions,
			&run.ItemErrors, &updateMode, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.Update = updateMode == 1
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
