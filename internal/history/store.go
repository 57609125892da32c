// Package history persists a record of every accepted run so operators can
// answer "what deployed, when, and did it work" after the fact.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses. A run is recorded as running on acknowledgment and moves to
// exactly one terminal status.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// Run is one recorded deployment run.
type Run struct {
	ID          string
	Event       string
	Ref         string
	Branch      string
	Pusher      string
	Status      string
	LastError   string
	CreatedAt   time.Time
	CompletedAt time.Time
}

// Store records runs in a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (and creates if needed) the SQLite database at path and
// ensures the runs table exists.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("history path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
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

	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func bootstrap(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
  id           TEXT PRIMARY KEY,
  event        TEXT NOT NULL,
  ref          TEXT NOT NULL,
  branch       TEXT NOT NULL,
  pusher       TEXT NOT NULL,
  status       TEXT NOT NULL,
  last_error   TEXT,
  created_at   TEXT NOT NULL,
  completed_at TEXT
);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("bootstrap history schema: %w", err)
		}
	}
	return nil
}

// Begin records a newly acknowledged run with status running.
func (s *Store) Begin(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is empty")
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs(id, event, ref, branch, pusher, status, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?);
`, run.ID, run.Event, run.Ref, run.Branch, run.Pusher, StatusRunning, now)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// Finish moves a run to its terminal status. runErr is recorded verbatim
// when non-nil and forces the failed status.
func (s *Store) Finish(ctx context.Context, id, status string, runErr error) error {
	if id == "" {
		return fmt.Errorf("run id is empty")
	}

	lastError := ""
	if runErr != nil {
		status = StatusFailed
		lastError = runErr.Error()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx, `
UPDATE runs SET status = ?, last_error = ?, completed_at = ? WHERE id = ?;
`, status, lastError, now, id)
	if err != nil {
		return fmt.Errorf("record run finish: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %q not found", id)
	}
	return nil
}

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, event, ref, branch, pusher, status,
       COALESCE(last_error, ''), created_at, COALESCE(completed_at, '')
FROM runs ORDER BY created_at DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var createdAt, completedAt string
		if err := rows.Scan(&r.ID, &r.Event, &r.Ref, &r.Branch, &r.Pusher, &r.Status, &r.LastError, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if completedAt != "" {
			r.CompletedAt, _ = time.Parse(time.RFC3339Nano, completedAt)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
