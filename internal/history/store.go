// Package history persists one row per finished build run, giving operators
// a queryable record beyond each profile's single lastRun snapshot.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/autobuild/internal/daemon/events"
)

// Run is one recorded build attempt.
type Run struct {
	ID         int64     `json:"id"`
	Profile    string    `json:"profile"`
	RunID      string    `json:"run_id"`
	PID        int       `json:"pid"`
	Status     string    `json:"status"`
	ExitCode   int       `json:"exit_code"`
	Note       string    `json:"note,omitempty"`
	LogFile    string    `json:"log_file"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Store keeps finished runs in SQLite.
// Use ":memory:" for an in-memory database, or a file path for persistence.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore opens the database and ensures the schema exists.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &Store{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close() // Best effort cleanup on initialization error
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		profile TEXT NOT NULL,
		run_id TEXT NOT NULL,
		pid INTEGER NOT NULL,
		status TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		note TEXT,
		log_file TEXT,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_profile ON runs(profile);
	CREATE INDEX IF NOT EXISTS idx_runs_finished_at ON runs(finished_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record inserts a finished run. Timestamps are stored as Unix milliseconds;
// builds routinely finish inside a second.
func (s *Store) Record(ctx context.Context, run events.RunFinished) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (profile, run_id, pid, status, exit_code, note, log_file, started_at, finished_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		run.Profile, run.RunID, run.PID, run.Status, run.ExitCode, run.Note, run.LogFile,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// ListByProfile returns the most recent runs for one profile, newest first.
func (s *Store) ListByProfile(ctx context.Context, profile string, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, profile, run_id, pid, status, exit_code, note, log_file, started_at, finished_at FROM runs WHERE profile = ? ORDER BY id DESC LIMIT ?",
		profile, normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

// ListRecent returns the most recent runs across all profiles, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, profile, run_id, pid, status, exit_code, note, log_file, started_at, finished_at FROM runs ORDER BY id DESC LIMIT ?",
		normalizeLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	return scanRuns(rows)
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	var runs []Run
	for rows.Next() {
		var r Run
		var note, logFile sql.NullString
		var startedMilli, finishedMilli int64

		err := rows.Scan(&r.ID, &r.Profile, &r.RunID, &r.PID, &r.Status, &r.ExitCode, &note, &logFile, &startedMilli, &finishedMilli)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}

		r.Note = note.String
		r.LogFile = logFile.String
		r.StartedAt = time.UnixMilli(startedMilli).UTC()
		r.FinishedAt = time.UnixMilli(finishedMilli).UTC()
		runs = append(runs, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}

	return runs, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}
