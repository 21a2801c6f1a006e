// Package checkpoint persists run state in a local SQLite database so
// interrupted migrations resume where they stopped instead of starting
// over.
package checkpoint

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Run statuses.
const (
	StatusRunning     = "running"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusInterrupted = "interrupted"
)

// Run is one invocation of the migration tool.
type Run struct {
	ID         string
	Phases     string
	Status     string
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}

// TableProgress is the per-table resume point within a run.
type TableProgress struct {
	Table     string
	Cursor    string
	RowsDone  int64
	Completed bool
}

// FailureRecord is one row that failed to load, kept until it is
// replayed successfully or resolved by hand.
type FailureRecord struct {
	Table    string
	RecordID string
	Class    string
	Message  string
	Attempts int
	Resolved bool
}

// State is the SQLite-backed store. Safe for concurrent use; SQLite
// access is serialized through a single connection.
type State struct {
	db *sql.DB
}

// Open creates or opens the state database at path.
func Open(path string) (*State, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *State) Close() error {
	return s.db.Close()
}

func (s *State) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			phases      TEXT NOT NULL,
			status      TEXT NOT NULL,
			error       TEXT NOT NULL DEFAULT '',
			started_at  TIMESTAMP NOT NULL,
			finished_at TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS checkpoints (
			run_id     TEXT NOT NULL,
			table_name TEXT NOT NULL,
			cursor     TEXT NOT NULL DEFAULT '',
			rows_done  INTEGER NOT NULL DEFAULT 0,
			completed  INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (run_id, table_name)
		);

		CREATE TABLE IF NOT EXISTS failures (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			table_name    TEXT NOT NULL,
			record_id     TEXT NOT NULL,
			error_class   TEXT NOT NULL,
			error_message TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 1,
			resolved      INTEGER NOT NULL DEFAULT 0,
			created_at    TIMESTAMP NOT NULL,
			updated_at    TIMESTAMP NOT NULL,
			UNIQUE (run_id, table_name, record_id)
		);
	`)
	if err != nil {
		return fmt.Errorf("migrating state db: %w", err)
	}
	return nil
}

// CreateRun records the start of a new run.
func (s *State) CreateRun(id, phases string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, phases, status, started_at) VALUES (?, ?, ?, ?)`,
		id, phases, StatusRunning, time.Now().UTC())
	return err
}

// CompleteRun marks a run finished with the given status.
func (s *State) CompleteRun(id, status, errMsg string) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, errMsg, time.Now().UTC(), id)
	return err
}

// LastIncompleteRun returns the most recent run still marked running or
// interrupted, or nil when there is nothing to resume.
func (s *State) LastIncompleteRun() (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, phases, status, error, started_at, finished_at
		FROM runs WHERE status IN (?, ?)
		ORDER BY started_at DESC LIMIT 1`,
		StatusRunning, StatusInterrupted)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return r, err
}

// GetRun returns a run by ID.
func (s *State) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(`
		SELECT id, phases, status, error, started_at, finished_at
		FROM runs WHERE id = ?`, id)
	return scanRun(row)
}

// Runs returns recent runs, newest first.
func (s *State) Runs(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, phases, status, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.Phases, &r.Status, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// SaveCursor persists a table's resume point. It is written after every
// committed batch and never moves backward: an update carrying fewer
// rows than already recorded is ignored.
func (s *State) SaveCursor(runID, table, cursor string, rowsDone int64) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (run_id, table_name, cursor, rows_done, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, table_name) DO UPDATE SET
			cursor = excluded.cursor,
			rows_done = excluded.rows_done,
			updated_at = excluded.updated_at
		WHERE excluded.rows_done >= checkpoints.rows_done`,
		runID, table, cursor, rowsDone, time.Now().UTC())
	return err
}

// Progress returns the saved resume point for a table. A table never
// seen reports zero values.
func (s *State) Progress(runID, table string) (*TableProgress, error) {
	p := &TableProgress{Table: table}
	var completed int
	err := s.db.QueryRow(`
		SELECT cursor, rows_done, completed FROM checkpoints
		WHERE run_id = ? AND table_name = ?`,
		runID, table).Scan(&p.Cursor, &p.RowsDone, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return nil, err
	}
	p.Completed = completed != 0
	return p, nil
}

// MarkTableComplete flags a table as fully transferred.
func (s *State) MarkTableComplete(runID, table string) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoints (run_id, table_name, completed, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (run_id, table_name) DO UPDATE SET
			completed = 1, updated_at = excluded.updated_at`,
		runID, table, time.Now().UTC())
	return err
}

// CompletedTables returns the set of tables already finished in a run.
func (s *State) CompletedTables(runID string) (map[string]bool, error) {
	rows, err := s.db.Query(`
		SELECT table_name FROM checkpoints
		WHERE run_id = ? AND completed = 1`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

// ResetTable clears a table's checkpoint so it restarts from the top.
func (s *State) ResetTable(runID, table string) error {
	_, err := s.db.Exec(
		`DELETE FROM checkpoints WHERE run_id = ? AND table_name = ?`,
		runID, table)
	return err
}

// RecordFailure appends a failure to the ledger. Re-recording the same
// record bumps its attempt count and keeps the newest error.
func (s *State) RecordFailure(runID string, f FailureRecord) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`
		INSERT INTO failures (run_id, table_name, record_id, error_class, error_message, attempt_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT (run_id, table_name, record_id) DO UPDATE SET
			error_class = excluded.error_class,
			error_message = excluded.error_message,
			attempt_count = failures.attempt_count + 1,
			resolved = 0,
			updated_at = excluded.updated_at`,
		runID, f.Table, f.RecordID, f.Class, f.Message, now, now)
	return err
}

// MarkResolved flags a ledger entry as successfully replayed.
func (s *State) MarkResolved(runID, table, recordID string) error {
	_, err := s.db.Exec(`
		UPDATE failures SET resolved = 1, updated_at = ?
		WHERE run_id = ? AND table_name = ? AND record_id = ?`,
		time.Now().UTC(), runID, table, recordID)
	return err
}

// Unresolved returns outstanding failures for a run, optionally
// filtered to one class. Pass class "" for all.
func (s *State) Unresolved(runID, class string) ([]FailureRecord, error) {
	q := `
		SELECT table_name, record_id, error_class, error_message, attempt_count, resolved
		FROM failures WHERE run_id = ? AND resolved = 0`
	args := []any{runID}
	if class != "" {
		q += ` AND error_class = ?`
		args = append(args, class)
	}
	q += ` ORDER BY table_name, record_id`

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []FailureRecord
	for rows.Next() {
		var f FailureRecord
		var resolved int
		if err := rows.Scan(&f.Table, &f.RecordID, &f.Class, &f.Message, &f.Attempts, &resolved); err != nil {
			return nil, err
		}
		f.Resolved = resolved != 0
		out = append(out, f)
	}
	return out, rows.Err()
}

// FailureCounts returns unresolved failure totals per class for a run.
func (s *State) FailureCounts(runID string) (map[string]int, error) {
	rows, err := s.db.Query(`
		SELECT error_class, COUNT(*) FROM failures
		WHERE run_id = ? AND resolved = 0
		GROUP BY error_class`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		out[class] = n
	}
	return out, rows.Err()
}
