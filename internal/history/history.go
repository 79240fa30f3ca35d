// Package history keeps a SQLite ledger of orchestrator runs and the task
// events each run produced.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Ledger provides access to the history database.
type Ledger struct {
	db *sql.DB
}

// New opens (or creates) the SQLite database at the given path.
func New(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Enable WAL mode for better concurrent access.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return l, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		entry_point   TEXT NOT NULL DEFAULT 'nightly',
		status        TEXT NOT NULL DEFAULT 'running',
		max_per_host  INTEGER NOT NULL DEFAULT 5,
		max_parallel  INTEGER NOT NULL DEFAULT 10,
		assigned      INTEGER NOT NULL DEFAULT 0,
		reviewed      INTEGER NOT NULL DEFAULT 0,
		approved      INTEGER NOT NULL DEFAULT 0,
		remaining     INTEGER NOT NULL DEFAULT 0,
		error         TEXT DEFAULT '',
		started_at    DATETIME NOT NULL,
		ended_at      DATETIME
	);

	CREATE TABLE IF NOT EXISTS run_events (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL REFERENCES runs(id),
		task_id     TEXT DEFAULT '',
		event_type  TEXT NOT NULL,
		content     TEXT DEFAULT '',
		timestamp   DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_task ON run_events(task_id);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first release.
	l.addColumnIfMissing("runs", "remaining", "INTEGER NOT NULL DEFAULT 0")
	l.addColumnIfMissing("runs", "error", "TEXT DEFAULT ''")

	return nil
}

// addColumnIfMissing adds a column to a table if it doesn't exist yet.
func (l *Ledger) addColumnIfMissing(table, column, colDef string) {
	rows, err := l.db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue *string
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return
		}
		if name == column {
			return
		}
	}

	l.db.Exec("ALTER TABLE " + table + " ADD COLUMN " + column + " " + colDef)
}

// StartRun records a new run in the running state.
func (l *Ledger) StartRun(id, entryPoint string, maxPerHost, maxParallel int) error {
	now := time.Now().UTC()
	_, err := l.db.Exec(
		`INSERT INTO runs (id, entry_point, status, max_per_host, max_parallel, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, entryPoint, RunRunning, maxPerHost, maxParallel, now,
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// EndRun closes a run with its final counts.
func (l *Ledger) EndRun(r Run) error {
	now := time.Now().UTC()
	_, err := l.db.Exec(
		`UPDATE runs SET status = ?, assigned = ?, reviewed = ?, approved = ?, remaining = ?,
		 error = ?, ended_at = ? WHERE id = ?`,
		r.Status, r.Assigned, r.Reviewed, r.Approved, r.Remaining, r.Error, now, r.ID,
	)
	if err != nil {
		return fmt.Errorf("end run: %w", err)
	}
	return nil
}

// AddEvent records an event for a run.
func (l *Ledger) AddEvent(runID, taskID, eventType, content string) error {
	now := time.Now().UTC()
	_, err := l.db.Exec(
		`INSERT INTO run_events (run_id, task_id, event_type, content, timestamp) VALUES (?, ?, ?, ?, ?)`,
		runID, taskID, eventType, content, now,
	)
	if err != nil {
		return fmt.Errorf("add event: %w", err)
	}
	return nil
}

const runColumns = `id, entry_point, status, max_per_host, max_parallel, assigned, reviewed, approved, remaining, error, started_at, ended_at`

// GetRun returns a run by id, or nil if there is none.
func (l *Ledger) GetRun(id string) (*Run, error) {
	row := l.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

// ListRuns returns the most recent runs first. limit <= 0 means all.
func (l *Ledger) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, rowid DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return l.queryRuns(query, args...)
}

// ListInterruptedRuns returns runs still marked running. These were cut off
// before they could record an outcome.
func (l *Ledger) ListInterruptedRuns() ([]Run, error) {
	return l.queryRuns(
		`SELECT `+runColumns+` FROM runs WHERE status = ? ORDER BY started_at DESC`, RunRunning,
	)
}

// GetEvents returns the events of a run in order.
func (l *Ledger) GetEvents(runID string) ([]Event, error) {
	return l.queryEvents(
		`SELECT id, run_id, task_id, event_type, content, timestamp
		 FROM run_events WHERE run_id = ? ORDER BY id ASC`, runID,
	)
}

// TaskEvents returns every recorded event for a task across runs.
func (l *Ledger) TaskEvents(taskID string) ([]Event, error) {
	return l.queryEvents(
		`SELECT id, run_id, task_id, event_type, content, timestamp
		 FROM run_events WHERE task_id = ? ORDER BY id ASC`, taskID,
	)
}

func (l *Ledger) queryRuns(query string, args ...any) ([]Run, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (l *Ledger) queryEvents(query string, args ...any) ([]Event, error) {
	rows, err := l.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("get events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.RunID, &e.TaskID, &e.Type, &e.Content, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var endedAt sql.NullTime
	var errText sql.NullString
	err := s.Scan(
		&r.ID, &r.EntryPoint, &r.Status, &r.MaxPerHost, &r.MaxParallel,
		&r.Assigned, &r.Reviewed, &r.Approved, &r.Remaining, &errText,
		&r.StartedAt, &endedAt,
	)
	if err != nil {
		return nil, err
	}
	if endedAt.Valid {
		r.EndedAt = endedAt.Time
	}
	r.Error = errText.String
	return &r, nil
}
