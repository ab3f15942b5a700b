// Package history records release runs and their tracked operations in a
// local SQLite database.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("history: not found")

// Run statuses.
const (
	StatusRunning    = "RUNNING"
	StatusSucceeded  = "SUCCEEDED"
	StatusFailed     = "FAILED"
	StatusRolledBack = "ROLLED_BACK"
	StatusDryRun     = "DRY_RUN"
)

type DB struct {
	db   *sql.DB
	path string
}

type Run struct {
	ID              string `json:"id"`
	Repo            string `json:"repo"`
	Status          string `json:"status"`
	Version         string `json:"version"`
	PreviousVersion string `json:"previous_version"`
	CommitCount     int    `json:"commit_count"`
	ReleaseURL      string `json:"release_url,omitempty"`
	RollbackQuality string `json:"rollback_quality,omitempty"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"` // RFC3339
	EndedAt         string `json:"ended_at"`   // RFC3339 or empty
}

type Operation struct {
	RunID       string `json:"run_id"`
	Seq         int    `json:"seq"`
	OpID        string `json:"op_id"`
	Type        string `json:"type"`
	State       string `json:"state"`
	Description string `json:"description"`
	Error       string `json:"error,omitempty"`
}

// Open creates or opens the history database with WAL mode, a 5 second busy
// timeout and foreign keys enabled.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: ping: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: %s: %w", p, err)
		}
	}

	tables := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id               TEXT PRIMARY KEY,
			repo             TEXT NOT NULL DEFAULT '',
			status           TEXT NOT NULL DEFAULT 'RUNNING',
			version          TEXT NOT NULL DEFAULT '',
			previous_version TEXT NOT NULL DEFAULT '',
			commit_count     INTEGER NOT NULL DEFAULT 0,
			release_url      TEXT NOT NULL DEFAULT '',
			rollback_quality TEXT NOT NULL DEFAULT '',
			error            TEXT NOT NULL DEFAULT '',
			started_at       TEXT NOT NULL,
			ended_at         TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS operations (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			op_id       TEXT NOT NULL,
			type        TEXT NOT NULL,
			state       TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			error       TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (run_id, seq)
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("history: create table: %w", err)
		}
	}
	return &DB{db: db, path: path}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Path() string {
	return d.path
}

// StartRun inserts a run in RUNNING state. StartedAt defaults to now.
func (d *DB) StartRun(r Run) error {
	if r.StartedAt == "" {
		r.StartedAt = time.Now().UTC().Format(time.RFC3339)
	}
	if r.Status == "" {
		r.Status = StatusRunning
	}
	_, err := d.db.Exec(
		`INSERT INTO runs (id, repo, status, version, previous_version, commit_count, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Repo, r.Status, r.Version, r.PreviousVersion, r.CommitCount, r.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("history: insert run: %w", err)
	}
	return nil
}

// FinishRun stores the outcome of a run and its operations in one
// transaction. ended_at is set to the current UTC time.
func (d *DB) FinishRun(r Run, ops []Operation) error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin: %w", err)
	}
	defer tx.Rollback()

	endedAt := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(
		`UPDATE runs SET status = ?, version = ?, previous_version = ?, commit_count = ?,
		 release_url = ?, rollback_quality = ?, error = ?, ended_at = ? WHERE id = ?`,
		r.Status, r.Version, r.PreviousVersion, r.CommitCount,
		r.ReleaseURL, r.RollbackQuality, r.Error, endedAt, r.ID,
	)
	if err != nil {
		return fmt.Errorf("history: update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("history: rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM operations WHERE run_id = ?`, r.ID); err != nil {
		return fmt.Errorf("history: clear operations: %w", err)
	}
	for i, op := range ops {
		_, err := tx.Exec(
			`INSERT INTO operations (run_id, seq, op_id, type, state, description, error)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			r.ID, i, op.OpID, op.Type, op.State, op.Description, op.Error,
		)
		if err != nil {
			return fmt.Errorf("history: insert operation: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history: commit: %w", err)
	}
	return nil
}

const runColumns = `id, repo, status, version, previous_version, commit_count,
	release_url, rollback_quality, error, started_at, ended_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (Run, error) {
	var r Run
	err := s.Scan(&r.ID, &r.Repo, &r.Status, &r.Version, &r.PreviousVersion, &r.CommitCount,
		&r.ReleaseURL, &r.RollbackQuality, &r.Error, &r.StartedAt, &r.EndedAt)
	return r, err
}

// GetRun returns ErrNotFound for an unknown id.
func (d *DB) GetRun(id string) (Run, error) {
	r, err := scanRun(d.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, fmt.Errorf("history: get run: %w", err)
	}
	return r, nil
}

// ListRuns returns runs newest first. A zero limit returns all of them.
func (d *DB) ListRuns(limit int) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id DESC`

	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = d.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = d.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("history: list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows runs: %w", err)
	}
	return runs, nil
}

// Operations returns the operations of a run in tracking order.
func (d *DB) Operations(runID string) ([]Operation, error) {
	rows, err := d.db.Query(
		`SELECT run_id, seq, op_id, type, state, description, error
		 FROM operations WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("history: list operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.RunID, &op.Seq, &op.OpID, &op.Type, &op.State, &op.Description, &op.Error); err != nil {
			return nil, fmt.Errorf("history: scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows operations: %w", err)
	}
	return ops, nil
}
