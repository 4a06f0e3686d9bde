// Package terminal persists the host-side terminal registry so the panel
// can restore its last-known view across restarts.
package terminal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// DB wraps a SQLite database holding the terminal registry. Thread-safe for
// concurrent use from multiple goroutines within one process; multiple OS
// processes can safely read/write via WAL mode + busy timeout.
type DB struct {
	db *sql.DB
}

// Row represents a terminal row in the database.
type Row struct {
	ID             string
	Title          string
	Cwd            string
	WorktreePath   string
	WorktreeBranch string
	Status         string
	CreatedAt      time.Time
	LastAccessed   time.Time
}

// Open creates or opens a SQLite database at dbPath with WAL mode and busy
// timeout, and runs migrations.
func Open(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("terminal db: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("terminal db: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("terminal db: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("terminal db: busy timeout: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// Close checkpoints WAL and closes the database.
func (d *DB) Close() error {
	_, _ = d.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return d.db.Close()
}

func (d *DB) migrate() error {
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("terminal db: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("terminal db: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS terminals (
			id              TEXT PRIMARY KEY,
			title           TEXT NOT NULL,
			cwd             TEXT NOT NULL,
			worktree_path   TEXT NOT NULL DEFAULT '',
			worktree_branch TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			last_accessed   INTEGER NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("terminal db: create terminals: %w", err)
	}

	if _, err := tx.Exec(
		`INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)`,
		fmt.Sprintf("%d", SchemaVersion),
	); err != nil {
		return fmt.Errorf("terminal db: set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("terminal db: commit migrate: %w", err)
	}
	return nil
}

// Insert adds a terminal row.
func (d *DB) Insert(row Row) error {
	_, err := d.db.Exec(`
		INSERT INTO terminals (id, title, cwd, worktree_path, worktree_branch, status, created_at, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.Title, row.Cwd, row.WorktreePath, row.WorktreeBranch,
		row.Status, row.CreatedAt.UnixMilli(), row.LastAccessed.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("terminal db: insert: %w", err)
	}
	return nil
}

// Delete removes a terminal row. Deleting an unknown id is a no-op.
func (d *DB) Delete(id string) error {
	if _, err := d.db.Exec(`DELETE FROM terminals WHERE id = ?`, id); err != nil {
		return fmt.Errorf("terminal db: delete: %w", err)
	}
	return nil
}

// SetStatus updates the persisted display status and access time.
func (d *DB) SetStatus(id, status string, now time.Time) error {
	_, err := d.db.Exec(
		`UPDATE terminals SET status = ?, last_accessed = ? WHERE id = ?`,
		status, now.UnixMilli(), id,
	)
	if err != nil {
		return fmt.Errorf("terminal db: set status: %w", err)
	}
	return nil
}

// Get returns one terminal row, or sql.ErrNoRows.
func (d *DB) Get(id string) (Row, error) {
	row := d.db.QueryRow(`
		SELECT id, title, cwd, worktree_path, worktree_branch, status, created_at, last_accessed
		FROM terminals WHERE id = ?`, id)
	return scanRow(row)
}

// List returns all terminal rows ordered by creation time.
func (d *DB) List() ([]Row, error) {
	rows, err := d.db.Query(`
		SELECT id, title, cwd, worktree_path, worktree_branch, status, created_at, last_accessed
		FROM terminals ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("terminal db: list: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		r, err := scanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("terminal db: list: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRow(s scanner) (Row, error) {
	var r Row
	var createdMs, accessedMs int64
	if err := s.Scan(&r.ID, &r.Title, &r.Cwd, &r.WorktreePath, &r.WorktreeBranch,
		&r.Status, &createdMs, &accessedMs); err != nil {
		return Row{}, err
	}
	r.CreatedAt = time.UnixMilli(createdMs)
	r.LastAccessed = time.UnixMilli(accessedMs)
	return r, nil
}
