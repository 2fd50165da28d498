package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"smartvision/internal/model"
)

// Store persists faculty accounts, the student directory, and the attendance
// ledger in a single local SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at dbPath and applies the schema.
func Open(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS faculty (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL DEFAULT '',
		email         TEXT UNIQUE NOT NULL,
		password_hash TEXT NOT NULL,
		department    TEXT NOT NULL DEFAULT '',
		class_name    TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS students (
		id            INTEGER PRIMARY KEY AUTOINCREMENT,
		name          TEXT NOT NULL DEFAULT '',
		reg_no        TEXT UNIQUE NOT NULL,
		class_name    TEXT NOT NULL DEFAULT '',
		department    TEXT NOT NULL DEFAULT '',
		face_encoding BLOB
	);

	CREATE TABLE IF NOT EXISTS attendance (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		student_name TEXT NOT NULL DEFAULT '',
		reg_no       TEXT NOT NULL,
		class_name   TEXT NOT NULL DEFAULT '',
		department   TEXT NOT NULL DEFAULT '',
		date         TEXT NOT NULL,
		status       TEXT NOT NULL DEFAULT 'Present',
		UNIQUE (reg_no, date)
	);

	CREATE INDEX IF NOT EXISTS idx_attendance_class ON attendance(class_name);
	CREATE INDEX IF NOT EXISTS idx_attendance_date  ON attendance(date);
	`
	_, err := db.Exec(schema)
	return err
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Counts returns the persisted row counts reported by /status.
func (s *Store) Counts(ctx context.Context) (model.Counts, error) {
	var c model.Counts
	row := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM students),
			(SELECT COUNT(*) FROM faculty),
			(SELECT COUNT(*) FROM attendance)
	`)
	if err := row.Scan(&c.Students, &c.Faculty, &c.Attendance); err != nil {
		return model.Counts{}, err
	}
	return c, nil
}
