package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"

	"smartvision/internal/model"
)

// ErrDuplicateEmail is returned when a signup reuses an existing faculty email.
var ErrDuplicateEmail = errors.New("email already exists")

// CreateFaculty inserts a new faculty account.
func (s *Store) CreateFaculty(ctx context.Context, f *model.Faculty) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO faculty (name, email, password_hash, department, class_name)
		VALUES (?, ?, ?, ?, ?)
	`, f.Name, f.Email, f.PasswordHash, f.Department, f.ClassName)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateEmail
		}
		return err
	}
	f.ID, _ = res.LastInsertId()
	return nil
}

// GetFacultyByEmail returns the account for email, or nil when none exists.
func (s *Store) GetFacultyByEmail(ctx context.Context, email string) (*model.Faculty, error) {
	var f model.Faculty
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, password_hash, department, class_name
		FROM faculty WHERE email = ?
	`, email).Scan(&f.ID, &f.Name, &f.Email, &f.PasswordHash, &f.Department, &f.ClassName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// UpdateFaculty rewrites the mutable profile fields of the account keyed by email.
// The email itself is the account identity and never changes.
func (s *Store) UpdateFaculty(ctx context.Context, email string, f model.Faculty) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE faculty
		SET name = ?, department = ?, class_name = ?, password_hash = ?
		WHERE email = ?
	`, f.Name, f.Department, f.ClassName, f.PasswordHash, email)
	return err
}
