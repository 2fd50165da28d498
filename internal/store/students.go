package store

import (
	"context"
	"database/sql"
	"errors"

	"smartvision/internal/faceembed"
	"smartvision/internal/model"
)

// UpsertStudent creates or replaces the student keyed by registration number.
// Re-enrollment overwrites identity fields and the stored embedding; no history
// is kept.
func (s *Store) UpsertStudent(ctx context.Context, st *model.Student) error {
	blob := faceembed.EncodeVector(st.Embedding)
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO students (name, reg_no, class_name, department, face_encoding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (reg_no) DO UPDATE SET
			name = excluded.name,
			class_name = excluded.class_name,
			department = excluded.department,
			face_encoding = excluded.face_encoding
	`, st.Name, st.RegNo, st.ClassName, st.Department, blob)
	if err != nil {
		return err
	}
	if id, err := res.LastInsertId(); err == nil {
		st.ID = id
	}
	return nil
}

// ListStudents loads the whole directory, embeddings included, in insertion order.
// Rows whose stored blob cannot be decoded are skipped rather than failing the scan.
func (s *Store) ListStudents(ctx context.Context) ([]model.Student, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, reg_no, class_name, department, face_encoding
		FROM students ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var students []model.Student
	for rows.Next() {
		var st model.Student
		var blob []byte
		if err := rows.Scan(&st.ID, &st.Name, &st.RegNo, &st.ClassName, &st.Department, &blob); err != nil {
			return nil, err
		}
		vec, err := faceembed.DecodeVector(blob)
		if err != nil || len(vec) == 0 {
			continue
		}
		st.Embedding = vec
		students = append(students, st)
	}
	return students, rows.Err()
}

// GetStudentByRegNo returns a single directory entry, or nil when absent.
func (s *Store) GetStudentByRegNo(ctx context.Context, regNo string) (*model.Student, error) {
	var st model.Student
	var blob []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, reg_no, class_name, department, face_encoding
		FROM students WHERE reg_no = ?
	`, regNo).Scan(&st.ID, &st.Name, &st.RegNo, &st.ClassName, &st.Department, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if vec, derr := faceembed.DecodeVector(blob); derr == nil {
		st.Embedding = vec
	}
	return &st, nil
}
