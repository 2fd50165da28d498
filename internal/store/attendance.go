package store

import (
	"context"

	"smartvision/internal/model"
)

// MarkAttendance conditionally inserts a presence row for (reg_no, date). The
// dedup is the UNIQUE constraint itself, so concurrent marks for the same
// student and day cannot both insert. Returns true when a new row was written,
// false when the student was already marked for that date.
func (s *Store) MarkAttendance(ctx context.Context, rec model.AttendanceRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO attendance (student_name, reg_no, class_name, department, date, status)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (reg_no, date) DO NOTHING
	`, rec.StudentName, rec.RegNo, rec.ClassName, rec.Department, rec.Date, rec.Status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListAttendance returns ledger rows with optional filters. Class matches
// exactly. The date range is inclusive and applied only when both bounds are
// present; a single bound is ignored, matching the reference behavior.
func (s *Store) ListAttendance(ctx context.Context, class, from, to string) ([]model.AttendanceRecord, error) {
	query := `SELECT student_name, reg_no, class_name, department, date, status FROM attendance WHERE 1=1`
	args := []any{}
	if class != "" {
		query += " AND class_name = ?"
		args = append(args, class)
	}
	if from != "" && to != "" {
		query += " AND date BETWEEN ? AND ?"
		args = append(args, from, to)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.AttendanceRecord
	for rows.Next() {
		var r model.AttendanceRecord
		if err := rows.Scan(&r.StudentName, &r.RegNo, &r.ClassName, &r.Department, &r.Date, &r.Status); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
