package model

// Faculty is a staff account with login credentials.
type Faculty struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"`
	Department   string `json:"department"`
	ClassName    string `json:"class_name"`
}

// Student is one entry in the student directory. Embedding holds the stored
// face vector; it is persisted as raw float64 bytes and never serialized to clients.
type Student struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	RegNo      string    `json:"reg_no"`
	ClassName  string    `json:"class_name"`
	Department string    `json:"department"`
	Embedding  []float64 `json:"-"`
}

// AttendanceRecord is a single presence event. Identity fields are a denormalized
// copy taken at marking time, so later student edits do not rewrite history.
type AttendanceRecord struct {
	StudentName string `json:"student_name"`
	RegNo       string `json:"reg_no"`
	ClassName   string `json:"class_name"`
	Department  string `json:"department"`
	Date        string `json:"date"`
	Status      string `json:"status"`
}

// Counts mirrors the /status endpoint payload.
type Counts struct {
	Students   int64 `json:"students_loaded"`
	Faculty    int64 `json:"faculty_accounts"`
	Attendance int64 `json:"attendance_records"`
}
