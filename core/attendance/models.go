package attendance

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
)

// Session statuses
const (
	SessionStatusActive = "active"
	SessionStatusClosed = "closed"
)

// Mark statuses
const (
	MarkStatusPresent = "present"
	MarkStatusAbsent  = "absent"
)

// Verification methods
const (
	MethodFace   = "face"
	MethodIDCard = "idcard"
)

// Session is a time-bounded window during which one class/subject accepts
// attendance marks. It transitions active -> closed exactly once and is
// never reopened.
type Session struct {
	ID         string     `json:"id"`
	Subject    string     `json:"subject"`
	Department string     `json:"department"`
	Year       string     `json:"year"`
	Division   string     `json:"division,omitempty"` // informational; not used for matching
	TeacherID  string     `json:"teacher_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`         // UTC
	EndedAt    *time.Time `json:"ended_at"`           // UTC; nil while active
	ClosedBy   string     `json:"closed_by,omitempty"`
}

func (s *Session) IsActive() bool {
	return s.Status == SessionStatusActive
}

// NewSession contains information needed to open a Session.
type NewSession struct {
	Subject    string `json:"subject" validate:"required"`
	Department string `json:"department" validate:"required"`
	Year       string `json:"year" validate:"required"`
	Division   string `json:"division"`
	TeacherID  string `json:"-"` // resolved from the caller, never bound
}

func (ns *NewSession) Validate(validate *validator.Validate) error {
	ns.Subject = core.CleanString(ns.Subject)
	ns.Department = core.CleanString(ns.Department, true /* lower */)
	ns.Year = core.CleanString(ns.Year, true /* lower */)
	ns.Division = core.CleanString(ns.Division, true /* lower */)
	return validate.Struct(ns)
}

// Mark is a single student's recorded status for one Session.
// At most one Mark exists per (StudentID, SessionID); a Mark is immutable
// once written, corrections are new superseding rows.
type Mark struct {
	ID         string    `json:"id"`
	StudentID  string    `json:"student_id"`
	SessionID  string    `json:"session_id"`
	Status     string    `json:"status"`
	Method     string    `json:"method,omitempty"`     // empty for reconciled absences
	Confidence string    `json:"confidence,omitempty"` // opaque verifier score
	CreatedAt  time.Time `json:"created_at"`           // UTC
}

// Window bounds a reporting period. Zero values mean unbounded.
type Window struct {
	From time.Time `query:"from"`
	To   time.Time `query:"to"`
}

func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// Today returns a Window covering the current UTC day.
func Today() Window {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return Window{From: from, To: from.Add(24 * time.Hour)}
}

type SessionFilter struct {
	TeacherID   string    `query:"teacher_id"`
	Department  string    `query:"department"`
	Year        string    `query:"year"`
	Subject     string    `query:"subject"`
	Status      string    `query:"status"`
	StartedFrom time.Time `query:"started_from"`
	StartedTo   time.Time `query:"started_to"`
}

func (sf *SessionFilter) Clean() {
	sf.Department = core.CleanString(sf.Department, true /* lower */)
	sf.Year = core.CleanString(sf.Year, true /* lower */)
	sf.Subject = core.CleanString(sf.Subject)
}

type MarkFilter struct {
	StudentID string    `query:"student_id"`
	SessionID string    `query:"session_id"`
	Status    string    `query:"status"`
	From      time.Time `query:"from"`
	To        time.Time `query:"to"`
}

// DefaulterView is derived per query, never stored.
type DefaulterView struct {
	StudentID    string  `json:"student_id"`
	FullName     string  `json:"full_name"`
	RollNumber   string  `json:"roll_number"`
	PresentCount int     `json:"present_count"`
	SessionCount int     `json:"session_count"`
	Percentage   float64 `json:"percentage"`
}

type SubjectStat struct {
	Subject string `json:"subject"`
	Count   int    `json:"count"`
}

type LastMarked struct {
	Subject   string    `json:"subject"`
	MarkedAt  time.Time `json:"marked_at"`
	SessionID string    `json:"session_id"`
}

// StudentStats is the per-student attendance report.
type StudentStats struct {
	StudentID    string        `json:"student_id"`
	FullName     string        `json:"full_name"`
	RollNumber   string        `json:"roll_number"`
	Department   string        `json:"department"`
	Year         string        `json:"year"`
	Division     string        `json:"division,omitempty"`
	PresentCount int           `json:"present_count"`
	SessionCount int           `json:"session_count"`
	Percentage   float64       `json:"percentage"`
	LastMarked   *LastMarked   `json:"last_marked"`
	SubjectStats []SubjectStat `json:"subject_stats"`
}

// TeacherStats is the per-teacher attendance report.
type TeacherStats struct {
	TeacherID         string  `json:"teacher_id"`
	SessionsToday     int     `json:"sessions_today"`
	ClosedSessions    int     `json:"closed_sessions"`
	AveragePercentage float64 `json:"average_percentage"`
}

// DashboardStats is the admin overview.
type DashboardStats struct {
	TotalStudents int `json:"total_students"`
	PresentToday  int `json:"present_today"`
	AbsentToday   int `json:"absent_today"`
	SessionsToday int `json:"sessions_today"`
}
