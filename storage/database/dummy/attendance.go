package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type attendanceRepository struct {
	sessions *sessionTable
	marks    *markTable
	students *studentTable
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *DB) attendance.Repository {
	return &attendanceRepository{
		sessions: db.session,
		marks:    db.mark,
		students: db.student,
	}
}

func (repo *attendanceRepository) querySessions() []attendance.Session {
	sessions := make([]attendance.Session, 0, len(repo.sessions.table))
	for _, sess := range repo.sessions.table {
		sessions = append(sessions, *sess)
	}
	return sessions
}

func (repo *attendanceRepository) queryMarks() []attendance.Mark {
	marks := make([]attendance.Mark, 0, len(repo.marks.table))
	for _, mark := range repo.marks.table {
		marks = append(marks, *mark)
	}
	return marks
}

func (repo *attendanceRepository) CreateSession(_ context.Context, sess attendance.Session) (attendance.Session, error) {
	repo.sessions.Lock()
	defer repo.sessions.Unlock()

	// one active session per (department, year, subject, teacher)
	for _, existing := range repo.sessions.table {
		if existing.Status == attendance.SessionStatusActive &&
			existing.Department == sess.Department &&
			existing.Year == sess.Year &&
			existing.Subject == sess.Subject &&
			existing.TeacherID == sess.TeacherID {
			return attendance.Session{}, attendance.ErrSessionExists
		}
	}

	sess.ID = uuid.New().String()
	repo.sessions.table[sess.ID] = &sess
	return sess, nil
}

func (repo *attendanceRepository) GetSession(_ context.Context, id string) (attendance.Session, error) {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	if sess, ok := repo.sessions.table[id]; ok {
		return *sess, nil
	}
	return attendance.Session{}, attendance.ErrSessionNotFound
}

func (repo *attendanceRepository) QuerySessions(_ context.Context, filter *attendance.SessionFilter, ordering []core.DBOrdering) ([]attendance.Session, error) {
	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	sessions := repo.querySessions()
	if filter != nil {
		var filtered []attendance.Session
		window := attendance.Window{From: filter.StartedFrom, To: filter.StartedTo}
		for _, sess := range sessions {
			if filter.TeacherID != "" && sess.TeacherID != filter.TeacherID {
				continue
			}
			if filter.Department != "" && sess.Department != filter.Department {
				continue
			}
			if filter.Year != "" && sess.Year != filter.Year {
				continue
			}
			if filter.Subject != "" && sess.Subject != filter.Subject {
				continue
			}
			if filter.Status != "" && sess.Status != filter.Status {
				continue
			}
			if !window.Contains(sess.StartedAt) {
				continue
			}
			filtered = append(filtered, sess)
		}
		sessions = filtered
	}

	asc := len(ordering) > 0 && ordering[0].Ascending
	sort.Slice(sessions, func(i, j int) bool {
		if asc {
			return sessions[i].StartedAt.Before(sessions[j].StartedAt)
		}
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	return sessions, nil
}

func (repo *attendanceRepository) CloseSession(_ context.Context, id, closedBy string, endedAt time.Time) (attendance.Session, error) {
	repo.sessions.Lock()
	defer repo.sessions.Unlock()

	sess, ok := repo.sessions.table[id]
	if !ok || sess.Status != attendance.SessionStatusActive {
		return attendance.Session{}, attendance.ErrSessionNotActive
	}

	sess.Status = attendance.SessionStatusClosed
	sess.EndedAt = &endedAt
	sess.ClosedBy = closedBy
	repo.sessions.table[id] = sess
	return *sess, nil
}

func (repo *attendanceRepository) CountClosedClassSessions(_ context.Context, department, year string, w attendance.Window) (int, error) {
	strength, err := repo.classStrength(department, year)
	if err != nil {
		return 0, err
	}
	if strength == 0 {
		return 0, nil
	}

	repo.sessions.RLock()
	defer repo.sessions.RUnlock()

	var n int
	for _, sess := range repo.sessions.table {
		if sess.Status == attendance.SessionStatusClosed &&
			sess.Department == department &&
			sess.Year == year &&
			w.Contains(sess.StartedAt) {
			n++
		}
	}
	return n, nil
}

func (repo *attendanceRepository) CreateMark(_ context.Context, mark attendance.Mark) (attendance.Mark, error) {
	repo.marks.Lock()
	defer repo.marks.Unlock()

	for _, existing := range repo.marks.table {
		if existing.StudentID == mark.StudentID && existing.SessionID == mark.SessionID {
			return attendance.Mark{}, attendance.ErrMarkExists
		}
	}

	mark.ID = uuid.New().String()
	repo.marks.table[mark.ID] = &mark
	return mark, nil
}

func (repo *attendanceRepository) GetMark(_ context.Context, studentID, sessionID string) (attendance.Mark, error) {
	repo.marks.RLock()
	defer repo.marks.RUnlock()

	for _, mark := range repo.marks.table {
		if mark.StudentID == studentID && mark.SessionID == sessionID {
			return *mark, nil
		}
	}
	return attendance.Mark{}, attendance.ErrMarkNotFound
}

func (repo *attendanceRepository) QueryMarks(_ context.Context, filter *attendance.MarkFilter, ordering []core.DBOrdering) ([]attendance.Mark, error) {
	repo.marks.RLock()
	defer repo.marks.RUnlock()

	marks := repo.queryMarks()
	if filter != nil {
		var filtered []attendance.Mark
		window := attendance.Window{From: filter.From, To: filter.To}
		for _, mark := range marks {
			if filter.StudentID != "" && mark.StudentID != filter.StudentID {
				continue
			}
			if filter.SessionID != "" && mark.SessionID != filter.SessionID {
				continue
			}
			if filter.Status != "" && mark.Status != filter.Status {
				continue
			}
			if !window.Contains(mark.CreatedAt) {
				continue
			}
			filtered = append(filtered, mark)
		}
		marks = filtered
	}

	asc := len(ordering) == 0 || ordering[0].Ascending
	sort.Slice(marks, func(i, j int) bool {
		if asc {
			return marks[i].CreatedAt.Before(marks[j].CreatedAt)
		}
		return marks[i].CreatedAt.After(marks[j].CreatedAt)
	})
	return marks, nil
}

func (repo *attendanceRepository) CountPresent(ctx context.Context, studentID string, w attendance.Window) (int, error) {
	marks, err := repo.QueryMarks(ctx, &attendance.MarkFilter{
		StudentID: studentID,
		Status:    attendance.MarkStatusPresent,
		From:      w.From,
		To:        w.To,
	}, nil)
	if err != nil {
		return 0, err
	}
	return len(marks), nil
}

func (repo *attendanceRepository) CountSessionPresent(ctx context.Context, sessionID string) (int, error) {
	marks, err := repo.QueryMarks(ctx, &attendance.MarkFilter{
		SessionID: sessionID,
		Status:    attendance.MarkStatusPresent,
	}, nil)
	if err != nil {
		return 0, err
	}
	return len(marks), nil
}

func (repo *attendanceRepository) CountPresentStudents(ctx context.Context, w attendance.Window) (int, error) {
	marks, err := repo.QueryMarks(ctx, &attendance.MarkFilter{
		Status: attendance.MarkStatusPresent,
		From:   w.From,
		To:     w.To,
	}, nil)
	if err != nil {
		return 0, err
	}

	seen := make(map[string]struct{}, len(marks))
	for _, mark := range marks {
		seen[mark.StudentID] = struct{}{}
	}
	return len(seen), nil
}

func (repo *attendanceRepository) ReconcileAbsences(_ context.Context, sess attendance.Session, at time.Time) (int, error) {
	repo.students.RLock()
	roster := make([]string, 0)
	for _, std := range repo.students.table {
		if std.Department == sess.Department && std.Year == sess.Year {
			roster = append(roster, std.ID)
		}
	}
	repo.students.RUnlock()

	repo.marks.Lock()
	defer repo.marks.Unlock()

	marked := make(map[string]struct{})
	for _, mark := range repo.marks.table {
		if mark.SessionID == sess.ID {
			marked[mark.StudentID] = struct{}{}
		}
	}

	var n int
	for _, studentID := range roster {
		if _, ok := marked[studentID]; ok {
			continue
		}
		mark := attendance.Mark{
			ID:        uuid.New().String(),
			StudentID: studentID,
			SessionID: sess.ID,
			Status:    attendance.MarkStatusAbsent,
			CreatedAt: at,
		}
		repo.marks.table[mark.ID] = &mark
		n++
	}
	return n, nil
}

func (repo *attendanceRepository) classStrength(department, year string) (int, error) {
	repo.students.RLock()
	defer repo.students.RUnlock()

	var n int
	for _, std := range repo.students.table {
		if std.Department == department && std.Year == year {
			n++
		}
	}
	return n, nil
}
