package sqlxrepos

import (
	"context"
	"database/sql"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

const (
	sessionColumns = "id, subject, department, year, division, teacher_id, status, started_at, ended_at, closed_by"
	markColumns    = "id, student_id, session_id, status, method, confidence, created_at"
)

type sessionRow struct {
	ID         string      `db:"id"`
	Subject    string      `db:"subject"`
	Department string      `db:"department"`
	Year       string      `db:"year"`
	Division   string      `db:"division"`
	TeacherID  string      `db:"teacher_id"`
	Status     string      `db:"status"`
	StartedAt  time.Time   `db:"started_at"`
	EndedAt    null.Time   `db:"ended_at"`
	ClosedBy   null.String `db:"closed_by"`
}

func (row sessionRow) toSession() attendance.Session {
	return attendance.Session{
		ID:         row.ID,
		Subject:    row.Subject,
		Department: row.Department,
		Year:       row.Year,
		Division:   row.Division,
		TeacherID:  row.TeacherID,
		Status:     row.Status,
		StartedAt:  row.StartedAt,
		EndedAt:    row.EndedAt.Ptr(),
		ClosedBy:   row.ClosedBy.String,
	}
}

type markRow struct {
	ID         string    `db:"id"`
	StudentID  string    `db:"student_id"`
	SessionID  string    `db:"session_id"`
	Status     string    `db:"status"`
	Method     string    `db:"method"`
	Confidence string    `db:"confidence"`
	CreatedAt  time.Time `db:"created_at"`
}

func (row markRow) toMark() attendance.Mark {
	return attendance.Mark(row)
}

type attendanceRepository struct {
	db *sqlx.DB
}

var _ attendance.Repository = (*attendanceRepository)(nil) // interface compliance check

func NewAttendanceRepository(db *sql.DB, conf *core.Config) attendance.Repository {
	return &attendanceRepository{db: sqlx.NewDb(db, conf.Database.Engine)}
}

func (repo *attendanceRepository) CreateSession(ctx context.Context, sess attendance.Session) (attendance.Session, error) {
	sess.ID = uuid.New().String()

	query, args, err := psql.Insert("sessions").
		Columns("id", "subject", "department", "year", "division", "teacher_id", "status", "started_at").
		Values(sess.ID, sess.Subject, sess.Department, sess.Year, sess.Division, sess.TeacherID, sess.Status, sess.StartedAt).
		ToSql()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "building query")
	}

	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if violatesUnique(err, "sessions_single_active_idx") {
			return attendance.Session{}, attendance.ErrSessionExists
		}
		return attendance.Session{}, errors.Wrap(err, "inserting session")
	}
	return sess, nil
}

func (repo *attendanceRepository) GetSession(ctx context.Context, id string) (attendance.Session, error) {
	query, args, err := psql.Select(sessionColumns).From("sessions").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "building query")
	}

	var row sessionRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Session{}, attendance.ErrSessionNotFound
		}
		return attendance.Session{}, errors.Wrap(err, "getting session")
	}
	return row.toSession(), nil
}

func (repo *attendanceRepository) QuerySessions(ctx context.Context, filter *attendance.SessionFilter, ordering []core.DBOrdering) ([]attendance.Session, error) {
	qb := psql.Select(sessionColumns).From("sessions")
	if filter != nil {
		if filter.TeacherID != "" {
			qb = qb.Where(sq.Eq{"teacher_id": filter.TeacherID})
		}
		if filter.Department != "" {
			qb = qb.Where(sq.Eq{"department": filter.Department})
		}
		if filter.Year != "" {
			qb = qb.Where(sq.Eq{"year": filter.Year})
		}
		if filter.Subject != "" {
			qb = qb.Where(sq.Eq{"subject": filter.Subject})
		}
		if filter.Status != "" {
			qb = qb.Where(sq.Eq{"status": filter.Status})
		}
		if !filter.StartedFrom.IsZero() {
			qb = qb.Where(sq.GtOrEq{"started_at": filter.StartedFrom.UTC()})
		}
		if !filter.StartedTo.IsZero() {
			qb = qb.Where(sq.LtOrEq{"started_at": filter.StartedTo.UTC()})
		}
	}
	if len(ordering) > 0 {
		qb = qb.OrderBy(orderClauses(ordering)...)
	} else {
		qb = qb.OrderBy("started_at DESC")
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []sessionRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying sessions")
	}
	sessions := make([]attendance.Session, 0, len(rows))
	for _, row := range rows {
		sessions = append(sessions, row.toSession())
	}
	return sessions, nil
}

// CloseSession performs a conditional update: the status check and the flip
// happen in one statement, so concurrent closes resolve to a single winner.
func (repo *attendanceRepository) CloseSession(ctx context.Context, id, closedBy string, endedAt time.Time) (attendance.Session, error) {
	query, args, err := psql.Update("sessions").
		Set("status", attendance.SessionStatusClosed).
		Set("ended_at", endedAt).
		Set("closed_by", closedBy).
		Where(sq.Eq{"id": id, "status": attendance.SessionStatusActive}).
		Suffix("RETURNING " + sessionColumns).
		ToSql()
	if err != nil {
		return attendance.Session{}, errors.Wrap(err, "building query")
	}

	var row sessionRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Session{}, attendance.ErrSessionNotActive
		}
		return attendance.Session{}, errors.Wrap(err, "closing session")
	}
	return row.toSession(), nil
}

func (repo *attendanceRepository) CountClosedClassSessions(ctx context.Context, department, year string, w attendance.Window) (int, error) {
	qb := psql.Select("COUNT(*)").
		From("sessions").
		Where(sq.Eq{"status": attendance.SessionStatusClosed, "department": department, "year": year}).
		Where(sq.Expr("EXISTS (SELECT 1 FROM students WHERE department = ? AND year = ?)", department, year))
	if !w.From.IsZero() {
		qb = qb.Where(sq.GtOrEq{"started_at": w.From.UTC()})
	}
	if !w.To.IsZero() {
		qb = qb.Where(sq.LtOrEq{"started_at": w.To.UTC()})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting sessions")
	}
	return count, nil
}

func (repo *attendanceRepository) CreateMark(ctx context.Context, mark attendance.Mark) (attendance.Mark, error) {
	mark.ID = uuid.New().String()

	query, args, err := psql.Insert("marks").
		Columns("id", "student_id", "session_id", "status", "method", "confidence", "created_at").
		Values(mark.ID, mark.StudentID, mark.SessionID, mark.Status, mark.Method, mark.Confidence, mark.CreatedAt).
		ToSql()
	if err != nil {
		return attendance.Mark{}, errors.Wrap(err, "building query")
	}

	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if violatesUnique(err, "marks_student_id_session_id_key") {
			return attendance.Mark{}, attendance.ErrMarkExists
		}
		return attendance.Mark{}, errors.Wrap(err, "inserting mark")
	}
	return mark, nil
}

func (repo *attendanceRepository) GetMark(ctx context.Context, studentID, sessionID string) (attendance.Mark, error) {
	query, args, err := psql.Select(markColumns).
		From("marks").
		Where(sq.Eq{"student_id": studentID, "session_id": sessionID}).
		ToSql()
	if err != nil {
		return attendance.Mark{}, errors.Wrap(err, "building query")
	}

	var row markRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return attendance.Mark{}, attendance.ErrMarkNotFound
		}
		return attendance.Mark{}, errors.Wrap(err, "getting mark")
	}
	return row.toMark(), nil
}

func (repo *attendanceRepository) QueryMarks(ctx context.Context, filter *attendance.MarkFilter, ordering []core.DBOrdering) ([]attendance.Mark, error) {
	qb := psql.Select(markColumns).From("marks")
	if filter != nil {
		if filter.StudentID != "" {
			qb = qb.Where(sq.Eq{"student_id": filter.StudentID})
		}
		if filter.SessionID != "" {
			qb = qb.Where(sq.Eq{"session_id": filter.SessionID})
		}
		if filter.Status != "" {
			qb = qb.Where(sq.Eq{"status": filter.Status})
		}
		if !filter.From.IsZero() {
			qb = qb.Where(sq.GtOrEq{"created_at": filter.From.UTC()})
		}
		if !filter.To.IsZero() {
			qb = qb.Where(sq.LtOrEq{"created_at": filter.To.UTC()})
		}
	}
	if len(ordering) > 0 {
		qb = qb.OrderBy(orderClauses(ordering)...)
	} else {
		qb = qb.OrderBy("created_at ASC")
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []markRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying marks")
	}
	marks := make([]attendance.Mark, 0, len(rows))
	for _, row := range rows {
		marks = append(marks, row.toMark())
	}
	return marks, nil
}

func (repo *attendanceRepository) CountPresent(ctx context.Context, studentID string, w attendance.Window) (int, error) {
	qb := psql.Select("COUNT(*)").
		From("marks").
		Where(sq.Eq{"student_id": studentID, "status": attendance.MarkStatusPresent})
	query, args, err := windowed(qb, w).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting marks")
	}
	return count, nil
}

func (repo *attendanceRepository) CountSessionPresent(ctx context.Context, sessionID string) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("marks").
		Where(sq.Eq{"session_id": sessionID, "status": attendance.MarkStatusPresent}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting marks")
	}
	return count, nil
}

func (repo *attendanceRepository) CountPresentStudents(ctx context.Context, w attendance.Window) (int, error) {
	qb := psql.Select("COUNT(DISTINCT student_id)").
		From("marks").
		Where(sq.Eq{"status": attendance.MarkStatusPresent})
	query, args, err := windowed(qb, w).ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting marks")
	}
	return count, nil
}

// ReconcileAbsences resolves the unmarked roster first, then inserts with
// ON CONFLICT DO NOTHING so marks submitted between the two steps win.
func (repo *attendanceRepository) ReconcileAbsences(ctx context.Context, sess attendance.Session, at time.Time) (int, error) {
	query, args, err := psql.Select("s.id").
		From("students s").
		Where(sq.Eq{"s.department": sess.Department, "s.year": sess.Year}).
		Where(sq.Expr("NOT EXISTS (SELECT 1 FROM marks m WHERE m.student_id = s.id AND m.session_id = ?)", sess.ID)).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var unmarked []string
	if err = repo.db.SelectContext(ctx, &unmarked, query, args...); err != nil {
		return 0, errors.Wrap(err, "querying unmarked roster")
	}
	if len(unmarked) == 0 {
		return 0, nil
	}

	qb := psql.Insert("marks").Columns("id", "student_id", "session_id", "status", "created_at")
	for _, studentID := range unmarked {
		qb = qb.Values(uuid.New().String(), studentID, sess.ID, attendance.MarkStatusAbsent, at)
	}
	query, args, err = qb.Suffix("ON CONFLICT (student_id, session_id) DO NOTHING").ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	res, err := repo.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "inserting absences")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "inserting absences")
	}
	return int(n), nil
}

func windowed(qb sq.SelectBuilder, w attendance.Window) sq.SelectBuilder {
	if !w.From.IsZero() {
		qb = qb.Where(sq.GtOrEq{"created_at": w.From.UTC()})
	}
	if !w.To.IsZero() {
		qb = qb.Where(sq.LtOrEq{"created_at": w.To.UTC()})
	}
	return qb
}
