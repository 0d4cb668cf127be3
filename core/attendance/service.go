package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/student"
)

var (
	// errors
	ErrSessionExists          = errors.New("an active session already exists for this class and subject")
	ErrSessionNotFound        = errors.New("session not found")
	ErrSessionNotActive       = errors.New("session is closed or does not exist")
	ErrMarkExists             = errors.New("attendance already marked for this session")
	ErrMarkNotFound           = errors.New("attendance mark not found")
	ErrClassMismatch          = errors.New("student does not belong to this session's class")
	ErrVerificationFailed     = errors.New("identity verification failed")
	ErrVerificationTimeout    = errors.New("verification service unavailable")
	ErrAggregationUnavailable = errors.New("attendance data unavailable for aggregation")
)

type (
	Repository interface {
		// CreateSession inserts an active Session. It returns ErrSessionExists
		// when an active session already exists for the same
		// (department, year, subject, teacher); the check and the insert are
		// a single atomic operation.
		CreateSession(ctx context.Context, sess Session) (Session, error)
		GetSession(ctx context.Context, id string) (Session, error)
		// QuerySessions applies AND operation on available SessionFilter fields.
		QuerySessions(ctx context.Context, filter *SessionFilter, ordering []core.DBOrdering) ([]Session, error)
		// CloseSession atomically flips an active session to closed. It
		// returns ErrSessionNotActive when the session is unknown or already
		// closed, so a second close never re-runs.
		CloseSession(ctx context.Context, id, closedBy string, endedAt time.Time) (Session, error)
		// CountClosedClassSessions counts closed sessions held for a class
		// within the window, excluding sessions whose class roster is empty.
		CountClosedClassSessions(ctx context.Context, department, year string, w Window) (int, error)

		// CreateMark inserts a Mark. It returns ErrMarkExists when a mark
		// already exists for (StudentID, SessionID); the uniqueness check and
		// the insert are a single atomic operation.
		CreateMark(ctx context.Context, mark Mark) (Mark, error)
		GetMark(ctx context.Context, studentID, sessionID string) (Mark, error)
		// QueryMarks applies AND operation on available MarkFilter fields.
		QueryMarks(ctx context.Context, filter *MarkFilter, ordering []core.DBOrdering) ([]Mark, error)
		CountPresent(ctx context.Context, studentID string, w Window) (int, error)
		CountSessionPresent(ctx context.Context, sessionID string) (int, error)
		// CountPresentStudents counts distinct students with a present mark
		// within the window.
		CountPresentStudents(ctx context.Context, w Window) (int, error)
		// ReconcileAbsences inserts an absent Mark for every roster student of
		// the session's class without an existing mark for the session. It is
		// idempotent: existing marks are never touched or duplicated. It
		// returns the number of absences materialized.
		ReconcileAbsences(ctx context.Context, sess Session, at time.Time) (int, error)
	}

	ServiceInterface interface {
		StartSession(ns NewSession) (Session, error)
		ActiveSessions(department, year string) ([]Session, error)
		QuerySessions(filter *SessionFilter, ordering []core.DBOrdering) ([]Session, error)
		GetSession(id string) (Session, error)
		CloseSession(id, closedBy string) (Session, error)
		MarkAttendance(studentID, sessionID string, payload VerificationPayload) (Mark, error)
		QueryMarks(filter *MarkFilter, ordering []core.DBOrdering) ([]Mark, error)
		ComputePercentage(studentID string, w Window) (StudentStats, error)
		ListDefaulters(w Window, threshold float64) ([]DefaulterView, error)
		TeacherStats(teacherID string, w Window) (TeacherStats, error)
		DashboardStats() (DashboardStats, error)
	}

	service struct {
		repo       Repository
		studentSvc student.ServiceInterface
		verifier   Verifier
		logger     core.Logger
		conf       *core.Config
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(
	repo Repository,
	studentSvc student.ServiceInterface,
	verifier Verifier,
	logger core.Logger,
	conf *core.Config,
) *service {
	return &service{
		repo:       repo,
		studentSvc: studentSvc,
		verifier:   verifier,
		logger:     logger,
		conf:       conf,
	}
}

// Session lifecycle

func (svc *service) StartSession(ns NewSession) (Session, error) {
	sess := Session{
		Subject:    ns.Subject,
		Department: ns.Department,
		Year:       ns.Year,
		Division:   ns.Division,
		TeacherID:  ns.TeacherID,
		Status:     SessionStatusActive,
		StartedAt:  time.Now().UTC(),
	}
	return svc.repo.CreateSession(context.Background(), sess)
}

// ActiveSessions returns every active session for the department+year.
// Division is intentionally not filtered: students of any division of a year
// see (and may mark) the year's open sessions.
func (svc *service) ActiveSessions(department, year string) ([]Session, error) {
	return svc.repo.QuerySessions(context.Background(), &SessionFilter{
		Department: core.CleanString(department, true /* lower */),
		Year:       core.CleanString(year, true /* lower */),
		Status:     SessionStatusActive,
	}, []core.DBOrdering{{Field: "started_at", Ascending: false}})
}

func (svc *service) QuerySessions(filter *SessionFilter, ordering []core.DBOrdering) ([]Session, error) {
	return svc.repo.QuerySessions(context.Background(), filter, ordering)
}

func (svc *service) GetSession(id string) (Session, error) {
	return svc.repo.GetSession(context.Background(), id)
}

// CloseSession closes the session and materializes Absent marks for roster
// students who never marked. Closing is the only place absence is recorded.
// A reconciliation failure does not undo the close; it is logged for retry
// by the operator since the faculty client has already moved on.
func (svc *service) CloseSession(id, closedBy string) (Session, error) {
	ctx := context.Background()
	sess, err := svc.repo.CloseSession(ctx, id, closedBy, time.Now().UTC())
	if err != nil {
		return Session{}, err
	}

	if _, err := svc.repo.ReconcileAbsences(ctx, sess, *sess.EndedAt); err != nil {
		svc.logger.Error(fmt.Sprintf("reconciling absences for session %s: %v", sess.ID, err), err)
	}
	return sess, nil
}

// Attendance marking

// MarkAttendance validates and commits a single student's mark against an
// open session. The final insert relies on the store's uniqueness guarantee,
// so at most one mark per (student, session) survives concurrent retries.
func (svc *service) MarkAttendance(studentID, sessionID string, payload VerificationPayload) (Mark, error) {
	ctx := context.Background()

	sess, err := svc.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Cause(err) == ErrSessionNotFound {
			return Mark{}, ErrSessionNotActive
		}
		return Mark{}, errors.Wrap(err, "resolving session")
	}
	if !sess.IsActive() {
		return Mark{}, ErrSessionNotActive
	}

	std, err := svc.studentSvc.GetByID(studentID)
	if err != nil {
		return Mark{}, errors.Wrap(err, "resolving student")
	}
	// division intentionally not compared; see ActiveSessions
	if std.Department != sess.Department || std.Year != sess.Year {
		svc.logger.Warn(fmt.Sprintf(
			"class mismatch: student %s (%s/%s) attempted to mark session %s (%s/%s)",
			std.ID, std.Department, std.Year, sess.ID, sess.Department, sess.Year))
		return Mark{}, ErrClassMismatch
	}

	// cheap pre-check; the insert below still enforces uniqueness atomically
	if _, err = svc.repo.GetMark(ctx, studentID, sessionID); err == nil {
		return Mark{}, ErrMarkExists
	} else if errors.Cause(err) != ErrMarkNotFound {
		return Mark{}, errors.Wrap(err, "checking existing mark")
	}

	vctx, cancel := context.WithTimeout(ctx, svc.conf.Verifier.Timeout)
	defer cancel()
	res, err := svc.verifier.Verify(vctx, payload.Method, studentID, payload.Image, payload.Filename)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Cause(err) == ErrVerificationTimeout {
			return Mark{}, ErrVerificationTimeout
		}
		return Mark{}, errors.Wrap(err, "verifying identity")
	}
	// no record is written on failure; the student may retry
	if !res.Matched {
		if res.Message != "" {
			return Mark{}, errors.Wrap(ErrVerificationFailed, res.Message)
		}
		return Mark{}, ErrVerificationFailed
	}
	// the verifier may identify someone else entirely
	if res.StudentID != "" && res.StudentID != std.ID && res.StudentID != std.RollNumber {
		return Mark{}, errors.Wrap(ErrVerificationFailed, "verified identity does not match the submitting student")
	}

	return svc.repo.CreateMark(ctx, Mark{
		StudentID:  studentID,
		SessionID:  sessionID,
		Status:     MarkStatusPresent,
		Method:     payload.Method,
		Confidence: fmt.Sprintf("%.2f", res.Confidence),
		CreatedAt:  time.Now().UTC(),
	})
}

func (svc *service) QueryMarks(filter *MarkFilter, ordering []core.DBOrdering) ([]Mark, error) {
	return svc.repo.QueryMarks(context.Background(), filter, ordering)
}
