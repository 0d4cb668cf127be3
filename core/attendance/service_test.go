package attendance_test

import (
	"context"
	"io"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/student"
	dummydb "github.com/trezcool/mahudhurio/storage/database/dummy"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

// verifierMock scripts the identity verifier's answer.
type verifierMock struct {
	res   attendance.VerificationResult
	err   error
	delay time.Duration
}

func (v *verifierMock) Verify(ctx context.Context, _, _ string, _ io.Reader, _ string) (attendance.VerificationResult, error) {
	if v.delay > 0 {
		select {
		case <-ctx.Done():
			return attendance.VerificationResult{}, ctx.Err()
		case <-time.After(v.delay):
		}
	}
	return v.res, v.err
}

func matchingVerifier() *verifierMock {
	return &verifierMock{res: attendance.VerificationResult{Matched: true, Confidence: 0.97}}
}

type testEnv struct {
	svc        attendance.ServiceInterface
	studentSvc student.ServiceInterface
	repo       attendance.Repository
	verifier   *verifierMock
	conf       *core.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	conf := core.NewConfig()
	db, err := dummydb.Open()
	require.NoError(t, err)

	repo := dummydb.NewAttendanceRepository(db)
	studentSvc := student.NewService(dummydb.NewStudentRepository(db))
	verifier := matchingVerifier()
	return &testEnv{
		svc:        attendance.NewService(repo, studentSvc, verifier, nopLogger{}, conf),
		studentSvc: studentSvc,
		repo:       repo,
		verifier:   verifier,
		conf:       conf,
	}
}

func (env *testEnv) createStudent(t *testing.T, roll, department, year string) student.Student {
	t.Helper()
	std, err := env.studentSvc.Create(student.NewStudent{
		FullName:   "Student " + roll,
		RollNumber: roll,
		Department: department,
		Year:       year,
		Division:   "a",
	})
	require.NoError(t, err)
	return std
}

func (env *testEnv) startSession(t *testing.T, subject, department, year, teacherID string) attendance.Session {
	t.Helper()
	sess, err := env.svc.StartSession(attendance.NewSession{
		Subject:    subject,
		Department: department,
		Year:       year,
		TeacherID:  teacherID,
	})
	require.NoError(t, err)
	return sess
}

func markPayload() attendance.VerificationPayload {
	return attendance.VerificationPayload{
		Method:   attendance.MethodFace,
		Image:    strings.NewReader("fake-jpeg-bytes"),
		Filename: "selfie.jpg",
	}
}

func TestStartSession(t *testing.T) {
	env := newTestEnv(t)

	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")
	assert.NotEmpty(t, sess.ID)
	assert.Equal(t, attendance.SessionStatusActive, sess.Status)
	assert.Nil(t, sess.EndedAt)
	assert.False(t, sess.StartedAt.IsZero())

	// same class+subject+teacher while still active
	_, err := env.svc.StartSession(attendance.NewSession{
		Subject:    "Algorithms",
		Department: "cs",
		Year:       "3",
		TeacherID:  "teacher-1",
	})
	assert.Equal(t, attendance.ErrSessionExists, err)

	// a different subject is fine
	_, err = env.svc.StartSession(attendance.NewSession{
		Subject:    "Databases",
		Department: "cs",
		Year:       "3",
		TeacherID:  "teacher-1",
	})
	assert.NoError(t, err)

	// closing frees the slot
	_, err = env.svc.CloseSession(sess.ID, "teacher-1")
	require.NoError(t, err)
	_, err = env.svc.StartSession(attendance.NewSession{
		Subject:    "Algorithms",
		Department: "cs",
		Year:       "3",
		TeacherID:  "teacher-1",
	})
	assert.NoError(t, err)
}

func TestActiveSessions(t *testing.T) {
	env := newTestEnv(t)

	cs3 := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")
	env.startSession(t, "Thermodynamics", "mech", "3", "teacher-2")
	closed := env.startSession(t, "Databases", "cs", "3", "teacher-3")
	_, err := env.svc.CloseSession(closed.ID, "teacher-3")
	require.NoError(t, err)

	sessions, err := env.svc.ActiveSessions("CS", "3") // case-insensitive
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, cs3.ID, sessions[0].ID)
}

func TestCloseSession(t *testing.T) {
	env := newTestEnv(t)
	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")

	closed, err := env.svc.CloseSession(sess.ID, "teacher-1")
	require.NoError(t, err)
	assert.Equal(t, attendance.SessionStatusClosed, closed.Status)
	require.NotNil(t, closed.EndedAt)
	assert.Equal(t, "teacher-1", closed.ClosedBy)

	// closing twice must not re-run
	_, err = env.svc.CloseSession(sess.ID, "teacher-1")
	assert.Equal(t, attendance.ErrSessionNotActive, err)

	_, err = env.svc.CloseSession("nope", "teacher-1")
	assert.Equal(t, attendance.ErrSessionNotActive, err)
}

func TestCloseSessionReconcilesAbsences(t *testing.T) {
	env := newTestEnv(t)

	present := env.createStudent(t, "cs3-001", "cs", "3")
	absent1 := env.createStudent(t, "cs3-002", "cs", "3")
	absent2 := env.createStudent(t, "cs3-003", "cs", "3")
	other := env.createStudent(t, "mech3-001", "mech", "3")

	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")
	_, err := env.svc.MarkAttendance(present.ID, sess.ID, markPayload())
	require.NoError(t, err)

	_, err = env.svc.CloseSession(sess.ID, "teacher-1")
	require.NoError(t, err)

	marks, err := env.svc.QueryMarks(&attendance.MarkFilter{SessionID: sess.ID}, nil)
	require.NoError(t, err)
	require.Len(t, marks, 3)

	byStudent := make(map[string]attendance.Mark, len(marks))
	for _, mark := range marks {
		byStudent[mark.StudentID] = mark
	}
	assert.Equal(t, attendance.MarkStatusPresent, byStudent[present.ID].Status)
	assert.Equal(t, attendance.MarkStatusAbsent, byStudent[absent1.ID].Status)
	assert.Equal(t, attendance.MarkStatusAbsent, byStudent[absent2.ID].Status)
	assert.Empty(t, byStudent[absent1.ID].Method)
	assert.NotContains(t, byStudent, other.ID)
}

func TestMarkAttendance(t *testing.T) {
	env := newTestEnv(t)
	std := env.createStudent(t, "cs3-001", "cs", "3")
	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")

	mark, err := env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
	require.NoError(t, err)
	assert.Equal(t, attendance.MarkStatusPresent, mark.Status)
	assert.Equal(t, attendance.MethodFace, mark.Method)
	assert.Equal(t, "0.97", mark.Confidence)
	assert.Equal(t, sess.ID, mark.SessionID)

	// one mark per student per session
	_, err = env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
	assert.Equal(t, attendance.ErrMarkExists, err)
}

func TestMarkAttendanceConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	std := env.createStudent(t, "cs3-001", "cs", "3")
	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")

	const attempts = 10
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
		} else {
			assert.Equal(t, attendance.ErrMarkExists, err)
		}
	}
	assert.Equal(t, 1, succeeded)

	marks, err := env.svc.QueryMarks(&attendance.MarkFilter{SessionID: sess.ID}, nil)
	require.NoError(t, err)
	assert.Len(t, marks, 1)
}

func TestMarkAttendanceRejections(t *testing.T) {
	env := newTestEnv(t)
	std := env.createStudent(t, "cs3-001", "cs", "3")
	outsider := env.createStudent(t, "mech3-001", "mech", "3")
	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")

	closed := env.startSession(t, "Databases", "cs", "3", "teacher-2")
	_, err := env.svc.CloseSession(closed.ID, "teacher-2")
	require.NoError(t, err)

	t.Run("unknown session", func(t *testing.T) {
		_, err := env.svc.MarkAttendance(std.ID, "nope", markPayload())
		assert.Equal(t, attendance.ErrSessionNotActive, err)
	})
	t.Run("closed session", func(t *testing.T) {
		_, err := env.svc.MarkAttendance(std.ID, closed.ID, markPayload())
		assert.Equal(t, attendance.ErrSessionNotActive, err)
	})
	t.Run("class mismatch", func(t *testing.T) {
		_, err := env.svc.MarkAttendance(outsider.ID, sess.ID, markPayload())
		assert.Equal(t, attendance.ErrClassMismatch, err)
	})
	t.Run("unknown student", func(t *testing.T) {
		_, err := env.svc.MarkAttendance("nope", sess.ID, markPayload())
		assert.Equal(t, student.ErrNotFound, errors.Cause(err))
	})

	// no record was written by any rejection
	marks, err := env.svc.QueryMarks(&attendance.MarkFilter{SessionID: sess.ID}, nil)
	require.NoError(t, err)
	assert.Empty(t, marks)
}

func TestMarkAttendanceVerification(t *testing.T) {
	env := newTestEnv(t)
	std := env.createStudent(t, "cs3-001", "cs", "3")
	sess := env.startSession(t, "Algorithms", "cs", "3", "teacher-1")

	t.Run("no match", func(t *testing.T) {
		env.verifier.res = attendance.VerificationResult{Matched: false, Message: "no face detected"}
		_, err := env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
		assert.Equal(t, attendance.ErrVerificationFailed, errors.Cause(err))
		assert.Contains(t, err.Error(), "no face detected")
	})
	t.Run("matched someone else", func(t *testing.T) {
		env.verifier.res = attendance.VerificationResult{Matched: true, StudentID: "somebody-else", Confidence: 0.99}
		_, err := env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
		assert.Equal(t, attendance.ErrVerificationFailed, errors.Cause(err))
	})
	t.Run("timeout", func(t *testing.T) {
		env.conf.Verifier.Timeout = 10 * time.Millisecond
		env.verifier.res = attendance.VerificationResult{Matched: true}
		env.verifier.delay = 200 * time.Millisecond
		_, err := env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
		assert.Equal(t, attendance.ErrVerificationTimeout, err)
		env.verifier.delay = 0
	})

	// student can retry after a failed attempt
	env.verifier.res = attendance.VerificationResult{Matched: true, Confidence: 0.91}
	_, err := env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
	assert.NoError(t, err)
}

// seedClass registers n students in the class and returns them ordered by roll number.
func seedClass(t *testing.T, env *testEnv, department, year string, n int) []student.Student {
	t.Helper()
	students := make([]student.Student, 0, n)
	for i := 1; i <= n; i++ {
		students = append(students, env.createStudent(t, department+year+"-"+strconv.Itoa(i), department, year))
	}
	return students
}
