package attendance_test

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/student"
)

// holdSessions runs n full session cycles for the class; markPresent says
// which students mark themselves in each cycle.
func holdSessions(t *testing.T, env *testEnv, department, year string, n int, markPresent func(i int) []student.Student) []attendance.Session {
	t.Helper()
	sessions := make([]attendance.Session, 0, n)
	for i := 0; i < n; i++ {
		sess := env.startSession(t, "Subject "+strconv.Itoa(i+1), department, year, "teacher-1")
		for _, std := range markPresent(i) {
			_, err := env.svc.MarkAttendance(std.ID, sess.ID, markPayload())
			require.NoError(t, err)
		}
		sess, err := env.svc.CloseSession(sess.ID, "teacher-1")
		require.NoError(t, err)
		sessions = append(sessions, sess)
	}
	return sessions
}

func TestComputePercentage(t *testing.T) {
	env := newTestEnv(t)
	students := seedClass(t, env, "cs", "3", 2)
	std, classmate := students[0], students[1]

	// std attends 3 of 5, the classmate all 5
	holdSessions(t, env, "cs", "3", 5, func(i int) []student.Student {
		if i < 3 {
			return []student.Student{std, classmate}
		}
		return []student.Student{classmate}
	})

	stats, err := env.svc.ComputePercentage(std.ID, attendance.Window{})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.PresentCount)
	assert.Equal(t, 5, stats.SessionCount)
	assert.Equal(t, 60.0, stats.Percentage)
	assert.Equal(t, std.RollNumber, stats.RollNumber)
	require.NotNil(t, stats.LastMarked)
	assert.Equal(t, "Subject 3", stats.LastMarked.Subject)
	require.Len(t, stats.SubjectStats, 3)
	assert.Equal(t, attendance.SubjectStat{Subject: "Subject 1", Count: 1}, stats.SubjectStats[0])

	stats, err = env.svc.ComputePercentage(classmate.ID, attendance.Window{})
	require.NoError(t, err)
	assert.Equal(t, 100.0, stats.Percentage)
}

func TestComputePercentageNoSessionsHeld(t *testing.T) {
	env := newTestEnv(t)
	std := env.createStudent(t, "cs3-001", "cs", "3")

	_, err := env.svc.ComputePercentage(std.ID, attendance.Window{})
	assert.Equal(t, attendance.ErrAggregationUnavailable, err)
}

func TestComputePercentageWindow(t *testing.T) {
	env := newTestEnv(t)
	students := seedClass(t, env, "cs", "3", 1)
	std := students[0]

	holdSessions(t, env, "cs", "3", 2, func(i int) []student.Student {
		if i == 0 {
			return []student.Student{std}
		}
		return nil
	})

	// a window in the future sees no sessions
	w := attendance.Window{From: time.Now().UTC().Add(time.Hour)}
	_, err := env.svc.ComputePercentage(std.ID, w)
	assert.Equal(t, attendance.ErrAggregationUnavailable, err)

	stats, err := env.svc.ComputePercentage(std.ID, attendance.Window{})
	require.NoError(t, err)
	assert.Equal(t, 50.0, stats.Percentage)
}

func TestListDefaulters(t *testing.T) {
	env := newTestEnv(t)
	students := seedClass(t, env, "cs", "3", 3)
	low, borderline, regular := students[0], students[1], students[2]
	idle := env.createStudent(t, "mech3-001", "mech", "3") // class held no sessions

	// low: 2/5 (40%), borderline: 3/5 (60%), regular: 4/5 (80%)
	holdSessions(t, env, "cs", "3", 5, func(i int) []student.Student {
		var present []student.Student
		if i < 2 {
			present = append(present, low)
		}
		if i < 3 {
			present = append(present, borderline)
		}
		if i < 4 {
			present = append(present, regular)
		}
		return present
	})

	defaulters, err := env.svc.ListDefaulters(attendance.Window{}, 75)
	require.NoError(t, err)
	require.Len(t, defaulters, 2)

	// lowest percentage first
	assert.Equal(t, low.ID, defaulters[0].StudentID)
	assert.Equal(t, 40.0, defaulters[0].Percentage)
	assert.Equal(t, 2, defaulters[0].PresentCount)
	assert.Equal(t, 5, defaulters[0].SessionCount)
	assert.Equal(t, borderline.ID, defaulters[1].StudentID)
	assert.Equal(t, 60.0, defaulters[1].Percentage)

	for _, d := range defaulters {
		assert.NotEqual(t, idle.ID, d.StudentID)
	}

	// exactly at the threshold is not a defaulter
	defaulters, err = env.svc.ListDefaulters(attendance.Window{}, 60)
	require.NoError(t, err)
	require.Len(t, defaulters, 1)
	assert.Equal(t, low.ID, defaulters[0].StudentID)
}

func TestTeacherStats(t *testing.T) {
	env := newTestEnv(t)
	students := seedClass(t, env, "cs", "3", 2)

	// two closed sessions today: full house, then half
	holdSessions(t, env, "cs", "3", 2, func(i int) []student.Student {
		if i == 0 {
			return students
		}
		return students[:1]
	})
	env.startSession(t, "Ongoing", "cs", "3", "teacher-1")

	stats, err := env.svc.TeacherStats("teacher-1", attendance.Window{})
	require.NoError(t, err)
	assert.Equal(t, "teacher-1", stats.TeacherID)
	assert.Equal(t, 3, stats.SessionsToday)
	assert.Equal(t, 2, stats.ClosedSessions)
	assert.Equal(t, 75.0, stats.AveragePercentage) // (100 + 50) / 2

	stats, err = env.svc.TeacherStats("teacher-2", attendance.Window{})
	require.NoError(t, err)
	assert.Zero(t, stats.SessionsToday)
	assert.Zero(t, stats.AveragePercentage)
}

func TestDashboardStats(t *testing.T) {
	env := newTestEnv(t)

	stats, err := env.svc.DashboardStats()
	require.NoError(t, err)
	assert.Equal(t, attendance.DashboardStats{}, stats)

	students := seedClass(t, env, "cs", "3", 3)
	holdSessions(t, env, "cs", "3", 1, func(int) []student.Student {
		return students[:2]
	})
	env.startSession(t, "Ongoing", "cs", "3", "teacher-1")

	stats, err = env.svc.DashboardStats()
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalStudents)
	assert.Equal(t, 2, stats.PresentToday)
	assert.Equal(t, 1, stats.AbsentToday)
	assert.Equal(t, 2, stats.SessionsToday)
}
