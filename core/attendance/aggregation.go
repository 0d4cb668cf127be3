package attendance

import (
	"context"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/student"
)

// roundPct caps a raw percentage at 100 and rounds it to one decimal.
// Percentages are always derived on read, never stored.
func roundPct(present, held int) float64 {
	if held <= 0 {
		return 0
	}
	pct := float64(present) / float64(held) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*10) / 10
}

// ComputePercentage builds the per-student attendance report over the window.
// The denominator is the number of closed sessions held for the student's
// class; when no sessions were held, there is nothing to report against and
// ErrAggregationUnavailable is returned rather than a misleading 0%.
func (svc *service) ComputePercentage(studentID string, w Window) (StudentStats, error) {
	ctx := context.Background()

	std, err := svc.studentSvc.GetByID(studentID)
	if err != nil {
		return StudentStats{}, errors.Wrap(err, "resolving student")
	}

	held, err := svc.repo.CountClosedClassSessions(ctx, std.Department, std.Year, w)
	if err != nil {
		return StudentStats{}, errors.Wrap(err, "counting held sessions")
	}
	if held == 0 {
		return StudentStats{}, ErrAggregationUnavailable
	}

	marks, err := svc.repo.QueryMarks(ctx, &MarkFilter{
		StudentID: std.ID,
		Status:    MarkStatusPresent,
		From:      w.From,
		To:        w.To,
	}, []core.DBOrdering{{Field: "created_at", Ascending: true}})
	if err != nil {
		return StudentStats{}, errors.Wrap(err, "querying marks")
	}

	sessions, err := svc.repo.QuerySessions(ctx, &SessionFilter{
		Department:  std.Department,
		Year:        std.Year,
		StartedFrom: w.From,
		StartedTo:   w.To,
	}, nil)
	if err != nil {
		return StudentStats{}, errors.Wrap(err, "querying sessions")
	}
	subjects := make(map[string]string, len(sessions)) // session ID -> subject
	for _, sess := range sessions {
		subjects[sess.ID] = sess.Subject
	}

	stats := StudentStats{
		StudentID:    std.ID,
		FullName:     std.FullName,
		RollNumber:   std.RollNumber,
		Department:   std.Department,
		Year:         std.Year,
		Division:     std.Division,
		PresentCount: len(marks),
		SessionCount: held,
		Percentage:   roundPct(len(marks), held),
	}

	perSubject := make(map[string]int)
	for _, mark := range marks {
		subject, ok := subjects[mark.SessionID]
		if !ok {
			continue
		}
		perSubject[subject]++
		if stats.LastMarked == nil || mark.CreatedAt.After(stats.LastMarked.MarkedAt) {
			stats.LastMarked = &LastMarked{
				Subject:   subject,
				MarkedAt:  mark.CreatedAt,
				SessionID: mark.SessionID,
			}
		}
	}
	stats.SubjectStats = make([]SubjectStat, 0, len(perSubject))
	for subject, count := range perSubject {
		stats.SubjectStats = append(stats.SubjectStats, SubjectStat{Subject: subject, Count: count})
	}
	sort.Slice(stats.SubjectStats, func(i, j int) bool {
		return stats.SubjectStats[i].Subject < stats.SubjectStats[j].Subject
	})
	return stats, nil
}

// ListDefaulters returns every roster student whose attendance percentage over
// the window falls strictly below the threshold, lowest percentage first.
// Students of classes that held no sessions are skipped, not flagged.
func (svc *service) ListDefaulters(w Window, threshold float64) ([]DefaulterView, error) {
	ctx := context.Background()

	students, err := svc.studentSvc.Query(&student.QueryFilter{}, []core.DBOrdering{{Field: "roll_number", Ascending: true}})
	if err != nil {
		return nil, errors.Wrap(err, "querying roster")
	}

	type class struct{ department, year string }
	heldByClass := make(map[class]int)

	defaulters := make([]DefaulterView, 0)
	for _, std := range students {
		cls := class{std.Department, std.Year}
		held, ok := heldByClass[cls]
		if !ok {
			if held, err = svc.repo.CountClosedClassSessions(ctx, cls.department, cls.year, w); err != nil {
				return nil, errors.Wrapf(err, "counting held sessions for %s/%s", cls.department, cls.year)
			}
			heldByClass[cls] = held
		}
		if held == 0 {
			continue
		}

		present, err := svc.repo.CountPresent(ctx, std.ID, w)
		if err != nil {
			return nil, errors.Wrapf(err, "counting presences for student %s", std.ID)
		}
		pct := roundPct(present, held)
		if pct >= threshold {
			continue
		}
		defaulters = append(defaulters, DefaulterView{
			StudentID:    std.ID,
			FullName:     std.FullName,
			RollNumber:   std.RollNumber,
			PresentCount: present,
			SessionCount: held,
			Percentage:   pct,
		})
	}

	sort.Slice(defaulters, func(i, j int) bool {
		if defaulters[i].Percentage != defaulters[j].Percentage {
			return defaulters[i].Percentage < defaulters[j].Percentage
		}
		return defaulters[i].StudentID < defaulters[j].StudentID
	})
	return defaulters, nil
}

// TeacherStats summarizes a teacher's sessions over the window.
// AveragePercentage averages per-session turnout (present over class
// strength) of the teacher's closed sessions.
func (svc *service) TeacherStats(teacherID string, w Window) (TeacherStats, error) {
	ctx := context.Background()

	sessions, err := svc.repo.QuerySessions(ctx, &SessionFilter{
		TeacherID:   teacherID,
		StartedFrom: w.From,
		StartedTo:   w.To,
	}, []core.DBOrdering{{Field: "started_at", Ascending: false}})
	if err != nil {
		return TeacherStats{}, errors.Wrap(err, "querying sessions")
	}

	stats := TeacherStats{TeacherID: teacherID}
	today := Today()
	var pctSum float64
	var pctCount int
	for _, sess := range sessions {
		if today.Contains(sess.StartedAt) {
			stats.SessionsToday++
		}
		if sess.Status != SessionStatusClosed {
			continue
		}
		stats.ClosedSessions++

		strength, err := svc.studentSvc.ClassStrength(sess.Department, sess.Year)
		if err != nil {
			return TeacherStats{}, errors.Wrap(err, "counting class strength")
		}
		if strength == 0 {
			continue
		}
		present, err := svc.repo.CountSessionPresent(ctx, sess.ID)
		if err != nil {
			return TeacherStats{}, errors.Wrapf(err, "counting presences for session %s", sess.ID)
		}
		pctSum += roundPct(present, strength)
		pctCount++
	}
	if pctCount > 0 {
		stats.AveragePercentage = math.Round(pctSum/float64(pctCount)*10) / 10
	}
	return stats, nil
}

// DashboardStats summarizes the current UTC day for the admin overview.
func (svc *service) DashboardStats() (DashboardStats, error) {
	ctx := context.Background()
	today := Today()

	students, err := svc.studentSvc.Query(&student.QueryFilter{}, nil)
	if err != nil {
		return DashboardStats{}, errors.Wrap(err, "querying roster")
	}

	presentToday, err := svc.repo.CountPresentStudents(ctx, today)
	if err != nil {
		return DashboardStats{}, errors.Wrap(err, "counting present students")
	}

	sessions, err := svc.repo.QuerySessions(ctx, &SessionFilter{
		StartedFrom: today.From,
		StartedTo:   today.To,
	}, nil)
	if err != nil {
		return DashboardStats{}, errors.Wrap(err, "querying sessions")
	}

	stats := DashboardStats{
		TotalStudents: len(students),
		PresentToday:  presentToday,
		SessionsToday: len(sessions),
	}
	if len(sessions) > 0 && stats.TotalStudents > presentToday {
		stats.AbsentToday = stats.TotalStudents - presentToday
	}
	return stats, nil
}
