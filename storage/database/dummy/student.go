package dummydb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/student"
)

type studentRepository struct {
	db *studentTable
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) student.Repository {
	return &studentRepository{db: db.student}
}

func (repo *studentRepository) query() []student.Student {
	students := make([]student.Student, 0, len(repo.db.table))
	for _, std := range repo.db.table {
		students = append(students, *std)
	}
	return students
}

func (repo *studentRepository) CheckRollNumberUniqueness(_ context.Context, rollNumber string, excludedStudents ...student.Student) error {
	repo.db.RLock()
	defer repo.db.RUnlock()

	for _, std := range repo.query() {
		if std.RollNumber != rollNumber {
			continue
		}
		excluded := false
		for _, excl := range excludedStudents {
			if excl.ID == std.ID {
				excluded = true
				break
			}
		}
		if !excluded {
			return student.ErrRollNumberExists
		}
	}
	return nil
}

func (repo *studentRepository) CreateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	if err := repo.CheckRollNumberUniqueness(ctx, std.RollNumber); err != nil {
		return student.Student{}, err
	}

	repo.db.Lock()
	defer repo.db.Unlock()

	std.ID = uuid.New().String()
	repo.db.table[std.ID] = &std
	return std, nil
}

func (repo *studentRepository) QueryStudents(_ context.Context, filter *student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	students := repo.query()
	if filter != nil {
		if filter.Search != "" {
			var filtered []student.Student
			search := strings.ToLower(filter.Search)
			for _, std := range students {
				if strings.Contains(strings.ToLower(std.FullName), search) ||
					strings.Contains(strings.ToLower(std.RollNumber), search) {
					filtered = append(filtered, std)
				}
			}
			students = filtered
		}
		if students != nil && filter.Department != "" {
			var filtered []student.Student
			for _, std := range students {
				if std.Department == filter.Department {
					filtered = append(filtered, std)
				}
			}
			students = filtered
		}
		if students != nil && filter.Year != "" {
			var filtered []student.Student
			for _, std := range students {
				if std.Year == filter.Year {
					filtered = append(filtered, std)
				}
			}
			students = filtered
		}
		if students != nil && filter.Division != "" {
			var filtered []student.Student
			for _, std := range students {
				if std.Division == filter.Division {
					filtered = append(filtered, std)
				}
			}
			students = filtered
		}
	}

	sort.Slice(students, func(i, j int) bool { return students[i].RollNumber < students[j].RollNumber })
	if len(ordering) > 0 && ordering[0].Field == "full_name" {
		sort.Slice(students, func(i, j int) bool {
			if ordering[0].Ascending {
				return students[i].FullName < students[j].FullName
			}
			return students[i].FullName > students[j].FullName
		})
	}
	return students, nil
}

func (repo *studentRepository) GetStudent(_ context.Context, filter student.GetFilter) (student.Student, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if filter.ID != "" {
		if std, ok := repo.db.table[filter.ID]; ok {
			return *std, nil
		}
		return student.Student{}, student.ErrNotFound
	}
	for _, std := range repo.query() {
		switch {
		case filter.UserID != "" && std.UserID == filter.UserID:
			return std, nil
		case filter.RollNumber != "" && std.RollNumber == filter.RollNumber:
			return std, nil
		}
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) UpdateStudent(_ context.Context, std student.Student) (student.Student, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	origStd, ok := repo.db.table[std.ID]
	if !ok {
		return student.Student{}, student.ErrNotFound
	}

	if std.FullName != "" {
		origStd.FullName = std.FullName
	}
	if std.RollNumber != "" {
		origStd.RollNumber = std.RollNumber
	}
	if std.Department != "" {
		origStd.Department = std.Department
	}
	if std.Year != "" {
		origStd.Year = std.Year
	}
	if std.Division != "" {
		origStd.Division = std.Division
	}
	if std.UserID != "" {
		origStd.UserID = std.UserID
	}
	origStd.UpdatedAt = std.UpdatedAt

	repo.db.table[std.ID] = origStd
	return *origStd, nil
}

func (repo *studentRepository) CountStudentsByClass(_ context.Context, department, year string) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var n int
	for _, std := range repo.query() {
		if std.Department == department && std.Year == year {
			n++
		}
	}
	return n, nil
}
