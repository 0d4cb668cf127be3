package student

import (
	"context"
	"errors"
	"time"

	"github.com/trezcool/mahudhurio/core"
)

var (
	// errors
	ErrNotFound         = errors.New("student not found")
	ErrRollNumberExists = errors.New("a student with this roll number already exists")
)

type (
	Repository interface {
		CheckRollNumberUniqueness(ctx context.Context, rollNumber string, excludedStudents ...Student) error
		CreateStudent(ctx context.Context, std Student) (Student, error)
		// QueryStudents applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on FullName or RollNumber.
		QueryStudents(ctx context.Context, filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error)
		GetStudent(ctx context.Context, filter GetFilter) (Student, error)
		UpdateStudent(ctx context.Context, std Student) (Student, error)
		CountStudentsByClass(ctx context.Context, department, year string) (int, error)
	}

	ServiceInterface interface {
		CheckUniqueness(rollNumber string, exclStudents ...Student) error
		Create(ns NewStudent) (Student, error)
		Query(filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error)
		GetByID(id string) (Student, error)
		GetByUserID(userID string) (Student, error)
		GetByRollNumber(rollNumber string) (Student, error)
		ClassStrength(department, year string) (int, error)
	}

	service struct {
		repo Repository
	}
)

var _ ServiceInterface = (*service)(nil)

func NewService(repo Repository) *service {
	return &service{repo: repo}
}

func (svc *service) CheckUniqueness(rollNumber string, exclStudents ...Student) error {
	if err := svc.repo.CheckRollNumberUniqueness(context.Background(), rollNumber, exclStudents...); err != nil {
		if err == ErrRollNumberExists {
			return core.NewValidationError(err, core.FieldError{Field: "roll_number", Error: err.Error()})
		}
		return err
	}
	return nil
}

func (svc *service) Create(ns NewStudent) (Student, error) {
	now := time.Now().UTC()
	std := Student{
		UserID:     ns.UserID,
		FullName:   ns.FullName,
		RollNumber: ns.RollNumber,
		Department: ns.Department,
		Year:       ns.Year,
		Division:   ns.Division,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return svc.repo.CreateStudent(context.Background(), std)
}

func (svc *service) Query(filter *QueryFilter, ordering []core.DBOrdering) ([]Student, error) {
	return svc.repo.QueryStudents(context.Background(), filter, ordering)
}

func (svc *service) GetByID(id string) (Student, error) {
	return svc.repo.GetStudent(context.Background(), GetFilter{ID: id})
}

func (svc *service) GetByUserID(userID string) (Student, error) {
	return svc.repo.GetStudent(context.Background(), GetFilter{UserID: userID})
}

func (svc *service) GetByRollNumber(rollNumber string) (Student, error) {
	return svc.repo.GetStudent(context.Background(), GetFilter{RollNumber: core.CleanString(rollNumber, true /* lower */)})
}

func (svc *service) ClassStrength(department, year string) (int, error) {
	return svc.repo.CountStudentsByClass(context.Background(), department, year)
}
