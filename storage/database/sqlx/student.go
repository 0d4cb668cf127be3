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
	"github.com/trezcool/mahudhurio/core/student"
)

const studentColumns = "id, user_id, full_name, roll_number, department, year, division, created_at, updated_at"

type studentRow struct {
	ID         string      `db:"id"`
	UserID     null.String `db:"user_id"`
	FullName   string      `db:"full_name"`
	RollNumber string      `db:"roll_number"`
	Department string      `db:"department"`
	Year       string      `db:"year"`
	Division   string      `db:"division"`
	CreatedAt  time.Time   `db:"created_at"`
	UpdatedAt  time.Time   `db:"updated_at"`
}

func (row studentRow) toStudent() student.Student {
	return student.Student{
		ID:         row.ID,
		UserID:     row.UserID.String,
		FullName:   row.FullName,
		RollNumber: row.RollNumber,
		Department: row.Department,
		Year:       row.Year,
		Division:   row.Division,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
}

type studentRepository struct {
	db *sqlx.DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *sql.DB, conf *core.Config) student.Repository {
	return &studentRepository{db: sqlx.NewDb(db, conf.Database.Engine)}
}

func (repo *studentRepository) CheckRollNumberUniqueness(ctx context.Context, rollNumber string, excludedStudents ...student.Student) error {
	qb := psql.Select("COUNT(*)").From("students").Where(sq.Eq{"roll_number": rollNumber})
	if len(excludedStudents) > 0 {
		ids := make([]string, 0, len(excludedStudents))
		for _, std := range excludedStudents {
			ids = append(ids, std.ID)
		}
		qb = qb.Where(sq.NotEq{"id": ids})
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return errors.Wrap(err, "building query")
	}

	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return errors.Wrap(err, "checking uniqueness")
	}
	if count > 0 {
		return student.ErrRollNumberExists
	}
	return nil
}

func (repo *studentRepository) CreateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	std.ID = uuid.New().String()

	query, args, err := psql.Insert("students").
		Columns("id", "user_id", "full_name", "roll_number", "department", "year", "division", "created_at", "updated_at").
		Values(std.ID, null.NewString(std.UserID, std.UserID != ""), std.FullName, std.RollNumber, std.Department, std.Year, std.Division, std.CreatedAt, std.UpdatedAt).
		ToSql()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "building query")
	}

	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		if violatesUnique(err, "students_roll_number_key") {
			return student.Student{}, student.ErrRollNumberExists
		}
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return std, nil
}

func (repo *studentRepository) QueryStudents(ctx context.Context, filter *student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	qb := psql.Select(studentColumns).From("students")
	if filter != nil {
		if filter.Search != "" {
			search := "%" + filter.Search + "%"
			qb = qb.Where(sq.Or{
				sq.ILike{"full_name": search},
				sq.ILike{"roll_number": search},
			})
		}
		if filter.Department != "" {
			qb = qb.Where(sq.Eq{"department": filter.Department})
		}
		if filter.Year != "" {
			qb = qb.Where(sq.Eq{"year": filter.Year})
		}
		if filter.Division != "" {
			qb = qb.Where(sq.Eq{"division": filter.Division})
		}
	}
	if len(ordering) > 0 {
		qb = qb.OrderBy(orderClauses(ordering)...)
	} else {
		qb = qb.OrderBy("roll_number ASC")
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "building query")
	}

	var rows []studentRow
	if err = repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toStudent())
	}
	return students, nil
}

func (repo *studentRepository) GetStudent(ctx context.Context, filter student.GetFilter) (student.Student, error) {
	qb := psql.Select(studentColumns).From("students")
	switch {
	case filter.ID != "":
		qb = qb.Where(sq.Eq{"id": filter.ID})
	case filter.UserID != "":
		qb = qb.Where(sq.Eq{"user_id": filter.UserID})
	case filter.RollNumber != "":
		qb = qb.Where(sq.Eq{"roll_number": filter.RollNumber})
	default:
		return student.Student{}, student.ErrNotFound
	}
	query, args, err := qb.ToSql()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "building query")
	}

	var row studentRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return student.Student{}, student.ErrNotFound
		}
		return student.Student{}, errors.Wrap(err, "getting student")
	}
	return row.toStudent(), nil
}

// UpdateStudent only saves set fields.
func (repo *studentRepository) UpdateStudent(ctx context.Context, std student.Student) (student.Student, error) {
	qb := psql.Update("students").Where(sq.Eq{"id": std.ID}).Set("updated_at", std.UpdatedAt)
	if std.FullName != "" {
		qb = qb.Set("full_name", std.FullName)
	}
	if std.RollNumber != "" {
		qb = qb.Set("roll_number", std.RollNumber)
	}
	if std.Department != "" {
		qb = qb.Set("department", std.Department)
	}
	if std.Year != "" {
		qb = qb.Set("year", std.Year)
	}
	if std.Division != "" {
		qb = qb.Set("division", std.Division)
	}
	if std.UserID != "" {
		qb = qb.Set("user_id", std.UserID)
	}
	query, args, err := qb.Suffix("RETURNING " + studentColumns).ToSql()
	if err != nil {
		return student.Student{}, errors.Wrap(err, "building query")
	}

	var row studentRow
	if err = repo.db.GetContext(ctx, &row, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return student.Student{}, student.ErrNotFound
		}
		if violatesUnique(err, "students_roll_number_key") {
			return student.Student{}, student.ErrRollNumberExists
		}
		return student.Student{}, errors.Wrap(err, "updating student")
	}
	return row.toStudent(), nil
}

func (repo *studentRepository) CountStudentsByClass(ctx context.Context, department, year string) (int, error) {
	query, args, err := psql.Select("COUNT(*)").
		From("students").
		Where(sq.Eq{"department": department, "year": year}).
		ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "building query")
	}

	var count int
	if err = repo.db.GetContext(ctx, &count, query, args...); err != nil {
		return 0, errors.Wrap(err, "counting students")
	}
	return count, nil
}
