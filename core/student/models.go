package student

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/mahudhurio/core"
)

// Student is a roster entry: it places a person in a class
// (department, year, division) and carries their roll number.
type Student struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id,omitempty"` // optional link to a portal account
	FullName   string    `json:"full_name"`
	RollNumber string    `json:"roll_number"`
	Department string    `json:"department"`
	Year       string    `json:"year"`
	Division   string    `json:"division,omitempty"`
	CreatedAt  time.Time `json:"created_at"` // UTC
	UpdatedAt  time.Time `json:"updated_at"` // UTC
}

// NewStudent contains information needed to register a roster entry.
type NewStudent struct {
	UserID     string `json:"user_id" validate:"omitempty,uuid4"`
	FullName   string `json:"full_name" validate:"required"`
	RollNumber string `json:"roll_number" validate:"required"`
	Department string `json:"department" validate:"required"`
	Year       string `json:"year" validate:"required"`
	Division   string `json:"division"`
}

func (ns *NewStudent) Validate(validate *validator.Validate, svc ServiceInterface) error {
	ns.FullName = core.CleanString(ns.FullName)
	ns.RollNumber = core.CleanString(ns.RollNumber, true /* lower */)
	ns.Department = core.CleanString(ns.Department, true /* lower */)
	ns.Year = core.CleanString(ns.Year, true /* lower */)
	ns.Division = core.CleanString(ns.Division, true /* lower */)

	if err := validate.Struct(ns); err != nil {
		return err
	}
	return svc.CheckUniqueness(ns.RollNumber)
}

type QueryFilter struct {
	Search     string `query:"search"`
	Department string `query:"department"`
	Year       string `query:"year"`
	Division   string `query:"division"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Department == "" && qf.Year == "" && qf.Division == ""
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Department = core.CleanString(qf.Department, true /* lower */)
	qf.Year = core.CleanString(qf.Year, true /* lower */)
	qf.Division = core.CleanString(qf.Division, true /* lower */)
}

// GetFilter looks a single Student up by one of its unique fields.
type GetFilter struct {
	ID         string
	UserID     string
	RollNumber string
}
