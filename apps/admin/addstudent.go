package main

import (
	"context"
	"time"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/student"
	"github.com/trezcool/mahudhurio/core/user"
)

type newEnrollment struct {
	username   string
	email      string
	password   string
	fullName   string
	rollNumber string
	department string
	year       string
	division   string
}

// addStudent enrolls a student: the portal account plus the roster record the
// attendance engine reconciles absences against.
func (cli *commandLine) addStudent(e newEnrollment) error {
	ctx := context.Background()
	now := time.Now().UTC()

	uname := core.CleanString(e.username, true /* lower */)
	email := core.CleanString(e.email, true /* lower */)
	roll := core.CleanString(e.rollNumber, true /* lower */)

	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: []string{uname, email}})
	if err != nil {
		if err != user.ErrNotFound {
			return err
		}
		usr = user.User{
			Name:      core.CleanString(e.fullName),
			Username:  uname,
			Email:     email,
			CreatedAt: now,
			UpdatedAt: now,
		}
	}
	usr.Roles = user.StudentRoles
	usr.SetActive(true)
	if err := usr.SetPassword(e.password); err != nil {
		return err
	}
	if usr, err = cli.usrRepo.UpdateOrCreateUser(ctx, usr); err != nil {
		return err
	}

	std, err := cli.stdRepo.GetStudent(ctx, student.GetFilter{RollNumber: roll})
	if err != nil {
		if err != student.ErrNotFound {
			return err
		}
		_, err = cli.stdRepo.CreateStudent(ctx, student.Student{
			UserID:     usr.ID,
			FullName:   core.CleanString(e.fullName),
			RollNumber: roll,
			Department: core.CleanString(e.department, true /* lower */),
			Year:       core.CleanString(e.year, true /* lower */),
			Division:   core.CleanString(e.division, true /* lower */),
			CreatedAt:  now,
			UpdatedAt:  now,
		})
		return err
	}

	// re-enrollment: move the roster record to the (possibly new) account
	std.UserID = usr.ID
	std.FullName = core.CleanString(e.fullName)
	std.Department = core.CleanString(e.department, true /* lower */)
	std.Year = core.CleanString(e.year, true /* lower */)
	std.Division = core.CleanString(e.division, true /* lower */)
	std.UpdatedAt = now
	_, err = cli.stdRepo.UpdateStudent(ctx, std)
	return err
}
