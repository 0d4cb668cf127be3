package dummydb

import (
	"sync"

	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/student"
	"github.com/trezcool/mahudhurio/core/user"
)

// DB is an in-memory store used in tests and local DEV. It enforces the same
// uniqueness guarantees as the SQL store so service-level behavior matches.
type (
	DB struct {
		user    *userTable
		student *studentTable
		session *sessionTable
		mark    *markTable
	}

	userTable struct {
		sync.RWMutex
		table map[string]*user.User
	}

	studentTable struct {
		sync.RWMutex
		table map[string]*student.Student
	}

	sessionTable struct {
		sync.RWMutex
		table map[string]*attendance.Session
	}

	markTable struct {
		sync.RWMutex
		table map[string]*attendance.Mark
	}
)

func Open() (*DB, error) {
	db := &DB{
		user:    &userTable{table: make(map[string]*user.User)},
		student: &studentTable{table: make(map[string]*student.Student)},
		session: &sessionTable{table: make(map[string]*attendance.Session)},
		mark:    &markTable{table: make(map[string]*attendance.Mark)},
	}
	return db, nil
}
