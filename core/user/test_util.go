package user

import (
	"github.com/trezcool/mahudhurio/core"
)

type serviceMock struct {
	service
}

// NewServiceMock returns a ServiceInterface whose password reset mail is sent
// synchronously so tests can assert on the outbox.
func NewServiceMock(repo Repository, mailSvc core.EmailService, conf *core.Config) ServiceInterface {
	return &serviceMock{
		service: service{
			repo:    repo,
			mailSvc: mailSvc,
			conf:    conf,
		},
	}
}

func (svc *serviceMock) RequestPasswordReset(email string) error {
	usr, err := svc.GetByEmail(email)
	if err != nil {
		return err
	}
	// run synchronously
	svc.sendPasswordResetMail(usr)
	return nil
}
