package tests

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"testing"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	. "github.com/trezcool/mahudhurio/apps/api/echo"
	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/student"
	"github.com/trezcool/mahudhurio/core/user"
	"github.com/trezcool/mahudhurio/services/email"
	"github.com/trezcool/mahudhurio/services/logger"
	"github.com/trezcool/mahudhurio/storage/database/dummy"
)

var (
	conf       *core.Config
	logger     core.Logger
	validate   *validator.Validate
	translator ut.Translator

	// reset by setup()
	app      Server
	usrRepo  user.Repository
	stdRepo  student.Repository
	attRepo  attendance.Repository
	attSvc   attendance.ServiceInterface
	verifier *verifierStub
)

func TestMain(m *testing.M) {
	conf = core.NewConfig()
	conf.Debug = false
	conf.TestMode = true

	rollLogger := logsvc.NewRollbarLogger(stdlog.New(os.Stdout, "TEST : ", stdlog.LstdFlags|stdlog.Lshortfile), conf)
	rollLogger.Enable(false)
	logger = rollLogger

	validate = validator.New()
	translator = newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)

	core.ParseEmailTemplates(logger)
	user.LoadCommonPasswords(logger)

	os.Exit(m.Run())
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// setup rebuilds the whole app on a fresh in-memory store so each test
// starts from a clean slate.
func setup(t *testing.T) {
	t.Helper()

	db, err := dummydb.Open()
	if err != nil {
		t.Fatalf("dummydb.Open(): %v", err)
	}
	usrRepo = dummydb.NewUserRepository(db)
	stdRepo = dummydb.NewStudentRepository(db)
	attRepo = dummydb.NewAttendanceRepository(db)

	mailSvc := emailsvc.NewConsoleServiceMock()
	usrSvc := user.NewServiceMock(usrRepo, mailSvc, conf)
	stdSvc := student.NewService(stdRepo)
	verifier = &verifierStub{}
	attSvc = attendance.NewService(attRepo, stdSvc, verifier, logger, conf)

	app = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		UserSvc:        usrSvc,
		StudentSvc:     stdSvc,
		AttendanceSvc:  attSvc,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
	})
}

// verifierStub scripts the external verifier's next answer.
type verifierStub struct {
	res attendance.VerificationResult
	err error
}

var _ attendance.Verifier = (*verifierStub)(nil)

func (v *verifierStub) Verify(_ context.Context, _, studentID string, _ io.Reader, _ string) (attendance.VerificationResult, error) {
	if v.err != nil {
		return attendance.VerificationResult{}, v.err
	}
	res := v.res
	if res.StudentID == "" && res.Matched {
		res.StudentID = studentID
	}
	return res, nil
}

// match scripts a successful verification of whoever submits next.
func (v *verifierStub) match() {
	v.res = attendance.VerificationResult{Matched: true, Confidence: 0.97}
	v.err = nil
}
