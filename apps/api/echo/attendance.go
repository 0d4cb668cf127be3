package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
	"github.com/trezcool/mahudhurio/core/student"
	"github.com/trezcool/mahudhurio/core/user"
)

type (
	attendanceDeps struct {
		conf       *core.Config
		svc        attendance.ServiceInterface
		studentSvc student.ServiceInterface
		userSvc    user.ServiceInterface
		validate   *validator.Validate
	}

	attendanceApi struct {
		attendanceDeps
	}
)

func registerAttendanceAPI(g *echo.Group, jwt echo.MiddlewareFunc, deps attendanceDeps) {
	api := attendanceApi{attendanceDeps: deps}

	// session lifecycle
	sg := g.Group("/sessions", jwt)
	sg.POST("", api.startSession, teacherMiddleware())
	sg.GET("", api.querySessions, teacherMiddleware())
	sg.GET("/active", api.activeSessions)
	sg.GET("/:id", api.retrieveSession)
	sg.POST("/:id/close", api.closeSession, teacherMiddleware())

	// marking
	mg := g.Group("/attendance", jwt)
	mg.POST("/mark", api.mark, studentMiddleware())
	mg.GET("", api.queryMarks)

	// reports
	rg := g.Group("/reports", jwt)
	rg.GET("/defaulters", api.defaulters, teacherMiddleware())
	rg.GET("/student-stats", api.studentStats)
	rg.GET("/teacher-stats", api.teacherStats, teacherMiddleware())
	rg.GET("/dashboard-stats", api.dashboardStats, adminMiddleware())
}

// Handlers

func (api *attendanceApi) startSession(ctx echo.Context) error {
	var data attendance.NewSession
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewSession")
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	data.TeacherID = claims.Subject

	if err := data.Validate(api.validate); err != nil {
		return err
	}

	sess, err := api.svc.StartSession(data)
	if err != nil {
		if errors.Cause(err) == attendance.ErrSessionExists {
			return err
		}
		return errors.Wrap(err, "starting session")
	}
	return ctx.JSON(http.StatusCreated, sess)
}

// activeSessions is what student clients poll; any authenticated user may look.
func (api *attendanceApi) activeSessions(ctx echo.Context) error {
	department := ctx.QueryParam("department")
	year := ctx.QueryParam("year")

	sessions, err := api.svc.ActiveSessions(department, year)
	if err != nil {
		return errors.Wrap(err, "querying active sessions")
	}
	if sessions == nil {
		sessions = []attendance.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *attendanceApi) querySessions(ctx echo.Context) error {
	filter := new(attendance.SessionFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []attendance.Session{})
	}
	filter.Clean()

	// teachers only see their own sessions
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	if !claims.IsAdmin {
		filter.TeacherID = claims.Subject
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)

	sessions, err := api.svc.QuerySessions(filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying sessions")
	}
	if sessions == nil {
		sessions = []attendance.Session{}
	}
	return ctx.JSON(http.StatusOK, sessions)
}

func (api *attendanceApi) retrieveSession(ctx echo.Context) error {
	sess, err := api.svc.GetSession(ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == attendance.ErrSessionNotFound {
			return err
		}
		return errors.Wrap(err, "getting session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) closeSession(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	sess, err := api.svc.GetSession(ctx.Param("id"))
	if err != nil {
		if errors.Cause(err) == attendance.ErrSessionNotFound {
			return err
		}
		return errors.Wrap(err, "getting session")
	}
	// only the owning teacher (or an admin) may close
	if !claims.IsAdmin && sess.TeacherID != claims.Subject {
		return errHttpForbidden
	}

	sess, err = api.svc.CloseSession(sess.ID, claims.Subject)
	if err != nil {
		if errors.Cause(err) == attendance.ErrSessionNotActive {
			return err
		}
		return errors.Wrap(err, "closing session")
	}
	return ctx.JSON(http.StatusOK, sess)
}

func (api *attendanceApi) mark(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	std, err := api.studentSvc.GetByUserID(claims.Subject)
	if err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return err
		}
		return errors.Wrap(err, "resolving student")
	}

	data := MarkRequest{
		SessionID: ctx.FormValue("session_id"),
		Method:    core.CleanString(ctx.FormValue("method"), true /* lower */),
	}
	if data.Method == "" {
		data.Method = attendance.MethodFace
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	fileHdr, err := ctx.FormFile("image")
	if err != nil {
		return core.NewValidationError(nil, core.FieldError{Field: "image", Error: "a capture image is required"})
	}
	file, err := fileHdr.Open()
	if err != nil {
		return errors.Wrap(err, "opening capture")
	}
	defer func() { _ = file.Close() }()

	mark, err := api.svc.MarkAttendance(std.ID, data.SessionID, attendance.VerificationPayload{
		Method:   data.Method,
		Image:    file,
		Filename: fileHdr.Filename,
	})
	if err != nil {
		switch errors.Cause(err) {
		case attendance.ErrSessionNotActive, attendance.ErrMarkExists, attendance.ErrClassMismatch,
			attendance.ErrVerificationFailed, attendance.ErrVerificationTimeout:
			return err
		}
		return errors.Wrap(err, "marking attendance")
	}
	return ctx.JSON(http.StatusOK, mark)
}

func (api *attendanceApi) queryMarks(ctx echo.Context) error {
	filter := new(attendance.MarkFilter)
	if err := ctx.Bind(filter); err != nil {
		return ctx.JSON(http.StatusOK, []attendance.Mark{})
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}
	// students only see their own marks
	if claims.IsStudent {
		std, err := api.studentSvc.GetByUserID(claims.Subject)
		if err != nil {
			if errors.Cause(err) == student.ErrNotFound {
				return err
			}
			return errors.Wrap(err, "resolving student")
		}
		filter.StudentID = std.ID
	}

	ordering := new(Ordering)
	ordering.Bind(ctx)

	marks, err := api.svc.QueryMarks(filter, ordering.Orderings)
	if err != nil {
		return errors.Wrap(err, "querying marks")
	}
	if marks == nil {
		marks = []attendance.Mark{}
	}
	return ctx.JSON(http.StatusOK, marks)
}

func (api *attendanceApi) defaulters(ctx echo.Context) error {
	window := new(attendance.Window)
	if err := ctx.Bind(window); err != nil {
		return core.NewValidationError(errors.New("invalid reporting window"))
	}

	threshold := api.conf.Reports.DefaulterThreshold
	if raw := ctx.QueryParam("threshold"); raw != "" {
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil || parsed < 0 || parsed > 100 {
			return core.NewValidationError(nil, core.FieldError{Field: "threshold", Error: "must be a number between 0 and 100"})
		}
		threshold = parsed
	}

	defaulters, err := api.svc.ListDefaulters(*window, threshold)
	if err != nil {
		return errors.Wrap(err, "listing defaulters")
	}
	return ctx.JSON(http.StatusOK, DefaultersResponse{
		Threshold:  threshold,
		Count:      len(defaulters),
		Defaulters: defaulters,
	})
}

func (api *attendanceApi) studentStats(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var studentID string
	if claims.IsStudent {
		// students only see their own stats
		std, err := api.studentSvc.GetByUserID(claims.Subject)
		if err != nil {
			if errors.Cause(err) == student.ErrNotFound {
				return err
			}
			return errors.Wrap(err, "resolving student")
		}
		studentID = std.ID
	} else {
		studentID = ctx.QueryParam("student_id")
		if studentID == "" {
			return core.NewValidationError(nil, core.FieldError{Field: "student_id", Error: "this field is required"})
		}
	}

	window := new(attendance.Window)
	if err := ctx.Bind(window); err != nil {
		return core.NewValidationError(errors.New("invalid reporting window"))
	}

	stats, err := api.svc.ComputePercentage(studentID, *window)
	if err != nil {
		switch errors.Cause(err) {
		case student.ErrNotFound, attendance.ErrAggregationUnavailable:
			return err
		}
		return errors.Wrap(err, "computing student stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *attendanceApi) teacherStats(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	teacherID := claims.Subject
	if claims.IsAdmin {
		if id := ctx.QueryParam("teacher_id"); id != "" {
			teacherID = id
		}
	}

	window := new(attendance.Window)
	if err := ctx.Bind(window); err != nil {
		return core.NewValidationError(errors.New("invalid reporting window"))
	}

	stats, err := api.svc.TeacherStats(teacherID, *window)
	if err != nil {
		return errors.Wrap(err, "computing teacher stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

func (api *attendanceApi) dashboardStats(ctx echo.Context) error {
	stats, err := api.svc.DashboardStats()
	if err != nil {
		return errors.Wrap(err, "computing dashboard stats")
	}
	return ctx.JSON(http.StatusOK, stats)
}

type (
	MarkRequest struct {
		SessionID string `json:"session_id" validate:"required"`
		Method    string `json:"method" validate:"required,oneof=face idcard"`
	}

	DefaultersResponse struct {
		Threshold  float64                    `json:"threshold"`
		Count      int                        `json:"count"`
		Defaulters []attendance.DefaulterView `json:"defaulters"`
	}
)

func (mr *MarkRequest) Validate(validate *validator.Validate) error {
	mr.SessionID = core.CleanString(mr.SessionID)
	return validate.Struct(mr)
}
