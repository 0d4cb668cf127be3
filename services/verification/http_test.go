package verifysvc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{}) {}
func (nopLogger) Info(string, ...interface{})  {}
func (nopLogger) Warn(string, ...interface{})  {}
func (nopLogger) Error(string, ...interface{}) {}
func (nopLogger) Fatal(string, ...interface{}) {}

func newVerifier(t *testing.T, handler http.HandlerFunc) *httpVerifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	conf := core.NewConfig()
	conf.Verifier.BaseURL = srv.URL
	return NewHTTPVerifier(conf, nopLogger{})
}

func TestHTTPVerifier(t *testing.T) {
	v := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/verify", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, attendance.MethodFace, r.FormValue("method"))
		assert.Equal(t, "std-1", r.FormValue("student_id"))

		_, hdr, err := r.FormFile("image")
		require.NoError(t, err)
		assert.Equal(t, "selfie.jpg", hdr.Filename)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matched": true, "student_id": "std-1", "confidence": 0.93, "message": "ok"}`))
	})

	res, err := v.Verify(context.Background(), attendance.MethodFace, "std-1", strings.NewReader("img"), "selfie.jpg")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.Equal(t, "std-1", res.StudentID)
	assert.Equal(t, 0.93, res.Confidence)
}

func TestHTTPVerifierNoMatch(t *testing.T) {
	v := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"matched": false, "message": "no face detected"}`))
	})

	res, err := v.Verify(context.Background(), attendance.MethodFace, "std-1", strings.NewReader("img"), "selfie.jpg")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Equal(t, "no face detected", res.Message)
}

func TestHTTPVerifierUnavailable(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		v := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		})
		_, err := v.Verify(context.Background(), attendance.MethodFace, "std-1", strings.NewReader("img"), "selfie.jpg")
		assert.Equal(t, attendance.ErrVerificationTimeout, err)
	})

	t.Run("timeout", func(t *testing.T) {
		v := newVerifier(t, func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		})
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := v.Verify(ctx, attendance.MethodFace, "std-1", strings.NewReader("img"), "selfie.jpg")
		assert.Equal(t, attendance.ErrVerificationTimeout, err)
	})

	t.Run("unreachable", func(t *testing.T) {
		conf := core.NewConfig()
		conf.Verifier.BaseURL = "http://127.0.0.1:1"
		v := NewHTTPVerifier(conf, nopLogger{})
		_, err := v.Verify(context.Background(), attendance.MethodFace, "std-1", strings.NewReader("img"), "selfie.jpg")
		assert.Equal(t, attendance.ErrVerificationTimeout, err)
	})
}
