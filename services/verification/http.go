package verifysvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/mahudhurio/core"
	"github.com/trezcool/mahudhurio/core/attendance"
)

const verifyEndpoint = "/verify"

// httpVerifier talks to the identity verification service (face / ID card
// matching). The service owns the biometric data; we only forward the capture
// and read back the verdict.
type httpVerifier struct {
	baseURL string
	client  *http.Client
	logger  core.Logger
}

var _ attendance.Verifier = (*httpVerifier)(nil)

func NewHTTPVerifier(conf *core.Config, logger core.Logger) *httpVerifier {
	return &httpVerifier{
		baseURL: strings.TrimRight(conf.Verifier.BaseURL, "/"),
		client:  &http.Client{Timeout: conf.Verifier.Timeout},
		logger:  logger,
	}
}

func (v *httpVerifier) Verify(ctx context.Context, method, studentID string, image io.Reader, filename string) (attendance.VerificationResult, error) {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)

	fw, err := w.CreateFormFile("image", filename)
	if err != nil {
		return attendance.VerificationResult{}, errors.Wrap(err, "creating image part")
	}
	if _, err = io.Copy(fw, image); err != nil {
		return attendance.VerificationResult{}, errors.Wrap(err, "copying image")
	}
	_ = w.WriteField("method", method)
	_ = w.WriteField("student_id", studentID)
	if err = w.Close(); err != nil {
		return attendance.VerificationResult{}, errors.Wrap(err, "closing multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+verifyEndpoint, body)
	if err != nil {
		return attendance.VerificationResult{}, errors.Wrap(err, "creating request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := v.client.Do(req)
	if err != nil {
		// a dead verifier and a slow one both read as unavailability
		v.logger.Error(fmt.Sprintf("verification request failed: %v", err), err)
		return attendance.VerificationResult{}, attendance.ErrVerificationTimeout
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusInternalServerError {
		v.logger.Error(fmt.Sprintf("verification service returned %d", res.StatusCode))
		return attendance.VerificationResult{}, attendance.ErrVerificationTimeout
	}

	var result attendance.VerificationResult
	if err = json.NewDecoder(res.Body).Decode(&result); err != nil {
		return attendance.VerificationResult{}, errors.Wrap(err, "decoding verification response")
	}
	return result, nil
}
