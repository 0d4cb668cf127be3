package attendance

import (
	"context"
	"io"
)

type (
	// VerificationPayload carries the captured image a student submits to
	// prove their identity.
	VerificationPayload struct {
		Method   string // MethodFace | MethodIDCard
		Image    io.Reader
		Filename string
	}

	// VerificationResult is the external verifier's decision. The core only
	// depends on this pass/fail + confidence contract, not on any specific
	// recognition algorithm.
	VerificationResult struct {
		Matched    bool    `json:"matched"`
		StudentID  string  `json:"student_id"`
		Confidence float64 `json:"confidence"`
		Message    string  `json:"message"`
	}

	// Verifier is the external face/ID-card recognition collaborator.
	// Implementations must honour ctx cancellation; the marking engine
	// bounds every call with a deadline.
	Verifier interface {
		Verify(ctx context.Context, method, studentID string, image io.Reader, filename string) (VerificationResult, error)
	}
)
