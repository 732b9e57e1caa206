package types

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Request is one submission to the valuation pipeline. It is immutable once
// accepted: the executor copies it by value and never hands out pointers.
type Request struct {
	// SubjectKey identifies what is being analysed, e.g. a ticker "ACME" or "AAPL.US".
	SubjectKey string `json:"subject_key" validate:"required,max=64"`
	// Scope is the as-of date or reporting period, e.g. "2024-Q4".
	Scope string `json:"scope" validate:"required,max=64"`
	// SessionID keys checkpoints; resubmitting the same session resumes it.
	SessionID string `json:"session_id" validate:"required,max=128"`
}

var (
	requestValidate     *validator.Validate
	requestValidateOnce sync.Once
)

func requestValidator() *validator.Validate {
	requestValidateOnce.Do(func() {
		requestValidate = validator.New(validator.WithRequiredStructEnabled())
	})
	return requestValidate
}

// Normalize trims whitespace and upper-cases the subject key.
func (r Request) Normalize() Request {
	return Request{
		SubjectKey: strings.ToUpper(strings.TrimSpace(r.SubjectKey)),
		Scope:      strings.TrimSpace(r.Scope),
		SessionID:  strings.TrimSpace(r.SessionID),
	}
}

// Validate rejects malformed requests. The returned error is always an
// *Error with code ErrInvalidRequest.
func (r Request) Validate() error {
	if err := requestValidator().Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			parts := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				parts = append(parts, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
			}
			return NewError(ErrInvalidRequest, "malformed request: "+strings.Join(parts, ", ")).
				WithHTTPStatus(400)
		}
		return NewError(ErrInvalidRequest, "malformed request").WithCause(err).WithHTTPStatus(400)
	}
	return nil
}

// String is used as a log/trace label.
func (r Request) String() string {
	return r.SubjectKey + "/" + r.Scope + "#" + r.SessionID
}
