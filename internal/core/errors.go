package core

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"
)

// ErrorKind classifies a gateway failure.
type ErrorKind string

const (
	ErrorKindRateLimit         ErrorKind = "RATE_LIMIT"
	ErrorKindUpstream          ErrorKind = "UPSTREAM_ERROR"
	ErrorKindTransport         ErrorKind = "TRANSPORT_ERROR"
	ErrorKindNoCredential      ErrorKind = "NO_CREDENTIAL"
	ErrorKindDuplicateContent  ErrorKind = "DUPLICATE_CONTENT"
	ErrorKindUploadPhaseFailed ErrorKind = "UPLOAD_PHASE_FAILED"
	ErrorKindInvalidInput      ErrorKind = "INVALID_INPUT"
)

// UploadPhase names a step of the large-media upload protocol.
type UploadPhase string

const (
	UploadPhaseStart    UploadPhase = "start"
	UploadPhaseTransfer UploadPhase = "transfer"
	UploadPhaseFinish   UploadPhase = "finish"
)

// Error is the structured failure returned by every gateway operation.
type Error struct {
	Kind       ErrorKind      `json:"kind"`
	StatusCode int            `json:"status"`
	Message    string         `json:"message,omitempty"`
	RetryAfter time.Duration  `json:"-"`
	Body       map[string]any `json:"upstream,omitempty"`
	Phase      UploadPhase    `json:"phase,omitempty"`
	Code       string         `json:"code,omitempty"`
	Err        error          `json:"-"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := string(e.Kind)
	if e.Code != "" {
		msg += " " + e.Code
	}
	if e.Phase != "" {
		msg += fmt.Sprintf(" (phase %s)", e.Phase)
	}
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" status=%d", e.StatusCode)
	}
	if e.Kind == ErrorKindRateLimit {
		msg += fmt.Sprintf(" retry_after=%ds", e.RetryAfterSeconds())
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// RetryAfterSeconds rounds the retry hint up to whole seconds.
func (e *Error) RetryAfterSeconds() int {
	if e == nil || e.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(e.RetryAfter.Seconds()))
}

// Details returns the fields a caller needs to decide on a retry.
func (e *Error) Details() map[string]any {
	if e == nil {
		return nil
	}
	details := map[string]any{"status": e.StatusCode}
	if e.Kind == ErrorKindRateLimit {
		details["retry_after"] = e.RetryAfterSeconds()
	}
	if e.Body != nil {
		details["upstream"] = e.Body
	}
	if e.Phase != "" {
		details["phase"] = string(e.Phase)
	}
	if e.Code != "" {
		details["code"] = e.Code
	}
	return details
}

// AsError extracts a gateway error from err.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// IsKind reports whether err is a gateway error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	gwErr, ok := AsError(err)
	return ok && gwErr.Kind == kind
}

func NewRateLimitError(retryAfter time.Duration) *Error {
	return &Error{
		Kind:       ErrorKindRateLimit,
		StatusCode: http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}
}

func NewUpstreamError(status int, body map[string]any) *Error {
	return &Error{Kind: ErrorKindUpstream, StatusCode: status, Body: body}
}

func NewTransportError(err error) *Error {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &Error{
		Kind:       ErrorKindTransport,
		StatusCode: http.StatusInternalServerError,
		Message:    msg,
		Err:        err,
	}
}

func NewNoCredentialError(resourceID string, err error) *Error {
	return &Error{
		Kind:       ErrorKindNoCredential,
		StatusCode: http.StatusForbidden,
		Message:    fmt.Sprintf("no credential for %s", resourceID),
		Err:        err,
	}
}

func NewDuplicateContentError(kind string) *Error {
	return &Error{
		Kind:       ErrorKindDuplicateContent,
		StatusCode: http.StatusTooManyRequests,
		Message:    fmt.Sprintf("identical %s submitted recently", kind),
	}
}

func NewInvalidInputError(message string) *Error {
	return &Error{Kind: ErrorKindInvalidInput, StatusCode: http.StatusBadRequest, Message: message}
}

// NewUploadPhaseError tags a large-media failure with its phase. The cause, when it is
// itself a gateway error, donates status and upstream body.
func NewUploadPhaseError(phase UploadPhase, code string, cause error) *Error {
	out := &Error{
		Kind:       ErrorKindUploadPhaseFailed,
		StatusCode: http.StatusBadGateway,
		Phase:      phase,
		Code:       code,
		Err:        cause,
	}
	if gwErr, ok := AsError(cause); ok {
		out.StatusCode = gwErr.StatusCode
		out.Body = gwErr.Body
		out.RetryAfter = gwErr.RetryAfter
		out.Message = gwErr.Message
	} else if cause != nil {
		out.Message = cause.Error()
	}
	return out
}
