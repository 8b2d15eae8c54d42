// Package apierr defines the error taxonomy shared by every hub component and
// the JSON envelope it is rendered into at the HTTP boundary.
package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
)

// Code is a stable machine readable error identifier.
type Code string

const (
	CodeAuthRequired          Code = "AUTH_REQUIRED"
	CodeAuthInvalid           Code = "AUTH_INVALID"
	CodeAuthExpired           Code = "AUTH_EXPIRED"
	CodeUnauthorized          Code = "UNAUTHORIZED"
	CodeForbidden             Code = "FORBIDDEN"
	CodeValidation            Code = "VALIDATION"
	CodeNotFound              Code = "NOT_FOUND"
	CodeMethodNotAllowed      Code = "METHOD_NOT_ALLOWED"
	CodeSetupCompleted        Code = "SETUP_COMPLETED"
	CodeBootstrapTokenInvalid Code = "BOOTSTRAP_TOKEN_INVALID"
	CodeRateLimited           Code = "RATE_LIMITED"
	CodeRuntimeNotConfigured  Code = "RUNTIME_NOT_CONFIGURED"
	CodeRuntimeOffline        Code = "RUNTIME_OFFLINE"
	CodeRuntimeMisconfigured  Code = "RUNTIME_MISCONFIGURED"
	CodeRuntimeUpstream       Code = "RUNTIME_UPSTREAM"
	CodeInternal              Code = "INTERNAL"
)

var statusByCode = map[Code]int{
	CodeAuthRequired:          http.StatusUnauthorized,
	CodeAuthInvalid:           http.StatusUnauthorized,
	CodeAuthExpired:           http.StatusUnauthorized,
	CodeUnauthorized:          http.StatusUnauthorized,
	CodeForbidden:             http.StatusForbidden,
	CodeValidation:            http.StatusBadRequest,
	CodeNotFound:              http.StatusNotFound,
	CodeMethodNotAllowed:      http.StatusMethodNotAllowed,
	CodeSetupCompleted:        http.StatusConflict,
	CodeBootstrapTokenInvalid: http.StatusUnauthorized,
	CodeRateLimited:           http.StatusTooManyRequests,
	CodeRuntimeNotConfigured:  http.StatusNotFound,
	CodeRuntimeOffline:        http.StatusServiceUnavailable,
	CodeRuntimeMisconfigured:  http.StatusConflict,
	CodeRuntimeUpstream:       http.StatusBadGateway,
	CodeInternal:              http.StatusInternalServerError,
}

// Status returns the HTTP status associated with the code.
func (c Code) Status() int {
	if s, ok := statusByCode[c]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Error is a typed hub error. Components return it directly so the HTTP layer
// only has to render it.
type Error struct {
	Code      Code
	Message   string
	Retryable bool
	Details   map[string]any
	Cause     string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Status returns the HTTP status for the error.
func (e *Error) Status() int { return e.Code.Status() }

// Option mutates an Error during construction.
type Option func(*Error)

// WithCause records a short machine readable cause tag.
func WithCause(cause string) Option {
	return func(e *Error) { e.Cause = cause }
}

// WithDetails merges structured details into the error.
func WithDetails(details map[string]any) Option {
	return func(e *Error) {
		if len(details) == 0 {
			return
		}
		if e.Details == nil {
			e.Details = make(map[string]any, len(details))
		}
		for k, v := range details {
			e.Details[k] = v
		}
	}
}

// WithRetryable overrides the default retryability of the code.
func WithRetryable(retryable bool) Option {
	return func(e *Error) { e.Retryable = retryable }
}

// WithErr attaches the underlying error for logging. It is never rendered.
func WithErr(err error) Option {
	return func(e *Error) { e.Err = err }
}

// New builds an Error. Retryability defaults to true for RUNTIME_OFFLINE,
// RUNTIME_UPSTREAM and RATE_LIMITED.
func New(code Code, message string, opts ...Option) *Error {
	e := &Error{Code: code, Message: message}
	switch code {
	case CodeRuntimeOffline, CodeRuntimeUpstream, CodeRateLimited:
		e.Retryable = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Validation is shorthand for a VALIDATION error.
func Validation(message, cause string, details map[string]any) *Error {
	return New(CodeValidation, message, WithCause(cause), WithDetails(details))
}

// Internal wraps an unexpected error as INTERNAL.
func Internal(cause string, err error) *Error {
	return New(CodeInternal, "Internal server error.", WithCause(cause), WithErr(err))
}

// Config reports a configuration defect, such as a malformed master key.
func Config(message, configKey string, details map[string]any) *Error {
	d := map[string]any{"config_key": configKey}
	for k, v := range details {
		d[k] = v
	}
	return New(CodeInternal, message, WithCause("config"), WithDetails(d))
}

// From normalizes any error into an *Error. Untyped errors become INTERNAL
// with the Go type name as cause.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	cause := "unknown"
	if t := reflect.TypeOf(err); t != nil {
		cause = t.String()
	}
	return Internal(cause, err)
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
