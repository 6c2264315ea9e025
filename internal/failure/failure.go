// Package failure defines the typed failures returned by the use-case
// layer. Every failure carries a stable code, a message and the HTTP
// status the API renders it with.
package failure

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable failure identifier.
type Code string

const (
	CodeNotFound           Code = "NOT_FOUND"
	CodeUnauthorized       Code = "UNAUTHORIZED"
	CodeAlreadyPaired      Code = "ALREADY_PAIRED"
	CodeOffline            Code = "OFFLINE"
	CodeOutOfRange         Code = "OUT_OF_RANGE"
	CodeCommunicationError Code = "COMMUNICATION_ERROR"
	CodeConflict           Code = "CONFLICT"
	CodeValidation         Code = "VALIDATION"
	CodeInternal           Code = "INTERNAL"
)

// statusByCode maps each code to its HTTP status.
var statusByCode = map[Code]int{
	CodeNotFound:           http.StatusNotFound,
	CodeUnauthorized:       http.StatusForbidden,
	CodeAlreadyPaired:      http.StatusConflict,
	CodeOffline:            http.StatusConflict,
	CodeOutOfRange:         http.StatusUnprocessableEntity,
	CodeCommunicationError: http.StatusBadGateway,
	CodeConflict:           http.StatusConflict,
	CodeValidation:         http.StatusBadRequest,
	CodeInternal:           http.StatusInternalServerError,
}

// Failure is a typed use-case error.
type Failure struct {
	Code       Code
	Message    string
	HTTPStatus int

	// Err is the underlying cause, if any. It is never shown to clients.
	Err error
}

// Error implements error.
func (f *Failure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("%s: %s: %v", f.Code, f.Message, f.Err)
	}
	return fmt.Sprintf("%s: %s", f.Code, f.Message)
}

// Unwrap returns the cause.
func (f *Failure) Unwrap() error {
	return f.Err
}

// Is matches any Failure with the same code, so
// errors.Is(err, failure.ErrOffline) works regardless of message.
func (f *Failure) Is(target error) bool {
	var t *Failure
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == f.Code
}

// New creates a Failure with the status for code.
func New(code Code, message string) *Failure {
	return &Failure{Code: code, Message: message, HTTPStatus: StatusFor(code)}
}

// Wrap creates a Failure with a cause.
func Wrap(code Code, message string, err error) *Failure {
	f := New(code, message)
	f.Err = err
	return f
}

// StatusFor returns the HTTP status for code, 500 for unknown codes.
func StatusFor(code Code) int {
	if s, ok := statusByCode[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Sentinels for errors.Is checks.
var (
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrUnauthorized       = New(CodeUnauthorized, "not the owner of this resource")
	ErrAlreadyPaired      = New(CodeAlreadyPaired, "device is already paired")
	ErrOffline            = New(CodeOffline, "device is offline")
	ErrOutOfRange         = New(CodeOutOfRange, "value out of range")
	ErrCommunicationError = New(CodeCommunicationError, "could not reach the device broker")
	ErrConflict           = New(CodeConflict, "concurrent modification, retry")
	ErrValidation         = New(CodeValidation, "invalid request")
	ErrInternal           = New(CodeInternal, "internal error")
)

// Convenience constructors used by the services.

func NotFound(message string) *Failure     { return New(CodeNotFound, message) }
func Unauthorized(message string) *Failure { return New(CodeUnauthorized, message) }
func AlreadyPaired(deviceID string) *Failure {
	return New(CodeAlreadyPaired, fmt.Sprintf("device %s is already paired", deviceID))
}
func Offline(deviceID string) *Failure {
	return New(CodeOffline, fmt.Sprintf("device %s is offline", deviceID))
}
func OutOfRange(err error) *Failure { return Wrap(CodeOutOfRange, causeMessage(err), err) }
func Validation(message string, err error) *Failure {
	return Wrap(CodeValidation, message, err)
}
func CommunicationError(err error) *Failure {
	return Wrap(CodeCommunicationError, "command could not be published", err)
}
func Conflict(err error) *Failure { return Wrap(CodeConflict, "concurrent modification, retry", err) }
func Internal(err error) *Failure { return Wrap(CodeInternal, "internal error", err) }

func causeMessage(err error) string {
	if err == nil {
		return "value out of range"
	}
	return err.Error()
}

// As returns err as a *Failure. Errors that are not failures become
// INTERNAL with err as the cause; nil stays nil.
func As(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return Internal(err)
}
