// Package errors provides coded application errors so that transport layers
// can map failures to status codes without string matching.
package errors

import (
	"errors"
	"fmt"
)

// ErrCode classifies an application error.
type ErrCode string

const (
	ErrCodeInvalidInput ErrCode = "INVALID_INPUT"
	ErrCodeNotFound     ErrCode = "NOT_FOUND"
	ErrCodeConflict     ErrCode = "CONFLICT"
	ErrCodeUnauthorized ErrCode = "UNAUTHORIZED"
	ErrCodeInternal     ErrCode = "INTERNAL"
)

// Error is an application error with a code and an end-user message.
type Error struct {
	Code    ErrCode
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates an error with a code and message.
func New(code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap annotates an underlying error with a code and message.
func Wrap(err error, code ErrCode, message string) *Error {
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", resource, id)}
}

// InvalidInput reports a rejected request field.
func InvalidInput(field, reason string) *Error {
	return &Error{Code: ErrCodeInvalidInput, Message: fmt.Sprintf("%s: %s", field, reason)}
}

// CodeOf extracts the ErrCode from err, or ErrCodeInternal for plain errors.
func CodeOf(err error) ErrCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// MessageOf extracts the user-facing message from err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}
