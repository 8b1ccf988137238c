package boards

import (
	"errors"
	"fmt"
)

// Code classifies a failure in the terms clients see.
type Code string

const (
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeForbidden       Code = "FORBIDDEN"
	CodeNotFound        Code = "NOT_FOUND"
	CodeConflict        Code = "CONFLICT"
	CodeValidation      Code = "VALIDATION"
	CodeDuplicate       Code = "DUPLICATE"
	CodeInternal        Code = "INTERNAL"
)

// Error is a client-classifiable failure. Cause is kept for logs and never
// rendered to clients.
type Error struct {
	code    Code
	message string
	cause   error
}

// NewError builds an Error with the given classification.
func NewError(code Code, message string, cause error) *Error {
	return &Error{code: code, message: message, cause: cause}
}

func (e *Error) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("%s: %s", e.code, e.message)
	}
	return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Code returns the classification.
func (e *Error) Code() Code {
	return e.code
}

// Message returns the client-safe description.
func (e *Error) Message() string {
	return e.message
}

// CodeOf extracts the classification of err, treating unknown failures as internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var classified *Error
	if errors.As(err, &classified) {
		return classified.code
	}
	return CodeInternal
}

// MessageOf returns a client-safe description of err.
func MessageOf(err error) string {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.message
	}
	return "internal error"
}

// IsCode reports whether err is classified with code.
func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func notFound(what string) *Error {
	return NewError(CodeNotFound, what+" not found", nil)
}
