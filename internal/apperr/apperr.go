// ABOUTME: Coded application errors for the chat core
// ABOUTME: Distinguishes validation, not-found, and persistence failures for boundary mapping

package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies an error for boundary handling (HTTP status, relay logging).
type Code string

const (
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeInternal        Code = "INTERNAL"
)

// Error carries a code, a human-readable message, and an optional cause.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Invalid reports a request that fails validation before any store mutation.
func Invalid(format string, args ...any) error {
	return &Error{Code: CodeInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// NotFound reports a referenced conversation or message that does not exist.
func NotFound(format string, args ...any) error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Persistence wraps a storage failure. The cause is preserved for logging.
func Persistence(message string, cause error) error {
	return &Error{Code: CodeInternal, Message: message, Cause: cause}
}

// CodeOf extracts the code from err, defaulting to CodeInternal for
// errors that did not originate in this package.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// HTTPStatus maps an error to the status the HTTP boundary reports.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsInvalid reports whether err carries CodeInvalidArgument.
func IsInvalid(err error) bool {
	return CodeOf(err) == CodeInvalidArgument
}
