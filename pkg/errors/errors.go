// Package errors provides coded errors for secflow.
// Codes let callers tell a precondition failure from a transfer failure
// without matching on message text.
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Code classifies an error for programmatic handling.
type Code string

const (
	// Caller errors (1xx)
	CodePrecondition Code = "E101"
	CodeConfig       Code = "E102"
	CodeInvalidInput Code = "E103"

	// Retrieval errors (2xx)
	CodeTransfer Code = "E201"
	CodeDecode   Code = "E202"
	CodeStatus   Code = "E203"

	// Cache errors (3xx)
	CodeCacheInconsistent Code = "E301"
	CodeCacheWrite        Code = "E302"

	// Processing errors (4xx)
	CodeFilter Code = "E401"
	CodeExport Code = "E402"

	// Unknown
	CodeUnknown Code = "E999"
)

// Sentinels for errors.Is; any *Error with the same code matches.
var (
	ErrPrecondition = &Error{Code: CodePrecondition, Message: "precondition not met"}
	ErrTransfer     = &Error{Code: CodeTransfer, Message: "transfer failed"}
	ErrConfig       = &Error{Code: CodeConfig, Message: "invalid configuration"}
)

// Error is the base error type for secflow.
type Error struct {
	Code    Code
	Message string
	Cause   error
	Context map[string]interface{}
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		sb.WriteString(" (")
		for i, k := range keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds a key/value pair to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates an Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a code and message. It returns nil when err is nil.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// --- Convenience constructors ---

// Precondition reports an operation invoked before the step it depends on.
func Precondition(operation, requirement string) *Error {
	return New(CodePrecondition, requirement).WithContext("operation", operation)
}

// Transfer reports a failed remote-to-local transfer.
func Transfer(err error, url, path string) *Error {
	return Wrap(err, CodeTransfer, "transfer failed").
		WithContext("url", url).
		WithContext("path", path)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether re-invoking the failed operation may succeed.
func IsRetryable(err error) bool {
	switch GetCode(err) {
	case CodeTransfer, CodeStatus, CodeCacheInconsistent:
		return true
	default:
		return false
	}
}

// Is and As re-export the standard library helpers so callers need one import.
func Is(err, target error) bool { return errors.Is(err, target) }

// As is errors.As.
func As(err error, target interface{}) bool { return errors.As(err, target) }

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (m *MultiError) Unwrap() []error {
	return m.Errors
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
