package models

import "fmt"

// ErrorCode classifies every failure that can cross a component boundary.
type ErrorCode string

const (
	CodeNotFound   = ErrorCode("not_found")
	CodeConflict   = ErrorCode("conflict")
	CodeValidation = ErrorCode("validation_error")
	CodeUnknown    = ErrorCode("unknown_error")
)

// An Error carries a taxonomy code and whether a later attempt could succeed.
// Retryability is stated explicitly rather than inferred from the error's
// concrete type; the executor uses it to choose between acknowledge and
// release.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewNotFound(format string, args ...interface{}) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

func NewConflict(format string, args ...interface{}) *Error {
	return &Error{Code: CodeConflict, Message: fmt.Sprintf(format, args...)}
}

func NewValidation(format string, args ...interface{}) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// NewUnknown wraps an infrastructure failure (network, storage, serialization).
// These are always retryable; a job that keeps hitting them is eventually
// dead-lettered by the delivery counter.
func NewUnknown(err error) *Error {
	return &Error{Code: CodeUnknown, Message: err.Error(), Retryable: true}
}

// Classify returns err as a taxonomy *Error, translating anything unfamiliar
// into an unknown/retryable error.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if terr, ok := err.(*Error); ok {
		return terr
	}
	return NewUnknown(err)
}
