// internal/apperr/errors.go
package apperr

import (
	"errors"
	"fmt"
)

// Kind sentinels. Every *Error unwraps to exactly one of these so callers
// can branch with errors.Is without knowing the concrete code.
var (
	// ErrNotFound indicates the requested job, district, or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the caller supplied bad input
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates the operation collides with in-flight state
	ErrConflict = errors.New("conflict")

	// ErrUnavailable indicates an infrastructure dependency failed
	ErrUnavailable = errors.New("unavailable")
)

// Code identifies a failure class surfaced to callers.
type Code string

const (
	CodeValidation            Code = "validation"
	CodeNotFound              Code = "not_found"
	CodeExtractionFailure     Code = "extraction_failure"
	CodeApplyConflict         Code = "apply_conflict"
	CodeNormalizationConflict Code = "normalization_conflict"
	CodeStorage               Code = "storage"
	CodeQueue                 Code = "queue"
)

// Error is a classified engine error.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.kind()}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func (e *Error) kind() error {
	switch e.Code {
	case CodeValidation:
		return ErrInvalidInput
	case CodeNotFound:
		return ErrNotFound
	case CodeApplyConflict, CodeNormalizationConflict:
		return ErrConflict
	case CodeStorage, CodeQueue:
		return ErrUnavailable
	}
	return errUnclassified
}

var errUnclassified = errors.New("unclassified")

func newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Validation reports bad caller input.
func Validation(format string, args ...any) error {
	return newf(CodeValidation, format, args...)
}

// NotFound reports a missing entity.
func NotFound(format string, args ...any) error {
	return newf(CodeNotFound, format, args...)
}

// ApplyConflict reports a job that cannot be applied or a locked district.
func ApplyConflict(format string, args ...any) error {
	return newf(CodeApplyConflict, format, args...)
}

// NormalizationConflict reports that a normalization run is already in flight.
func NormalizationConflict(format string, args ...any) error {
	return newf(CodeNormalizationConflict, format, args...)
}

// ExtractionFailure reports that every extraction strategy came back empty.
func ExtractionFailure(format string, args ...any) error {
	return newf(CodeExtractionFailure, format, args...)
}

// Storage wraps a keyed-store or blob-store failure.
func Storage(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	e := newf(CodeStorage, format, args...)
	e.Err = err
	return e
}

// Queue wraps a task-queue failure.
func Queue(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	e := newf(CodeQueue, format, args...)
	e.Err = err
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
