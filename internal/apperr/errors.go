package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorType int

const (
	// ErrNotFound covers unknown and expired tokens alike.
	ErrNotFound ErrorType = iota
	ErrConflict
	ErrBusy
	ErrRetryable
	ErrRetryExhausted
	ErrPermanent
	ErrValidation
	ErrInternal
)

type Error struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func New(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func Newf(errorType ErrorType, format string, args ...any) *Error {
	return New(errorType, fmt.Sprintf(format, args...))
}

func Wrap(err error, errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   err,
	}
}

func (e *Error) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type, e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same type, so errors.Is(err, apperr.New(apperr.ErrNotFound, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Type == e.Type
}

func (e *Error) WithContext(key string, value any) *Error {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrNotFound:
		return "NotFound"
	case ErrConflict:
		return "Conflict"
	case ErrBusy:
		return "Busy"
	case ErrRetryable:
		return "Retryable"
	case ErrRetryExhausted:
		return "RetryExhausted"
	case ErrPermanent:
		return "Permanent"
	case ErrValidation:
		return "Validation"
	case ErrInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// TypeOf returns the type of the outermost *Error in the chain, or ErrInternal.
func TypeOf(err error) ErrorType {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrInternal
}
