package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors covering every rejection the loan engine can produce.
var (
	ErrNotFound         = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrQuotaExceeded    = New("QUOTA_EXCEEDED", http.StatusConflict, "teacher reached max concurrent loans")
	ErrNoAvailability   = New("NO_AVAILABILITY", http.StatusConflict, "journal has no available copies")
	ErrAlreadyReturned  = New("ALREADY_RETURNED", http.StatusConflict, "loan already returned")
	ErrInvalidDateOrder = New("INVALID_DATE_ORDER", http.StatusBadRequest, "dates out of order")
	ErrDuplicateID      = New("DUPLICATE_ID", http.StatusConflict, "identifier already exists")
	ErrValidation       = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrTransient        = New("TRANSIENT_FAILURE", http.StatusServiceUnavailable, "storage contention, retry")
	ErrConflict         = New("CONFLICT", http.StatusConflict, "conflict")
	ErrInternal         = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
	ErrCacheMiss        = New("CACHE_MISS", http.StatusNotFound, "cache miss")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// IsTransient reports whether the error is a retryable storage failure.
func IsTransient(err error) bool {
	e := FromError(err)
	return e != nil && e.Code == ErrTransient.Code
}
