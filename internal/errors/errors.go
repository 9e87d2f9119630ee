package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a Penciled error code.
type ErrorCode string

const (
	ErrValidation   ErrorCode = "VALIDATION"     // 400
	ErrUnauthorized ErrorCode = "UNAUTHORIZED"   // 401
	ErrAuthExpired  ErrorCode = "AUTH_EXPIRED"   // 401
	ErrNotFound     ErrorCode = "NOT_FOUND"      // 404
	ErrSyncConflict ErrorCode = "SYNC_CONFLICT"  // 409
	ErrFileTooLarge ErrorCode = "FILE_TOO_LARGE" // 413
	ErrGuestLimit   ErrorCode = "GUEST_LIMIT"    // 429
	ErrInternal     ErrorCode = "INTERNAL"       // 500
	ErrStageFailed  ErrorCode = "STAGE_FAILED"   // 502
	ErrTimeout      ErrorCode = "TIMEOUT"        // 504
)

// PenciledError represents a structured error with code, status, and details.
type PenciledError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *PenciledError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewValidation creates a 400 error for input rejected before any session exists.
func NewValidation(msg string) *PenciledError {
	return &PenciledError{
		Code:    ErrValidation,
		Status:  400,
		Message: msg,
	}
}

// NewRecordingTooShort creates a 400 error for audio below the minimum usable size.
func NewRecordingTooShort(minBytes, actualBytes int64) *PenciledError {
	return &PenciledError{
		Code:    ErrValidation,
		Status:  400,
		Message: "recording too short; record for at least a second and try again",
		Details: map[string]any{"min_bytes": minBytes, "actual_bytes": actualBytes},
	}
}

// NewFileTooLarge creates a 413 error when an input payload exceeds the size limit.
func NewFileTooLarge(maxBytes, actualBytes int64) *PenciledError {
	return &PenciledError{
		Code:    ErrFileTooLarge,
		Status:  413,
		Message: fmt.Sprintf("input exceeds maximum size: %d bytes (max %d)", actualBytes, maxBytes),
		Details: map[string]any{"max_bytes": maxBytes, "actual_bytes": actualBytes},
	}
}

// NewUnauthorized creates a 401 error for requests without a valid credential.
func NewUnauthorized(msg string) *PenciledError {
	return &PenciledError{
		Code:    ErrUnauthorized,
		Status:  401,
		Message: msg,
	}
}

// NewAuthExpired creates a 401 error for an expired calendar provider credential.
func NewAuthExpired(provider string) *PenciledError {
	return &PenciledError{
		Code:    ErrAuthExpired,
		Status:  401,
		Message: fmt.Sprintf("calendar authorization expired; reconnect provider %q and retry", provider),
		Details: map[string]any{"provider": provider},
	}
}

// NewNotFound creates a 404 error for a missing record.
func NewNotFound(kind, id string) *PenciledError {
	return &PenciledError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", kind, id),
		Details: map[string]any{"kind": kind, "id": id},
	}
}

// NewSyncConflict creates a 409 carrier for a schedule overlap. Conflicts are
// advisory: sync attaches them to results and never fails the push.
func NewSyncConflict(msg string) *PenciledError {
	return &PenciledError{
		Code:    ErrSyncConflict,
		Status:  409,
		Message: msg,
	}
}

// NewGuestLimit creates a 429 error when guest session creation is blocked by
// the trial cap. Raised before any session or pipeline work is allocated.
func NewGuestLimit(limit int) *PenciledError {
	return &PenciledError{
		Code:    ErrGuestLimit,
		Status:  429,
		Message: fmt.Sprintf("guest session limit reached (%d); sign in to keep creating sessions", limit),
		Details: map[string]any{"limit": limit},
	}
}

// NewStageFailed creates a 502 error for an upstream pipeline stage failure.
// The raw upstream error goes to Details for logging and is never surfaced
// in the user-facing message.
func NewStageFailed(stage string, cause error) *PenciledError {
	details := map[string]any{"stage": stage}
	if cause != nil {
		details["internal_error"] = cause.Error()
	}
	return &PenciledError{
		Code:    ErrStageFailed,
		Status:  502,
		Message: fmt.Sprintf("processing failed during %s; resubmit to try again", stage),
		Details: details,
	}
}

// NewTimeout creates a 504 error when a progress bound is exceeded.
func NewTimeout(what string) *PenciledError {
	return &PenciledError{
		Code:    ErrTimeout,
		Status:  504,
		Message: fmt.Sprintf("%s timed out; try again", what),
		Details: map[string]any{"operation": what},
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *PenciledError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &PenciledError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error is a PenciledError with the given code, unwrapping as
// needed.
func Is(err error, code ErrorCode) bool {
	var pErr *PenciledError
	if stderrors.As(err, &pErr) {
		return pErr.Code == code
	}
	return false
}

// From returns the PenciledError inside err, or wraps err as an internal
// error so transports always have a code and status to report.
func From(err error) *PenciledError {
	var pErr *PenciledError
	if stderrors.As(err, &pErr) {
		return pErr
	}
	return NewInternal(err)
}
