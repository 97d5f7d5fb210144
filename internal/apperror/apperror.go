package apperror

import (
	"errors"
	"fmt"
)

// Sentinel errors for the referral and session engine.
//
// The first group are NORMAL OUTCOMES: the service layer returns them as
// structured results and handlers translate them into {success:false,
// reason} responses, not HTTP faults. Callers are expected to branch on
// them with errors.Is.
//
// ErrStoreTx is different — it means the underlying store transaction
// aborted. It is surfaced as a hard failure of the whole operation and is
// never retried by the engine itself (the caller may retry; attach stays
// idempotent under retry).
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrSelfReferral    = errors.New("self referral")
	ErrAlreadyReferred = errors.New("already referred")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrConflict        = errors.New("conflict")
	ErrStoreTx         = errors.New("store transaction failure")
)

type AppError struct {
	Err     error  // sentinel, reachable via errors.Is
	Message string // human-readable reason string
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

// NotFoundMsg is like NotFound but with a caller-supplied message. Used
// where the reason string is part of the client contract (e.g. "Invalid
// referral code") rather than a generic lookup failure.
func NotFoundMsg(message string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: message,
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// SelfReferral is returned when a user tries to attach to their own
// referral code. The message matches what the mobile client displays.
func SelfReferral() *AppError {
	return &AppError{
		Err:     ErrSelfReferral,
		Message: "Cannot use your own referral code",
	}
}

// AlreadyReferred is returned when the caller's referredBy field is
// already set. Attach is one-shot; retries after a success land here.
func AlreadyReferred(code string) *AppError {
	return &AppError{
		Err:     ErrAlreadyReferred,
		Message: fmt.Sprintf("already referred by %s", code),
	}
}

// Unauthenticated is returned when an operation requires a verified
// caller identity and none was supplied.
func Unauthenticated() *AppError {
	return &AppError{
		Err:     ErrUnauthenticated,
		Message: "User must be authenticated",
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// StoreTx wraps a failed store transaction. The cause is folded into the
// message for logs; errors.Is still matches ErrStoreTx.
func StoreTx(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStoreTx,
		Message: fmt.Sprintf("store transaction failed during %s: %v", op, cause),
	}
}
