package domain

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes scheduling failures surfaced to callers.
type ErrorCode string

const (
	// ErrCodeInvalidTransition indicates a lifecycle rule was violated.
	ErrCodeInvalidTransition ErrorCode = "INVALID_TRANSITION"

	// ErrCodeAlreadyScheduled indicates the case already has a live schedule.
	ErrCodeAlreadyScheduled ErrorCode = "ALREADY_SCHEDULED"

	// ErrCodeNoActiveSchedule indicates the case has no live schedule.
	ErrCodeNoActiveSchedule ErrorCode = "NO_ACTIVE_SCHEDULE"

	// ErrCodeScopeMismatch indicates a reorder list is not a permutation of the scope.
	ErrCodeScopeMismatch ErrorCode = "SCOPE_MISMATCH"

	// ErrCodeNotFound indicates a referenced entity is absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeRemoteFailure indicates the remote authority rejected or never answered.
	ErrCodeRemoteFailure ErrorCode = "REMOTE_FAILURE"
)

// Error is the typed failure returned by the lifecycle machine, the ordering
// engine and the command layer. None of these are fatal; a failed command has
// already restored the entity store when the error reaches the caller.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Kind and ID identify the entity the failure is about, when known.
	Kind EntityKind
	ID   string

	// Err is the underlying cause (remote failures, timeouts).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.ID != "" {
		msg = fmt.Sprintf("%s (%s=%s)", msg, e.Kind, e.ID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error { return e.Err }

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// IsInvalidTransition reports whether err is an INVALID_TRANSITION failure.
func IsInvalidTransition(err error) bool { return CodeOf(err) == ErrCodeInvalidTransition }

// IsAlreadyScheduled reports whether err is an ALREADY_SCHEDULED failure.
func IsAlreadyScheduled(err error) bool { return CodeOf(err) == ErrCodeAlreadyScheduled }

// IsNoActiveSchedule reports whether err is a NO_ACTIVE_SCHEDULE failure.
func IsNoActiveSchedule(err error) bool { return CodeOf(err) == ErrCodeNoActiveSchedule }

// IsScopeMismatch reports whether err is a SCOPE_MISMATCH failure.
func IsScopeMismatch(err error) bool { return CodeOf(err) == ErrCodeScopeMismatch }

// IsNotFound reports whether err is a NOT_FOUND failure.
func IsNotFound(err error) bool { return CodeOf(err) == ErrCodeNotFound }

// IsRemoteFailure reports whether err is a REMOTE_FAILURE.
func IsRemoteFailure(err error) bool { return CodeOf(err) == ErrCodeRemoteFailure }

// NewInvalidTransition creates an INVALID_TRANSITION error for a case.
func NewInvalidTransition(caseID string, from, to CaseStatus) *Error {
	return &Error{
		Code:    ErrCodeInvalidTransition,
		Message: fmt.Sprintf("cannot move case from %s to %s", from, to),
		Kind:    KindCase,
		ID:      caseID,
	}
}

// NewNotFound creates a NOT_FOUND error.
func NewNotFound(kind EntityKind, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", kind),
		Kind:    kind,
		ID:      id,
	}
}

// NewAlreadyScheduled creates an ALREADY_SCHEDULED error.
func NewAlreadyScheduled(caseID, scheduleID string) *Error {
	return &Error{
		Code:    ErrCodeAlreadyScheduled,
		Message: fmt.Sprintf("case already has live schedule %s", scheduleID),
		Kind:    KindCase,
		ID:      caseID,
	}
}

// NewNoActiveSchedule creates a NO_ACTIVE_SCHEDULE error.
func NewNoActiveSchedule(caseID string) *Error {
	return &Error{
		Code:    ErrCodeNoActiveSchedule,
		Message: "case has no live schedule",
		Kind:    KindCase,
		ID:      caseID,
	}
}

// NewScopeMismatch creates a SCOPE_MISMATCH error for a session scope.
func NewScopeMismatch(sessionID, detail string) *Error {
	return &Error{
		Code:    ErrCodeScopeMismatch,
		Message: detail,
		Kind:    KindSession,
		ID:      sessionID,
	}
}

// NewRemoteFailure wraps a remote authority failure.
func NewRemoteFailure(operation string, err error) *Error {
	return &Error{
		Code:    ErrCodeRemoteFailure,
		Message: fmt.Sprintf("%s failed", operation),
		Err:     err,
	}
}
