// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrAlreadyProcessed = errors.New("already processed")
	ErrExpired          = errors.New("expired")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Concurrency errors
	ErrLocked = errors.New("resource locked")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
)

// Check-in and reconciliation error kinds. Each one carries a stable code
// that is surfaced to API clients.
var (
	// ErrOutsideWindow: check-in attempted outside the lesson admission window.
	ErrOutsideWindow = errors.New("OUTSIDE_WINDOW")

	// ErrDuplicateCheckIn: the (student, lesson) pair already has a record.
	ErrDuplicateCheckIn = errors.New("DUPLICATE_CHECKIN")

	// ErrNotEnrolled: student has no active enrollment for the class group.
	ErrNotEnrolled = errors.New("NOT_ENROLLED")

	// ErrScheduleConflict: a lesson insert collided with an existing row.
	ErrScheduleConflict = errors.New("SCHEDULE_CONFLICT")

	// ErrFanoutPartialFailure: the check-in committed but a secondary update failed.
	ErrFanoutPartialFailure = errors.New("FANOUT_PARTIAL_FAILURE")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "schedule", "attendance", "gamification"
	Op      string // Operation that failed, e.g., "CheckIn", "Reconcile"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Schedule domain errors
var (
	ErrClassGroupNotFound  = NewDomainError("schedule", "FindClassGroup", ErrNotFound, "class group not found")
	ErrLessonNotFound      = NewDomainError("schedule", "FindLesson", ErrNotFound, "lesson not found")
	ErrInvalidTimeOfDay    = NewDomainError("schedule", "ParseTime", ErrInvalidFormat, "time of day must be HH:MM")
	ErrLessonConflict      = NewDomainError("schedule", "InsertLesson", ErrScheduleConflict, "lesson already exists for class group")
	ErrReconcileInProgress = NewDomainError("schedule", "Reconcile", ErrLocked, "reconciliation already running for class group")
)

// Attendance domain errors
var (
	ErrCheckInNotFound = NewDomainError("attendance", "Find", ErrNotFound, "check-in not found")
	ErrLessonCancelled = NewDomainError("attendance", "CheckIn", ErrInvalidState, "lesson is cancelled")
	ErrInvalidQRToken  = NewDomainError("attendance", "VerifyQR", ErrForbidden, "invalid QR token")
	ErrExpiredQRToken  = NewDomainError("attendance", "VerifyQR", ErrExpired, "QR token expired")
)

// Progress domain errors
var (
	ErrCourseNotFound = NewDomainError("progress", "FindCourse", ErrNotFound, "course not found")
)

// Gamification domain errors
var (
	ErrGameStateNotFound = NewDomainError("gamification", "Find", ErrNotFound, "game state not found")
	ErrLedgerMismatch    = NewDomainError("gamification", "Verify", ErrInvalidState, "points ledger does not match total XP")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrInvalidFormat)
}

// ErrorCode returns the stable code reported to clients for err.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrOutsideWindow):
		return "OUTSIDE_WINDOW"
	case errors.Is(err, ErrDuplicateCheckIn):
		return "DUPLICATE_CHECKIN"
	case errors.Is(err, ErrNotEnrolled):
		return "NOT_ENROLLED"
	case errors.Is(err, ErrScheduleConflict):
		return "SCHEDULE_CONFLICT"
	case errors.Is(err, ErrFanoutPartialFailure):
		return "FANOUT_PARTIAL_FAILURE"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrLocked):
		return "LOCKED"
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrExpired):
		return "FORBIDDEN"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE"
	case IsValidation(err):
		return "VALIDATION_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}
