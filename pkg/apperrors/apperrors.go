// Package apperrors defines the error kinds shared across services so that
// HTTP handlers can map failures to stable machine-checkable responses.
package apperrors

import "errors"

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation indicates the request was rejected before any state change.
	ErrValidation = errors.New("validation failed")

	// ErrConflict indicates a state-guarded update found the record had
	// already moved on (double claim, re-settlement of a non-pending payout).
	// Callers must not retry blindly.
	ErrConflict = errors.New("conflicting state transition")

	// ErrForbidden indicates the actor is not allowed to act on the resource.
	ErrForbidden = errors.New("forbidden")

	// ErrNotEligible indicates a payout request failed eligibility checks.
	// It is always wrapped with the full issue list.
	ErrNotEligible = errors.New("not eligible for payout")
)

// Validation wraps a reason into a validation error.
func Validation(reason string) error {
	return errors.Join(ErrValidation, errors.New(reason))
}

// Conflict wraps a reason into a conflict error.
func Conflict(reason string) error {
	return errors.Join(ErrConflict, errors.New(reason))
}
