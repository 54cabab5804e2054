package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateCode              = errors.New("duplicate code")
	ErrNotFound                   = errors.New("not found")
	ErrInvalidInput               = errors.New("invalid input")
	ErrIncompleteCase             = errors.New("incomplete case")
	ErrGuardFailed                = errors.New("guard failed")
	ErrExternalServiceUnavailable = errors.New("external service unavailable")
	ErrAuthFailure                = errors.New("authentication failed")
	ErrInvariant                  = errors.New("invariant violation")
)

// IncompleteCaseError lists the required business-case fields that are still empty.
type IncompleteCaseError struct {
	CaseID  string
	Missing []string
}

func (e *IncompleteCaseError) Error() string {
	return fmt.Sprintf("case %s is incomplete: missing %s", e.CaseID, strings.Join(e.Missing, ", "))
}

func (e *IncompleteCaseError) Unwrap() error { return ErrIncompleteCase }

// GuardError is returned when a stage transition is refused.
// Hint always names what to do next.
type GuardError struct {
	From    string
	To      string
	Reason  string
	Hint    string
	Missing []string
}

func (e *GuardError) Error() string {
	msg := fmt.Sprintf("cannot move %s -> %s: %s", e.From, e.To, e.Reason)
	if len(e.Missing) > 0 {
		msg += " (missing: " + strings.Join(e.Missing, ", ") + ")"
	}
	if e.Hint != "" {
		msg += "; " + e.Hint
	}
	return msg
}

func (e *GuardError) Unwrap() error { return ErrGuardFailed }

// Guard builds a GuardError.
func Guard(from, to, reason, hint string, missing ...string) error {
	return &GuardError{From: from, To: to, Reason: reason, Hint: hint, Missing: missing}
}

// Invalid wraps ErrInvalidInput with a formatted message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
}

// Duplicate wraps ErrDuplicateCode with the colliding identifier.
func Duplicate(kind, id string) error {
	return fmt.Errorf("%s %s: %w", kind, id, ErrDuplicateCode)
}
