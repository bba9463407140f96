/*
errors.go - Centralized error types for the engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Two families never mix:

  1. Rule violations (*RuleError) - a business rule denied the operation.
     They carry a stable machine code and are surfaced to callers verbatim.
  2. Infrastructure failures - anything else (store unavailable, bad SQL).
     They are wrapped with %w and surface as internal errors.

USAGE:
  Domain packages declare their rule codes once and return them:

    if used >= limit {
        return ErrLimitReached.WithDetails(map[string]any{"usedCount": used})
    }

  Callers branch on the family, not on strings:

    if re, ok := generic.AsRuleError(err); ok { ... }

SEE ALSO:
  - saga.go: SagaError wraps the failing step's error
  - statemachine.go: TransitionError
  - api/handlers.go: Maps Kind to HTTP status
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned by stores when a tenant-scoped row does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict is returned when a write violates a uniqueness constraint.
	ErrConflict = errors.New("conflicting write")

	// ErrInvalidTransition is returned when a state change is not in the
	// transition table, or the row is no longer in the expected state.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrCompensationFailed marks a saga whose rollback did not complete.
	// Manual reconciliation is required.
	ErrCompensationFailed = errors.New("saga compensation failed")
)

// =============================================================================
// RULE ERRORS - Business-rule denials with a stable code
// =============================================================================

// Kind classifies a rule violation independently of any transport.
type Kind int

const (
	KindInvalid   Kind = iota // malformed or disallowed input
	KindForbidden             // caller may not perform this
	KindNotFound              // target does not exist for caller
	KindConflict              // state already changed
)

func (k Kind) String() string {
	switch k {
	case KindForbidden:
		return "forbidden"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "invalid"
	}
}

// RuleError is a business-rule violation.
type RuleError struct {
	Code    string
	Kind    Kind
	Message string
	Details map[string]any
}

// NewRuleError declares a rule violation template.
func NewRuleError(code string, kind Kind, message string) *RuleError {
	return &RuleError{Code: code, Kind: kind, Message: message}
}

func (e *RuleError) Error() string {
	return e.Code + ": " + e.Message
}

// Is matches any RuleError with the same code, so declared templates work
// with errors.Is after WithDetails/WithMessage copies.
func (e *RuleError) Is(target error) bool {
	t, ok := target.(*RuleError)
	return ok && t.Code == e.Code
}

// WithDetails returns a copy carrying details.
func (e *RuleError) WithDetails(details map[string]any) *RuleError {
	cp := *e
	cp.Details = details
	return &cp
}

// WithMessage returns a copy with a different message.
func (e *RuleError) WithMessage(format string, args ...any) *RuleError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// TransitionError describes a rejected state change.
type TransitionError struct {
	Machine string
	From    string
	To      string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: cannot transition from %q to %q", e.Machine, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// AsRuleError extracts the rule violation from err, if any.
func AsRuleError(err error) (*RuleError, bool) {
	var re *RuleError
	if errors.As(err, &re) {
		return re, true
	}
	return nil, false
}

// IsRuleViolation returns true if err is (or wraps) a *RuleError.
func IsRuleViolation(err error) bool {
	_, ok := AsRuleError(err)
	return ok
}

// HasCode returns true if err is a rule violation with the given code.
func HasCode(err error, code string) bool {
	re, ok := AsRuleError(err)
	return ok && re.Code == code
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is due to the caller rather than
// the infrastructure.
func IsClientError(err error) bool {
	return IsRuleViolation(err) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotFound)
}
