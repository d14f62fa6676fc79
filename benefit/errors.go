/*
errors.go - Centralized error types for the benefit engine

ERROR CATEGORIES:
  1. Configuration absence (no area, no rules, no match) is NOT an error.
     It is a zero-amount CalculationResult with a reason.
  2. Lifecycle errors: illegal or re-entrant status transitions.
  3. Guard errors: a submission or approval blocked by the cool-down.
  4. Malformed rule configuration: reported per rule, the rule is skipped.
  5. Store errors: propagated unchanged (wrapped), never retried here.

USAGE:
  if errors.Is(err, benefit.ErrIllegalTransition) {
      // map to 409
  }
*/
package benefit

import (
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrProgramNotFound     = errors.New("program not found")
	ErrBeneficiaryNotFound = errors.New("beneficiary not found")
	ErrRequestNotFound     = errors.New("request not found")
	ErrRuleNotFound        = errors.New("rule not found")
	ErrDuplicateRequest    = errors.New("duplicate request id")

	// ErrIllegalTransition is returned for any status change the lifecycle
	// does not permit, including setting a request to its current status.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrNotAllowed is returned when the periodicity guard blocks a
	// submission or an approval.
	ErrNotAllowed = errors.New("benefit not allowed in current period")

	// ErrMalformedRule marks a rule that cannot be evaluated.
	ErrMalformedRule = errors.New("malformed rule configuration")

	// ErrInvalidInput is returned for caller input the engine cannot use.
	ErrInvalidInput = errors.New("invalid input")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// TransitionError describes a rejected status change.
type TransitionError struct {
	RequestID RequestID
	From      Status
	To        Status
	Reentrant bool
}

func (e *TransitionError) Error() string {
	if e.Reentrant {
		return fmt.Sprintf("illegal state transition: request %s is already %s", e.RequestID, e.From)
	}
	return fmt.Sprintf("illegal state transition: %s -> %s (request %s)", e.From, e.To, e.RequestID)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// AllowanceError carries the guard decision that blocked an operation.
type AllowanceError struct {
	BeneficiaryID    BeneficiaryID
	ProgramID        ProgramID
	Reason           string
	NextEligibleDate *time.Time
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf("benefit not allowed for %s in program %s: %s", e.BeneficiaryID, e.ProgramID, e.Reason)
}

func (e *AllowanceError) Unwrap() error { return ErrNotAllowed }

// RuleConfigError reports one malformed field of a rule.
type RuleConfigError struct {
	RuleID  RuleID
	Field   string
	Message string
}

func (e *RuleConfigError) Error() string {
	if e.RuleID == "" {
		return fmt.Sprintf("malformed rule: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("malformed rule %s: %s: %s", e.RuleID, e.Field, e.Message)
}

func (e *RuleConfigError) Unwrap() error { return ErrMalformedRule }

func withRule(err error, id RuleID) error {
	var rce *RuleConfigError
	if errors.As(err, &rce) && rce.RuleID == "" {
		copied := *rce
		copied.RuleID = id
		return &copied
	}
	return err
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProgramNotFound) ||
		errors.Is(err, ErrBeneficiaryNotFound) ||
		errors.Is(err, ErrRequestNotFound) ||
		errors.Is(err, ErrRuleNotFound)
}

// IsClientError returns true if the error is due to caller input or a
// business rule the caller can act on.
func IsClientError(err error) bool {
	return errors.Is(err, ErrIllegalTransition) ||
		errors.Is(err, ErrNotAllowed) ||
		errors.Is(err, ErrMalformedRule) ||
		errors.Is(err, ErrInvalidInput)
}
