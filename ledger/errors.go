/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error kinds in one place. Callers branch with errors.Is; structured
  variants carry enough context for a specific user-facing message
  ("not enough hours", "already responded to this request") instead of a
  generic failure.

ERROR CATEGORIES:
  1. Not-found      - unknown profile/session/invitation/skill id
  2. Business rules - insufficient balance, illegal transition, denied gate
  3. Concurrency    - lost a compare-and-swap race
  4. Store          - transient persistence failure (retryable)

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) {
      var detail *ledger.InsufficientBalanceError
      errors.As(err, &detail)
      ...
  }
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrProfileNotFound is returned when a referenced profile doesn't exist.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrSessionNotFound is returned when a referenced session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrInvitationNotFound is returned when a referenced invitation doesn't exist.
	ErrInvitationNotFound = errors.New("invitation not found")

	// ErrSkillNotFound is returned when the provider doesn't offer the
	// requested skill at request time.
	ErrSkillNotFound = errors.New("skill not found on provider")

	// ErrEntryNotFound is returned when a referenced balance entry doesn't
	// exist. Settlement uses this to tell a funded session (debit entry
	// present) from a voided one.
	ErrEntryNotFound = errors.New("balance entry not found")

	// ErrInsufficientBalance is returned when a request exceeds the
	// requester's available hours. Only session creation can fail this way;
	// credits never do.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransition is returned for a wrong actor, a wrong
	// predecessor state, or an already-terminal record.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrConcurrentModification is returned when a conditional write lost
	// its race and bounded re-validation did not resolve it.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDenied is the invitation gate's business outcome: no profile and
	// no pending invitation for the contact. Distinct from store failures.
	ErrDenied = errors.New("access denied")

	// ErrInvalidRequest is returned for malformed input: non-positive
	// duration, identical requester and provider, rating out of range.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrDuplicateRecord is returned when an insert collides with an
	// existing id or unique contact.
	ErrDuplicateRecord = errors.New("duplicate record")

	// ErrStoreUnavailable wraps transient persistence failures. Retryable
	// by the caller; the engine itself never silently retries a write that
	// could double-apply a balance mutation.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage at request time.
type InsufficientBalanceError struct {
	ProfileID ProfileID
	Available Hours
	Requested Hours
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: available %s, requested %s",
		e.ProfileID, e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// TransitionError reports why a session or invitation transition was refused.
type TransitionError struct {
	SessionID SessionID
	From      SessionStatus
	To        SessionStatus
	Actor     ProfileID
	Reason    string
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s on session %s by %s: %s",
		e.From, e.To, e.SessionID, e.Actor, e.Reason)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// StoreError wraps a driver-level failure so callers can both classify it
// (errors.Is(err, ErrStoreUnavailable)) and inspect the cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreUnavailable, e.Err} }

// NewStoreError wraps err as a transient store failure.
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStoreUnavailable)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrSessionNotFound) ||
		errors.Is(err, ErrInvitationNotFound) ||
		errors.Is(err, ErrSkillNotFound) ||
		errors.Is(err, ErrEntryNotFound)
}

// IsClientError returns true if the error is a terminal business outcome
// caused by the caller's input or timing, not a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrDenied) ||
		errors.Is(err, ErrDuplicateRecord)
}
