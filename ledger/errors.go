/*
errors.go - Centralized error types for the ledger package

PURPOSE:
  All ledger-level error types in one place. Domain packages wrap these with
  account/cycle context.

ERROR CATEGORIES:
  1. Movement errors - invalid amounts, overdrawn source buckets
  2. Journal errors  - idempotency violations, persistence failures

USAGE:
  if errors.Is(err, ledger.ErrInsufficientSource) {
      // the move would overdraw the source bucket
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
	// ErrNegativeAmount is returned when a movement amount is negative.
	// Direction is expressed by choosing from/to, never by sign.
	ErrNegativeAmount = errors.New("negative movement amount")

	// ErrInsufficientSource is returned when a move would overdraw its
	// source bucket. Transitions only ever move what a bucket holds.
	ErrInsufficientSource = errors.New("insufficient source balance")

	// ErrDuplicateIdempotencyKey is returned when a journal entry with the
	// same idempotency key was already recorded. Expected on retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrJournalFailed is returned when an entry cannot be persisted.
	ErrJournalFailed = errors.New("journal append failed")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// MoveError reports a failed movement with both endpoints.
type MoveError struct {
	From      Address
	To        Address
	Requested string
	Available string
	Err       error
}

func (e *MoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: requested %s, available %s: %v",
		e.From, e.To, e.Requested, e.Available, e.Err)
}

func (e *MoveError) Unwrap() error { return e.Err }
