/*
errors.go - Domain error types for the card package

PURPOSE:
  The error taxonomy of the billing engine:
  1. Configuration errors - missing/invalid rate for an active balance.
     Fatal for that account's cycle; never swallowed, never best-effort.
  2. Ordering errors - a scheduled event fired out of order (PDD before its
     SCOD, a second cut-off for an open cycle). Rejected outright: silently
     reordering risks double-aging or skipped billing, so these require
     operator intervention.

  Allocation shortfalls are NOT errors; a repayment smaller than any bucket
  simply allocates partially.
*/
package card

import (
	"errors"
	"fmt"
	"time"

	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingRate is returned when a non-zero interest-bearing balance
	// has no usable rate configuration. The accrual handler aborts for the
	// whole account-day rather than silently skipping the balance.
	ErrMissingRate = errors.New("missing rate configuration for active balance")

	// ErrOutOfOrder is returned when a scheduled event fires against a cycle
	// state that cannot accept it.
	ErrOutOfOrder = errors.New("scheduled event out of order")

	// ErrAccountExists is returned when opening an account id twice.
	ErrAccountExists = errors.New("account already exists")

	// ErrAccountNotFound is returned for an unknown account id.
	ErrAccountNotFound = errors.New("account not found")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ConfigError reports unusable configuration discovered while a handler was
// running against a live balance.
type ConfigError struct {
	Account         AccountID
	TransactionType ledger.TransactionType
	Reference       string
	Detail          string
}

func (e *ConfigError) Error() string {
	if e.Reference != "" {
		return fmt.Sprintf("account %s: %s/%s: %s", e.Account, e.TransactionType, e.Reference, e.Detail)
	}
	return fmt.Sprintf("account %s: %s: %s", e.Account, e.TransactionType, e.Detail)
}

func (e *ConfigError) Unwrap() error { return ErrMissingRate }

// OrderingError reports an event scheduled against the wrong cycle state.
type OrderingError struct {
	Account AccountID
	Event   string
	State   CycleState
	At      time.Time
}

func (e *OrderingError) Error() string {
	return fmt.Sprintf("account %s: %s at %s rejected in cycle state %q",
		e.Account, e.Event, e.At.Format(time.RFC3339), e.State)
}

func (e *OrderingError) Unwrap() error { return ErrOutOfOrder }
