/*
freeperiod.go - Interest-free-period manager

PURPOSE:
  Tracks, per transaction type or reference, whether a "free" interest
  window is active, and answers the accrual engine's routing question.
  Interest accrued while a window is open goes to the forgivable
  INTEREST_FREE_PERIOD_INTEREST_UNCHARGED bucket; it becomes real debt only
  if the customer misses the minimum amount due.

SEMANTICS:
  - A window is active for [now < expiry).
  - A window only suppresses NEW accrual; it never retroactively un-charges
    interest already moved to CHARGED or BILLED.
  - Expiry crossed between two accrual runs: the run uses the window state
    at the moment it executes, no intra-event splitting by exact second.
  - Expire() (triggered by the payment-due processor on default) is
    idempotent and irreversible until an external parameter change
    configures a new window.
*/
package card

import (
	"sort"
	"time"

	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// WINDOWS - Active interest-free windows per type/reference
// =============================================================================

type windowKey struct {
	TransactionType ledger.TransactionType
	Reference       string
}

func (k windowKey) String() string {
	if k.Reference == "" {
		return string(k.TransactionType)
	}
	return string(k.TransactionType) + ":" + k.Reference
}

// Windows holds the interest-free window state for one account. Like the
// Ledger, it is owned by the account aggregate and not synchronized.
type Windows struct {
	expiry map[windowKey]time.Time
}

func NewWindows() *Windows {
	return &Windows{expiry: make(map[windowKey]time.Time)}
}

// Set configures (or re-configures) a window. An external parameter change
// is the only way a window comes back after Expire.
func (w *Windows) Set(tt ledger.TransactionType, ref string, expiry time.Time) {
	w.expiry[windowKey{tt, ref}] = expiry
}

// IsFree reports whether a window is active for the type/reference at the
// given instant.
func (w *Windows) IsFree(tt ledger.TransactionType, ref string, asOf time.Time) bool {
	exp, ok := w.expiry[windowKey{tt, ref}]
	return ok && asOf.Before(exp)
}

// Expire clears the window so future accrual routes normally. Idempotent.
func (w *Windows) Expire(tt ledger.TransactionType, ref string) {
	delete(w.expiry, windowKey{tt, ref})
}

// Open returns the keys of every window still configured with a future
// expiry, sorted for deterministic iteration.
func (w *Windows) Open(asOf time.Time) []windowKey {
	var keys []windowKey
	for k, exp := range w.expiry {
		if asOf.Before(exp) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// ExpiringWithin returns the keys of windows whose expiry falls inside
// (asOf, asOf+interval], sorted. Used by workflow collaborators that warn
// customers ahead of an expiry.
func (w *Windows) ExpiringWithin(asOf time.Time, interval time.Duration) []windowKey {
	limit := asOf.Add(interval)
	var keys []windowKey
	for k, exp := range w.expiry {
		if exp.After(asOf) && !exp.After(limit) {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}
