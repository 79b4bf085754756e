/*
journal.go - Append-only movement log

PURPOSE:
  Every balance mutation on an account is recorded as a journal Entry. The
  journal is the audit artifact and the basis for point-in-time queries: the
  accrual engine's "balance at end of previous day" snapshot is a replay of
  entries up to the cutoff, which is what makes same-day postings race-safe
  by construction rather than by locking.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no update, no delete
  2. Every Entry is either an external movement (one endpoint) or an internal
     transition (two endpoints); transitions conserve value exactly
  3. IDEMPOTENT: same idempotency key = same entry, duplicates rejected

SEE ALSO:
  - ledger.go: the aggregate that produces entries
  - store/memory.go: in-memory journal store
  - store/sqlite: durable journal store
*/
package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ENTRY - One recorded movement
// =============================================================================

type EntryKind string

const (
	EntryPosting    EntryKind = "posting"    // external purchase/fee/advance
	EntryRepayment  EntryKind = "repayment"  // external payment applied to a bucket
	EntryAccrual    EntryKind = "accrual"    // daily interest accrual
	EntryTransition EntryKind = "transition" // phase transition (SCOD, PDD, aging)
	EntryFee        EntryKind = "fee"        // engine-originated fee (late, annual)
	EntryAdjustment EntryKind = "adjustment" // manual correction
)

// Entry is one immutable movement. External movements have exactly one
// endpoint (From for money leaving, To for money arriving); internal
// transitions have both.
type Entry struct {
	At             time.Time
	From           *Address
	To             *Address
	Amount         decimal.Decimal
	Kind           EntryKind
	Reference      string // e.g. posting id, statement id, "accrue:2019-01-02"
	IdempotencyKey string
}

// IsTransition reports whether the entry moved value between two buckets
// (conserving) rather than across the account boundary.
func (e Entry) IsTransition() bool { return e.From != nil && e.To != nil }

// =============================================================================
// JOURNAL STORE - Persistence interface (append-only)
// =============================================================================

// Store persists journal entries per account. APPEND-ONLY: corrections are
// made with adjustment entries, never edits.
type Store interface {
	// Append persists one entry. Fails with ErrDuplicateIdempotencyKey if
	// the key was seen before.
	Append(ctx context.Context, accountID string, e Entry) error

	// Load returns all entries for an account in chronological order.
	Load(ctx context.Context, accountID string) ([]Entry, error)

	// LoadRange returns entries with At in [from, to].
	LoadRange(ctx context.Context, accountID string, from, to time.Time) ([]Entry, error)

	// Exists checks whether an idempotency key has been recorded.
	Exists(ctx context.Context, idempotencyKey string) (bool, error)
}
