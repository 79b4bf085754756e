/*
ledger.go - The per-account balance aggregate

PURPOSE:
  The Ledger owns every balance bucket of one account. It is the only way to
  read or mutate balances, and it records every mutation in the append-only
  journal. There is exactly one Ledger per account and it is never shared
  across accounts.

CONTRACT (the Balance Ledger View):
  Get(address)                -> current balance
  Add / Withdraw              -> external movement across the account boundary
  Move(from, to, amount)      -> atomic internal transition (debit + credit
                                 together or not at all)
  BalanceAsOf(address, t)     -> journal replay up to t

CONCURRENCY:
  The Ledger itself is NOT synchronized. Ownership is exclusive: the account
  aggregate in the card package serializes postings and the scheduled
  handlers with a single mutex. Nothing outside that aggregate holds a
  reference to the Ledger.

CONSERVATION:
  Move can neither mint nor destroy value: for every address family,
  the sum across phases always equals net external movement into the family.
  This is the load-bearing invariant of the whole engine and it holds by
  construction, not by audit.
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// LEDGER - Per-account aggregate
// =============================================================================

type Ledger struct {
	balances map[Address]decimal.Decimal
	order    []Address // insertion order, for deterministic iteration
	journal  []Entry
	seen     map[string]bool // idempotency keys
}

func New() *Ledger {
	return &Ledger{
		balances: make(map[Address]decimal.Decimal),
		seen:     make(map[string]bool),
	}
}

// Get returns the current balance of an address. Addresses are created
// implicitly on first use; an untouched address reads as zero.
func (l *Ledger) Get(addr Address) decimal.Decimal {
	return l.balances[addr]
}

// Add records an external movement INTO an address (posting, accrual, fee).
func (l *Ledger) Add(addr Address, amount decimal.Decimal, at time.Time, kind EntryKind, ref string) error {
	return l.AddWithKey(addr, amount, at, kind, ref, "")
}

// AddWithKey is Add with an idempotency key; a repeated key is rejected.
func (l *Ledger) AddWithKey(addr Address, amount decimal.Decimal, at time.Time, kind EntryKind, ref, key string) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if err := l.claimKey(key); err != nil {
		return err
	}
	l.touch(addr)
	l.balances[addr] = l.balances[addr].Add(amount)
	l.journal = append(l.journal, Entry{At: at, To: &addr, Amount: amount, Kind: kind, Reference: ref, IdempotencyKey: key})
	return nil
}

// Withdraw records an external movement OUT of an address (repayment,
// refund). It never overdraws the bucket.
func (l *Ledger) Withdraw(addr Address, amount decimal.Decimal, at time.Time, kind EntryKind, ref string) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if l.balances[addr].LessThan(amount) {
		return &MoveError{From: addr, To: addr, Requested: amount.String(),
			Available: l.balances[addr].String(), Err: ErrInsufficientSource}
	}
	l.touch(addr)
	l.balances[addr] = l.balances[addr].Sub(amount)
	l.journal = append(l.journal, Entry{At: at, From: &addr, Amount: amount, Kind: kind, Reference: ref})
	return nil
}

// Move atomically transitions value between two buckets. Either both legs
// happen or neither does; a move that would overdraw the source fails whole.
func (l *Ledger) Move(from, to Address, amount decimal.Decimal, at time.Time, kind EntryKind, ref string) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if amount.IsZero() {
		return nil
	}
	if l.balances[from].LessThan(amount) {
		return &MoveError{From: from, To: to, Requested: amount.String(),
			Available: l.balances[from].String(), Err: ErrInsufficientSource}
	}
	l.touch(from)
	l.touch(to)
	l.balances[from] = l.balances[from].Sub(amount)
	l.balances[to] = l.balances[to].Add(amount)
	l.journal = append(l.journal, Entry{At: at, From: &from, To: &to, Amount: amount, Kind: kind, Reference: ref})
	return nil
}

// MoveAll drains a bucket into another and returns the moved amount.
// Used by phase transitions (CHARGED -> BILLED, aging, promotion), which
// always act on whatever the bucket holds at that instant.
func (l *Ledger) MoveAll(from, to Address, at time.Time, kind EntryKind, ref string) (decimal.Decimal, error) {
	amount := l.balances[from]
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	if err := l.Move(from, to, amount, at, kind, ref); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// MoveAllRounded drains a bucket, rounding to charged precision on the way:
// the rounded amount lands in `to`, and any residual below a cent is
// withdrawn so the source zeroes. Used when provisional interest becomes
// real debt.
func (l *Ledger) MoveAllRounded(from, to Address, at time.Time, kind EntryKind, ref string) (decimal.Decimal, error) {
	amount := l.balances[from]
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	charged := RoundCharged(amount)
	if charged.GreaterThan(amount) {
		// Round-half-up went above the bucket: top the source up by the
		// sub-cent difference so the move conserves at charged precision.
		if err := l.Add(from, charged.Sub(amount), at, EntryAdjustment, ref+":rounding"); err != nil {
			return decimal.Zero, err
		}
	}
	if err := l.Move(from, to, charged, at, kind, ref); err != nil {
		return decimal.Zero, err
	}
	if residual := l.balances[from]; residual.IsPositive() {
		if err := l.Withdraw(from, residual, at, EntryAdjustment, ref+":rounding"); err != nil {
			return decimal.Zero, err
		}
	}
	return charged, nil
}

// Zero drains a bucket out of the account entirely (forgiveness).
func (l *Ledger) Zero(addr Address, at time.Time, kind EntryKind, ref string) (decimal.Decimal, error) {
	amount := l.balances[addr]
	if amount.IsZero() {
		return decimal.Zero, nil
	}
	if err := l.Withdraw(addr, amount, at, kind, ref); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// =============================================================================
// QUERIES
// =============================================================================

// BalanceAsOf replays the journal and returns the balance an address held at
// the cutoff instant. Entries timestamped after the cutoff are excluded even
// if they have already been applied; this is the accrual engine's
// end-of-previous-day snapshot rule.
func (l *Ledger) BalanceAsOf(addr Address, cutoff time.Time) decimal.Decimal {
	balance := decimal.Zero
	for _, e := range l.journal {
		if e.At.After(cutoff) {
			continue
		}
		if e.From != nil && *e.From == addr {
			balance = balance.Sub(e.Amount)
		}
		if e.To != nil && *e.To == addr {
			balance = balance.Add(e.Amount)
		}
	}
	return balance
}

// Addresses returns every address ever touched, in first-touch order.
func (l *Ledger) Addresses() []Address {
	out := make([]Address, len(l.order))
	copy(out, l.order)
	return out
}

// Families returns every distinct (type, reference, component) family ever
// touched, in first-touch order.
func (l *Ledger) Families() []Family {
	seen := make(map[Family]bool)
	var out []Family
	for _, a := range l.order {
		f := a.Family()
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

// Total sums the current balance of every address matching the predicate.
func (l *Ledger) Total(match func(Address) bool) decimal.Decimal {
	total := decimal.Zero
	for _, a := range l.order {
		if match(a) {
			total = total.Add(l.balances[a])
		}
	}
	return total
}

// FamilyTotal sums every phase of one family. Paired with NetMovement it
// states the conservation invariant.
func (l *Ledger) FamilyTotal(f Family) decimal.Decimal {
	return l.Total(func(a Address) bool { return a.Family() == f })
}

// NetMovement returns the cumulative external movement into a family since
// account opening: postings and accruals in, repayments and forgiveness out.
// For every family, FamilyTotal(f) == NetMovement(f) at all times.
func (l *Ledger) NetMovement(f Family) decimal.Decimal {
	net := decimal.Zero
	for _, e := range l.journal {
		if e.IsTransition() {
			continue
		}
		if e.To != nil && e.To.Family() == f {
			net = net.Add(e.Amount)
		}
		if e.From != nil && e.From.Family() == f {
			net = net.Sub(e.Amount)
		}
	}
	return net
}

// Journal returns a copy of the full entry log.
func (l *Ledger) Journal() []Entry {
	out := make([]Entry, len(l.journal))
	copy(out, l.journal)
	return out
}

// EntriesSince returns entries recorded at or after the given instant.
func (l *Ledger) EntriesSince(t time.Time) []Entry {
	var out []Entry
	for _, e := range l.journal {
		if !e.At.Before(t) {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// REBUILD
// =============================================================================

// Replay rebuilds a ledger from persisted journal entries. Entries must be
// in their original order; transitions replay through the same invariant
// checks they passed the first time.
func Replay(entries []Entry) (*Ledger, error) {
	l := New()
	for _, e := range entries {
		var err error
		switch {
		case e.IsTransition():
			err = l.Move(*e.From, *e.To, e.Amount, e.At, e.Kind, e.Reference)
		case e.To != nil:
			err = l.AddWithKey(*e.To, e.Amount, e.At, e.Kind, e.Reference, e.IdempotencyKey)
		case e.From != nil:
			err = l.Withdraw(*e.From, e.Amount, e.At, e.Kind, e.Reference)
		}
		if err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *Ledger) touch(addr Address) {
	if _, ok := l.balances[addr]; !ok {
		l.balances[addr] = decimal.Zero
		l.order = append(l.order, addr)
	}
}

func (l *Ledger) claimKey(key string) error {
	if key == "" {
		return nil
	}
	if l.seen[key] {
		return ErrDuplicateIdempotencyKey
	}
	l.seen[key] = true
	return nil
}
