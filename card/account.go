/*
account.go - The per-account aggregate

PURPOSE:
  Account owns everything mutable about one credit-card account: the balance
  ledger, the interest-free windows, the statement cycle, the
  repayments-since-statement counter and the revolver flag. Nothing else in
  the process holds a reference to any of it.

CONCURRENCY:
  One mutex serializes postings, repayments and the four scheduled handlers
  (daily accrual, statement cut-off, payment due, annual fee). Handlers for
  different accounts are fully independent. The accrual engine additionally
  reads its balance base as of the previous day's end, so a posting racing
  the accrual tick is deferred to the next day's run rather than observed
  half-applied.

PERSISTENCE:
  The in-memory ledger is authoritative. When the account is opened with a
  journal store, every new entry is mirrored out after each mutating
  operation; a persistence failure is surfaced to the caller but never rolls
  back the in-memory transition (the persisted counter lets the next
  operation retry the unmirrored tail).
*/
package card

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// ACCOUNT
// =============================================================================

type Account struct {
	ID AccountID

	mu      sync.Mutex
	config  Config
	ledger  *ledger.Ledger
	windows *Windows
	cycle   Cycle

	repaidSinceStatement decimal.Decimal
	revolver             bool
	statements           []Statement

	flags    FlagSource
	notifier Notifier

	journal   ledger.Store // optional mirror; nil = in-memory only
	persisted int
}

// Open creates an account with the given configuration. flags and notifier
// may be nil (no active flags, discarded notifications).
func Open(id AccountID, cfg Config, openedAt time.Time, flags FlagSource, notifier Notifier) *Account {
	if flags == nil {
		flags = NoFlags
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	a := &Account{
		ID:                   id,
		config:               cfg,
		ledger:               ledger.New(),
		windows:              NewWindows(),
		cycle:                newCycle(openedAt),
		repaidSinceStatement: decimal.Zero,
		flags:                flags,
		notifier:             notifier,
	}
	for key, expiry := range cfg.FreeWindows {
		tt, ref := splitWindowKey(key)
		a.windows.Set(tt, ref, expiry)
	}
	return a
}

// Restore rebuilds an account from its persisted journal. Balances are
// replayed in full; the cycle state machine restarts Open (statement history
// lives in the statement store, and the next cut-off opens a fresh cycle).
func Restore(id AccountID, cfg Config, openedAt time.Time, flags FlagSource, notifier Notifier, entries []ledger.Entry) (*Account, error) {
	a := Open(id, cfg, openedAt, flags, notifier)
	l, err := ledger.Replay(entries)
	if err != nil {
		return nil, err
	}
	a.ledger = l
	a.persisted = len(entries)
	return a, nil
}

// WithJournal attaches a journal store the account mirrors entries into.
func (a *Account) WithJournal(store ledger.Store) *Account {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.journal = store
	return a
}

func splitWindowKey(key string) (ledger.TransactionType, string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return ledger.TransactionType(key[:i]), key[i+1:]
		}
	}
	return ledger.TransactionType(key), ""
}

// =============================================================================
// POSTINGS AND REPAYMENTS
// =============================================================================

// ApplyPosting applies a settled posting to the CHARGED phase of its
// address. Debits grow debt, credits (refunds) shrink it. The posting id is
// the idempotency key: a replayed posting is rejected, not double-applied.
func (a *Account) ApplyPosting(ctx context.Context, p Posting) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	component := p.Component
	if component == "" {
		component = ledger.ComponentPrincipal
	}
	addr := ledger.NewAddress(p.TransactionType, p.Reference, component, ledger.PhaseCharged)
	amount := ledger.RoundCharged(p.Amount)

	var err error
	switch p.Direction {
	case DirectionCredit:
		err = a.ledger.Withdraw(addr, amount, p.At, ledger.EntryPosting, p.ID)
	default:
		err = a.ledger.AddWithKey(addr, amount, p.At, ledger.EntryPosting, p.ID, p.ID)
	}
	if err != nil {
		return err
	}
	return a.persist(ctx)
}

// Repay allocates an incoming payment against the ledger in priority order
// (see allocator.go) and advances the repayments-since-statement counter.
func (a *Account) Repay(ctx context.Context, amount decimal.Decimal, at time.Time) ([]Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	allocs, err := a.allocate(amount, at)
	if err != nil {
		return nil, err
	}
	a.repaidSinceStatement = a.repaidSinceStatement.Add(amount)
	if err := a.persist(ctx); err != nil {
		return allocs, err
	}
	return allocs, nil
}

// ChargeAnnualFee posts the configured yearly fee into the fees bucket.
func (a *Account) ChargeAnnualFee(ctx context.Context, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.config.AnnualFee.IsPositive() {
		return nil
	}
	addr := ledger.NewAddress(ledger.TypeFees, "", ledger.ComponentFee, ledger.PhaseCharged)
	if err := a.ledger.Add(addr, a.config.AnnualFee, at, ledger.EntryFee, "annual_fee"); err != nil {
		return err
	}
	return a.persist(ctx)
}

// =============================================================================
// CONFIGURATION AND WINDOWS
// =============================================================================

// SetConfig swaps the account configuration. Takes effect from the next
// scheduled event onward; nothing already accrued or billed is revisited.
func (a *Account) SetConfig(cfg Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.config = cfg
}

// SetFreeWindow configures an interest-free window. This is the only way a
// window comes back after the payment-due processor expired it.
func (a *Account) SetFreeWindow(tt ledger.TransactionType, ref string, expiry time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.windows.Set(tt, ref, expiry)
}

// FreeWindowsExpiringWithin exposes upcoming expiries for workflow
// collaborators.
func (a *Account) FreeWindowsExpiringWithin(asOf time.Time, interval time.Duration) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, k := range a.windows.ExpiringWithin(asOf, interval) {
		out = append(out, k.String())
	}
	return out
}

// =============================================================================
// READ ACCESS
// =============================================================================

// Balance returns the current balance of one address.
func (a *Account) Balance(addr ledger.Address) decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Get(addr)
}

// Balances returns a snapshot of every non-zero address.
func (a *Account) Balances() map[ledger.Address]decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[ledger.Address]decimal.Decimal)
	for _, addr := range a.ledger.Addresses() {
		if v := a.ledger.Get(addr); !v.IsZero() {
			out[addr] = v
		}
	}
	return out
}

// Statements returns the statement history, oldest first.
func (a *Account) Statements() []Statement {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Statement, len(a.statements))
	copy(out, a.statements)
	return out
}

// CurrentStatement returns the latest statement, or nil before the first
// cut-off.
func (a *Account) CurrentStatement() *Statement {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cycle.Statement == nil {
		return nil
	}
	s := *a.cycle.Statement
	return &s
}

// OpenedAt returns when the account was opened.
func (a *Account) OpenedAt() time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycle.OpenedAt
}

// CycleState exposes the billing-cycle state for schedulers and reporting.
func (a *Account) CycleState() CycleState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cycle.State
}

// Revolver reports whether the account is revolving (missed a minimum due).
func (a *Account) Revolver() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revolver
}

// Journal returns a copy of the full movement journal.
func (a *Account) Journal() []ledger.Entry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ledger.Journal()
}

// =============================================================================
// INTERNAL HELPERS
// =============================================================================

// outstanding is the account's real debt: everything charged, billed or in
// arrears, across all components. Provisional uncharged interest is not
// debt yet and is excluded.
func (a *Account) outstanding() decimal.Decimal {
	return a.ledger.Total(func(addr ledger.Address) bool {
		return !ledger.IsUncharged(addr.Phase) && addr.Phase != ledger.PhaseWriteOff
	})
}

// notify dispatches fire-and-forget. Never fails, never blocks a balance
// transition on delivery.
func (a *Account) notify(n Notification) {
	a.notifier.Notify(n)
}

// persist mirrors journal entries the store has not seen yet.
func (a *Account) persist(ctx context.Context) error {
	if a.journal == nil {
		return nil
	}
	entries := a.ledger.Journal()
	for a.persisted < len(entries) {
		if err := a.journal.Append(ctx, string(a.ID), entries[a.persisted]); err != nil {
			return err
		}
		a.persisted++
	}
	return nil
}
