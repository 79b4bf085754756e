/*
statement.go - Statement cut-off (SCOD) processor

PURPOSE:
  The monthly cut-off that turns provisional balances into a bill:

    - promotes the single UNCHARGED interest bucket wholesale to CHARGED
      (non-split accounts only; split accounts reclassify PRE -> POST instead)
    - rolls every CHARGED bucket into BILLED
    - computes the statement balance and minimum amount due
    - resets the repayments-since-statement counter
    - emits an immutable Statement and the STATEMENT_CUT_OFF notification

  Statements are never mutated; the next cut-off supersedes with a new one.

MINIMUM AMOUNT DUE:
  MAD = sum over billed principal of (type MAD% x billed principal)
      + 100% of billed interest (incl. fee-interest) + 100% of billed fees,
  then the overrides, strongest last:
    flat minimum (if configured and larger), full-balance flags, repayment
  holiday flags (MAD forced to zero). MAD never exceeds the statement balance.
*/
package card

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// STATEMENT - Immutable output of one cut-off
// =============================================================================

type Statement struct {
	ID        string
	AccountID AccountID
	CutOffAt  time.Time
	DueDate   time.Time

	// StatementBalance is the full outstanding debt at cut-off: billed,
	// previously unpaid arrears and any still-charged residue.
	StatementBalance decimal.Decimal

	// MinimumDue is the MAD the customer must pay by DueDate.
	MinimumDue decimal.Decimal

	// Billed is the per-address breakdown of what this statement billed.
	Billed map[ledger.Address]decimal.Decimal
}

// =============================================================================
// CUT-OFF
// =============================================================================

// CutOff runs the statement cut-off. A second cut-off while a statement is
// still awaiting its due date is an ordering error.
func (a *Account) CutOff(ctx context.Context, at time.Time) (*Statement, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.cycle.canCutOff() {
		return nil, &OrderingError{Account: a.ID, Event: "statement cut-off", State: a.cycle.State, At: at}
	}

	id := uuid.NewString()
	ref := "scod:" + id

	// 1. Non-split accounts: promote the cycle's provisional interest to
	//    CHARGED so it bills on this statement. Split accounts keep PRE/POST
	//    provisional until the due date decides their fate.
	if !a.config.AccrueFromTransactionDay {
		for _, f := range a.ledger.Families() {
			if _, err := a.ledger.MoveAllRounded(f.At(ledger.PhaseUncharged), f.At(ledger.PhaseCharged), at, ledger.EntryTransition, ref); err != nil {
				return nil, err
			}
		}
	}

	// 2. Bill: CHARGED -> BILLED for every component. For
	//    charge-from-transaction-date types this also carries today's newly
	//    charged interest into the bill.
	billed := make(map[ledger.Address]decimal.Decimal)
	for _, f := range a.ledger.Families() {
		amount, err := a.ledger.MoveAll(f.At(ledger.PhaseCharged), f.At(ledger.PhaseBilled), at, ledger.EntryTransition, ref)
		if err != nil {
			return nil, err
		}
		if amount.IsPositive() {
			billedAddr := f.At(ledger.PhaseBilled)
			billed[billedAddr] = billed[billedAddr].Add(amount)
		}
	}

	// 3. Split accounts: reclassify PRE_SCOD -> POST_SCOD. Still provisional,
	//    not billed.
	if a.config.AccrueFromTransactionDay {
		for _, f := range a.ledger.Families() {
			if _, err := a.ledger.MoveAll(f.At(ledger.PhasePreSCODUncharged), f.At(ledger.PhasePostSCODUncharged), at, ledger.EntryTransition, ref); err != nil {
				return nil, err
			}
		}
	}

	balance := a.outstanding()
	mad := a.minimumDue(billed, balance, at)

	stmt := Statement{
		ID:               id,
		AccountID:        a.ID,
		CutOffAt:         at,
		DueDate:          at.AddDate(0, 0, a.paymentDuePeriod()),
		StatementBalance: balance,
		MinimumDue:       mad,
		Billed:           billed,
	}

	a.repaidSinceStatement = decimal.Zero
	a.cycle.State = CycleCutoff
	a.cycle.Statement = &stmt
	a.statements = append(a.statements, stmt)

	a.notify(Notification{
		ID:        uuid.NewString(),
		Type:      NotifyStatementCutOff,
		AccountID: a.ID,
		At:        at,
		Details: map[string]string{
			"statement_id":      stmt.ID,
			"statement_balance": stmt.StatementBalance.StringFixed(2),
			"minimum_due":       stmt.MinimumDue.StringFixed(2),
			"due_date":          stmt.DueDate.Format(time.RFC3339),
		},
	})

	if err := a.persist(ctx); err != nil {
		return &stmt, err
	}
	return &stmt, nil
}

// minimumDue computes the MAD from the billed breakdown and applies the
// flag-driven overrides.
func (a *Account) minimumDue(billed map[ledger.Address]decimal.Decimal, balance decimal.Decimal, at time.Time) decimal.Decimal {
	mad := decimal.Zero
	for _, f := range a.ledger.Families() {
		amount, ok := billed[f.At(ledger.PhaseBilled)]
		if !ok || !amount.IsPositive() {
			continue
		}
		switch f.Component {
		case ledger.ComponentPrincipal:
			if rc, ok := a.config.RateFor(f.TransactionType, f.Reference); ok {
				mad = mad.Add(amount.Mul(rc.MADPercentage))
			}
		default:
			// Interest, fee-interest and fees are due in full.
			mad = mad.Add(amount)
		}
	}
	mad = ledger.RoundCharged(mad)

	if a.config.FlatMinimumDue.GreaterThan(mad) {
		mad = a.config.FlatMinimumDue
	}

	flags := a.flags.ActiveFlags(a.ID, at)
	if a.config.MADFullBalance(flags) {
		mad = balance
	}
	if mad.GreaterThan(balance) {
		mad = balance
	}
	if a.config.MADHoliday(flags) {
		mad = decimal.Zero
	}
	return mad
}

func (a *Account) paymentDuePeriod() int {
	if a.config.PaymentDuePeriodDays <= 0 {
		return 21
	}
	return a.config.PaymentDuePeriodDays
}
