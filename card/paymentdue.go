/*
paymentdue.go - Payment-due (PDD) processor

PURPOSE:
  Runs once per statement cycle, payment_due_period days after the cut-off,
  and decides whether the minimum amount due was met:

  PAID (or forced-paid by a repayment holiday):
    every provisional interest bucket is zeroed - the grace period held, the
    interest accrued for the closed cycle is forgiven. Billed balances stay
    due but are not aged.

  UNPAID:
    the account becomes a revolver. Billed balances age one arrears tier,
    pre-existing tiers age deeper (fixed-depth ladder; the deepest tier
    waits for the external collections process). Every provisional bucket -
    including the interest-free-period buckets - is promoted to CHARGED:
    forgiven interest becomes real debt. The late-repayment fee is charged
    and every still-open interest-free window is expired, with an
    INTEREST_FREE_PERIODS_EXPIRED notification for the owning workflow.

IDEMPOTENCE:
  Re-running PDD for an already-evaluated cycle is a no-op. PDD with no
  statement to evaluate is an ordering error, never a best-effort guess.
*/
package card

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// PAYMENT DUE EVALUATION
// =============================================================================

// EvaluateDue evaluates repayment sufficiency for the current statement.
func (a *Account) EvaluateDue(ctx context.Context, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	switch a.cycle.due() {
	case dueReplay:
		return nil
	case dueOrphan:
		return &OrderingError{Account: a.ID, Event: "payment due", State: a.cycle.State, At: at}
	}

	stmt := a.cycle.Statement
	ref := "pdd:" + stmt.ID
	flags := a.flags.ActiveFlags(a.ID, at)
	holiday := a.config.MADHoliday(flags)
	madPaid := holiday || a.repaidSinceStatement.GreaterThanOrEqual(stmt.MinimumDue)

	if madPaid {
		if _, err := a.zeroUnchargedLocked(at, ref); err != nil {
			return err
		}
	} else {
		if err := a.handleDefault(at, ref); err != nil {
			return err
		}
	}

	a.cycle.State = CycleDueEvaluated

	a.notify(Notification{
		ID:        uuid.NewString(),
		Type:      NotifyPaymentDue,
		AccountID: a.ID,
		At:        at,
		Details: map[string]string{
			"statement_id": stmt.ID,
			"minimum_due":  stmt.MinimumDue.StringFixed(2),
			"repaid":       a.repaidSinceStatement.StringFixed(2),
			"mad_paid":     boolString(madPaid),
		},
	})

	return a.persist(ctx)
}

// handleDefault applies the unpaid path: aging, promotion, revolver status,
// late fee and window expiry.
func (a *Account) handleDefault(at time.Time, ref string) error {
	depth := a.config.LadderDepth()

	// Age arrears deepest-first so nothing moves two tiers in one pass.
	// The deepest tier absorbs and stays; write-off escalation is external.
	for _, f := range a.ledger.Families() {
		for tier := depth - 1; tier >= 1; tier-- {
			from := f.At(ledger.OverduePhase(tier))
			to := f.At(ledger.OverduePhase(tier + 1))
			if _, err := a.ledger.MoveAll(from, to, at, ledger.EntryTransition, ref); err != nil {
				return err
			}
		}
		if _, err := a.ledger.MoveAll(f.At(ledger.PhaseBilled), f.At(ledger.PhaseUnpaid), at, ledger.EntryTransition, ref); err != nil {
			return err
		}
	}

	// Promotion: every provisional bucket becomes real charged debt, rounded
	// at the moment of charging. Accrual routes straight to CHARGED from now
	// on (revolver status).
	for _, addr := range a.ledger.Addresses() {
		if !ledger.IsUncharged(addr.Phase) {
			continue
		}
		if _, err := a.ledger.MoveAllRounded(addr, addr.WithPhase(ledger.PhaseCharged), at, ledger.EntryTransition, ref); err != nil {
			return err
		}
	}
	a.revolver = true

	if a.config.LateRepaymentFee.IsPositive() {
		feeAddr := ledger.NewAddress(ledger.TypeFees, "", ledger.ComponentFee, ledger.PhaseCharged)
		if err := a.ledger.Add(feeAddr, a.config.LateRepaymentFee, at, ledger.EntryFee, "late_fee:"+ref); err != nil {
			return err
		}
	}

	// Expire every still-open interest-free window. Irreversible until an
	// external parameter change configures a new one.
	open := a.windows.Open(at)
	if len(open) > 0 {
		var expired []string
		for _, k := range open {
			a.windows.Expire(k.TransactionType, k.Reference)
			expired = append(expired, k.String())
		}
		a.notify(Notification{
			ID:        uuid.NewString(),
			Type:      NotifyInterestFreePeriodsExpired,
			AccountID: a.ID,
			At:        at,
			Details:   map[string]string{"expired": strings.Join(expired, ",")},
		})
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
