/*
accrual.go - Daily interest accrual engine

PURPOSE:
  The once-daily scheduled computation. For every (transaction type,
  reference) with an interest-bearing balance it derives the day's interest
  and routes it to exactly one destination bucket:

    1. active interest-free window  -> INTEREST_FREE_PERIOD_INTEREST_UNCHARGED
    2. charge-from-transaction-date
       or revolver account          -> INTEREST CHARGED (rounded on charge)
    3. split accounts               -> PRE_SCOD_UNCHARGED before the cycle's
                                       statement, POST_SCOD_UNCHARGED after
    4. everything else              -> UNCHARGED

THE CUTOFF RULE:
  The balance subject to interest is read as of the end of the PREVIOUS day
  (23:59:59.999999). A posting made later today, even one already applied to
  the ledger, is invisible to today's run and first earns interest tomorrow.
  This gives every run a stable, auditable base and makes the posting/accrual
  race safe by construction.

FAILURE SEMANTICS:
  A non-zero balance with no rate configuration fails the whole account-day
  loudly. Rates are validated for every family before anything is posted, so
  the handler is all-or-nothing: it never leaves a day half-accrued.
*/
package card

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// ACCRUAL
// =============================================================================

// instanceKey identifies one interest-bearing (type, reference) pair.
type instanceKey struct {
	TransactionType ledger.TransactionType
	Reference       string
}

// accrualPosting is one computed, not-yet-applied accrual.
type accrualPosting struct {
	to     ledger.Address
	amount decimal.Decimal
}

// AccrueInterest runs the daily accrual for this account. Re-running on the
// same calendar day is a no-op.
func (a *Account) AccrueInterest(ctx context.Context, at time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cycle.accruedOn(at) {
		return nil
	}

	// Blocking check: fail-safe, the whole account skips this cycle.
	// The day still counts as processed so a replay stays at zero.
	if a.config.Blocked(a.flags.ActiveFlags(a.ID, at)) {
		a.cycle.lastAccrualDay = at
		return nil
	}

	cutoff := endOfPreviousDay(at)
	ref := "accrue:" + at.Format("2006-01-02")

	postings, err := a.planAccrual(at, cutoff, ref)
	if err != nil {
		return err
	}
	for _, p := range postings {
		if err := a.ledger.Add(p.to, p.amount, at, ledger.EntryAccrual, ref); err != nil {
			return err
		}
	}

	a.cycle.lastAccrualDay = at
	return a.persist(ctx)
}

// planAccrual computes every accrual posting for the day without mutating
// the ledger, so rate validation happens before the first write.
func (a *Account) planAccrual(at, cutoff time.Time, ref string) ([]accrualPosting, error) {
	var postings []accrualPosting

	for _, key := range a.instances() {
		base := a.principalBaseAsOf(key, cutoff)
		if !base.IsPositive() {
			continue
		}

		rc, ok := a.config.RateFor(key.TransactionType, key.Reference)
		if !ok {
			return nil, &ConfigError{
				Account:         a.ID,
				TransactionType: key.TransactionType,
				Reference:       key.Reference,
				Detail:          "non-zero balance with no rate configuration",
			}
		}

		interest := base.Mul(a.config.DailyRate(rc.AnnualRate))
		if interest.IsZero() {
			continue
		}

		to, charged := a.routeInterest(key, rc, at)
		amount := ledger.RoundAccrual(interest)
		if charged {
			amount = ledger.RoundCharged(interest)
		}
		if amount.IsPositive() {
			postings = append(postings, accrualPosting{to: to, amount: amount})
		}
	}

	postings = append(postings, a.planCompound(cutoff)...)
	return postings, nil
}

// routeInterest resolves the single destination bucket for a day's interest.
// Mutually exclusive, evaluated in order; never split.
func (a *Account) routeInterest(key instanceKey, rc RateConfig, at time.Time) (ledger.Address, bool) {
	interestAt := func(p ledger.Phase) ledger.Address {
		return ledger.NewAddress(key.TransactionType, key.Reference, ledger.ComponentInterest, p)
	}

	switch {
	case a.windows.IsFree(key.TransactionType, key.Reference, at):
		return interestAt(ledger.PhaseFreePeriodUncharged), false
	case rc.ChargeFromTransactionDate || a.revolver:
		return interestAt(ledger.PhaseCharged), true
	case a.config.AccrueFromTransactionDay:
		if a.cycle.State == CycleCutoff {
			return interestAt(ledger.PhasePostSCODUncharged), false
		}
		return interestAt(ledger.PhasePreSCODUncharged), false
	default:
		return interestAt(ledger.PhaseUncharged), false
	}
}

// planCompound computes the optional additional accrual on unpaid interest
// and fee sub-balances, routed into the FEE_INTEREST family independently of
// principal interest routing.
func (a *Account) planCompound(cutoff time.Time) []accrualPosting {
	if !a.config.AccrueInterestOnUnpaidInterest && !a.config.AccrueInterestOnUnpaidFees {
		return nil
	}
	daily := a.config.DailyRate(a.config.CompoundAnnualRate)
	if daily.IsZero() {
		return nil
	}

	var postings []accrualPosting
	for _, key := range a.instances() {
		base := decimal.Zero
		if a.config.AccrueInterestOnUnpaidInterest {
			base = base.Add(a.arrearsBaseAsOf(key, ledger.ComponentInterest, cutoff))
			base = base.Add(a.arrearsBaseAsOf(key, ledger.ComponentFeeInterest, cutoff))
		}
		if a.config.AccrueInterestOnUnpaidFees {
			base = base.Add(a.arrearsBaseAsOf(key, ledger.ComponentFee, cutoff))
		}
		if !base.IsPositive() {
			continue
		}
		amount := ledger.RoundCharged(base.Mul(daily))
		if amount.IsPositive() {
			postings = append(postings, accrualPosting{
				to:     ledger.NewAddress(key.TransactionType, key.Reference, ledger.ComponentFeeInterest, ledger.PhaseCharged),
				amount: amount,
			})
		}
	}
	return postings
}

// instances returns every (type, reference) pair the ledger has ever seen,
// in first-touch order. Zero-balance pairs are filtered by the caller via
// the cutoff base.
func (a *Account) instances() []instanceKey {
	seen := make(map[instanceKey]bool)
	var keys []instanceKey
	for _, f := range a.ledger.Families() {
		k := instanceKey{TransactionType: f.TransactionType, Reference: f.Reference}
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}

// principalBaseAsOf is the interest-bearing principal for one instance at
// the cutoff: everything charged, billed or in arrears. Provisional
// uncharged interest never earns principal interest.
func (a *Account) principalBaseAsOf(key instanceKey, cutoff time.Time) decimal.Decimal {
	base := decimal.Zero
	for _, phase := range chargedPhases(a.config.LadderDepth()) {
		addr := ledger.NewAddress(key.TransactionType, key.Reference, ledger.ComponentPrincipal, phase)
		base = base.Add(a.ledger.BalanceAsOf(addr, cutoff))
	}
	return base
}

// arrearsBaseAsOf sums the overdue tiers of one component at the cutoff.
func (a *Account) arrearsBaseAsOf(key instanceKey, c ledger.Component, cutoff time.Time) decimal.Decimal {
	base := decimal.Zero
	for tier := 1; tier <= a.config.LadderDepth(); tier++ {
		addr := ledger.NewAddress(key.TransactionType, key.Reference, c, ledger.OverduePhase(tier))
		base = base.Add(a.ledger.BalanceAsOf(addr, cutoff))
	}
	return base
}

// zeroUnchargedLocked drains every provisional interest bucket out of the
// account. Used by the payment-due "paid" path and by the allocator's
// full-outstanding-repaid signal. Caller holds the account mutex.
func (a *Account) zeroUnchargedLocked(at time.Time, ref string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, addr := range a.ledger.Addresses() {
		if !ledger.IsUncharged(addr.Phase) {
			continue
		}
		forgiven, err := a.ledger.Zero(addr, at, ledger.EntryTransition, ref)
		if err != nil {
			return total, err
		}
		total = total.Add(forgiven)
	}
	return total, nil
}

// chargedPhases lists the phases that constitute real debt, given the
// configured arrears depth.
func chargedPhases(depth int) []ledger.Phase {
	phases := []ledger.Phase{ledger.PhaseCharged, ledger.PhaseBilled}
	for tier := 1; tier <= depth; tier++ {
		phases = append(phases, ledger.OverduePhase(tier))
	}
	return phases
}

// endOfPreviousDay returns 23:59:59.999999 of the day before the run. A
// posting timestamped exactly at the cutoff is included; anything later is
// deferred to tomorrow's run.
func endOfPreviousDay(at time.Time) time.Time {
	y, m, d := at.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, at.Location()).Add(-time.Microsecond)
}
