/*
allocator.go - Repayment allocation

PURPOSE:
  Applies an incoming payment against the balance ledger in priority order:

    fees due -> fees overdue -> interest due -> interest overdue ->
    principal due -> principal overdue (oldest arrears tier first) ->
    current-cycle charged balances

  Within one priority tier, transaction types follow the account's
  configured repayment hierarchy - deterministic, never insertion order.
  Fee-interest ranks with interest.

  A repayment smaller than any bucket is not an error; it allocates
  partially and stops when exhausted.

FULL-PAYOFF SIGNAL:
  Extinguishing an address's principal+fee+interest does NOT zero its
  provisional buckets - those belong to the payment-due processor. The one
  exception: when a repayment clears the ENTIRE outstanding balance before
  the due date, the allocator signals the accrual side to zero the
  uncharged family immediately and the account stops revolving.
*/
package card

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// ALLOCATION
// =============================================================================

// Allocation records one slice of a repayment applied to one bucket.
type Allocation struct {
	Address ledger.Address
	Amount  decimal.Decimal
}

// allocate applies a payment in priority order. Caller holds the account
// mutex; Repay in account.go is the public entry point.
func (a *Account) allocate(amount decimal.Decimal, at time.Time) ([]Allocation, error) {
	if amount.IsNegative() {
		return nil, ledger.ErrNegativeAmount
	}
	remaining := ledger.RoundCharged(amount)
	ref := "repayment:" + at.Format(time.RFC3339)

	var allocations []Allocation
	for _, addr := range a.allocationOrder() {
		if !remaining.IsPositive() {
			break
		}
		available := a.ledger.Get(addr)
		if !available.IsPositive() {
			continue
		}
		applied := decimal.Min(remaining, available)
		if err := a.ledger.Withdraw(addr, applied, at, ledger.EntryRepayment, ref); err != nil {
			return nil, err
		}
		allocations = append(allocations, Allocation{Address: addr, Amount: applied})
		remaining = remaining.Sub(applied)
	}

	// Full outstanding balance repaid: zero the provisional family now
	// instead of waiting for the due date, and stop revolving.
	if a.outstanding().IsZero() {
		if _, err := a.zeroUnchargedLocked(at, ref+":payoff"); err != nil {
			return allocations, err
		}
		a.revolver = false
	}

	return allocations, nil
}

// allocationOrder builds the deterministic list of repayment targets.
func (a *Account) allocationOrder() []ledger.Address {
	depth := a.config.LadderDepth()

	// Component groups in priority order; fee-interest ranks with interest.
	groups := [][]ledger.Component{
		{ledger.ComponentFee},
		{ledger.ComponentFeeInterest, ledger.ComponentInterest},
		{ledger.ComponentPrincipal},
	}

	families := a.ledger.Families()
	sort.SliceStable(families, func(i, j int) bool {
		ri, rj := a.hierarchyRank(families[i].TransactionType), a.hierarchyRank(families[j].TransactionType)
		if ri != rj {
			return ri < rj
		}
		return false // preserve first-touch order within equal ranks
	})

	var order []ledger.Address
	appendPhase := func(components []ledger.Component, phase ledger.Phase) {
		for _, f := range families {
			for _, c := range components {
				if f.Component == c {
					order = append(order, f.At(phase))
				}
			}
		}
	}

	for _, components := range groups {
		// Due first, then arrears oldest (deepest tier) first.
		appendPhase(components, ledger.PhaseBilled)
		for tier := depth; tier >= 1; tier-- {
			appendPhase(components, ledger.OverduePhase(tier))
		}
	}

	// Current-cycle charged balances come last, same component order.
	for _, components := range groups {
		appendPhase(components, ledger.PhaseCharged)
	}
	return order
}

// hierarchyRank positions a transaction type within the configured
// repayment hierarchy; unlisted types follow the listed ones.
func (a *Account) hierarchyRank(tt ledger.TransactionType) int {
	for i, h := range a.config.RepaymentHierarchy {
		if h == tt {
			return i
		}
	}
	return len(a.config.RepaymentHierarchy)
}
