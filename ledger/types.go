/*
Package ledger provides the core balance-address model for revolving credit.

PURPOSE:
  This package contains the domain-agnostic pieces of the credit engine:
  addresses (which bucket a unit of money lives in), the per-account Ledger
  that owns those buckets, and the append-only journal recording every
  movement between them.

KEY CONCEPTS IN THIS FILE (types.go):
  - TransactionType: purchase, cash advance, balance transfer, ...
  - Component: PRINCIPAL, FEE, INTEREST, FEE_INTEREST
  - Phase: the lifecycle stage of a balance (CHARGED, BILLED, overdue tiers,
    and the family of provisional "uncharged" interest buckets)
  - Money helpers: fixed-precision decimal arithmetic and the rounding rule
    applied when value becomes real debt

DESIGN PRINCIPLES:
  1. Conservation: value enters and leaves an address family only through
     external movements; phase transitions move, never mint or burn
  2. Precision: decimal.Decimal throughout; accrual buckets keep 5 decimal
     places so daily slivers of interest don't compound rounding error,
     rounding to 2 places happens exactly once, on charging
  3. Addresses are forever: buckets are zeroed by transitions, never deleted,
     so historical queries stay well-defined

SEE ALSO:
  - address.go: the Address tuple and family helpers
  - ledger.go: the per-account Ledger aggregate
  - journal.go: journal entries and the persistence interface
*/
package ledger

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// TRANSACTION TYPES - Externally configurable, open set
// =============================================================================

// TransactionType identifies a lending product line on the account.
// The set is open: configuration may register additional types, the engine
// only ever iterates types it finds in configuration or on the ledger.
type TransactionType string

const (
	TypePurchase        TransactionType = "purchase"
	TypeCashAdvance     TransactionType = "cash_advance"
	TypeTransfer        TransactionType = "transfer"
	TypeBalanceTransfer TransactionType = "balance_transfer"
	TypeFees            TransactionType = "fees"
)

// =============================================================================
// COMPONENTS - What kind of money sits in a bucket
// =============================================================================

type Component string

const (
	ComponentPrincipal   Component = "PRINCIPAL"
	ComponentFee         Component = "FEE"
	ComponentInterest    Component = "INTEREST"
	ComponentFeeInterest Component = "FEE_INTEREST" // compounded interest on unpaid interest/fees
)

// =============================================================================
// PHASES - Lifecycle stage of a balance
// =============================================================================

// Phase is the lifecycle stage of a balance within one address family.
//
// Charged money lifecycle:
//   CHARGED -> BILLED -> UNPAID -> OVERDUE_2 -> ... -> WRITE_OFF
//
// Provisional interest lifecycle (never billed directly):
//   UNCHARGED / PRE_SCOD_UNCHARGED / POST_SCOD_UNCHARGED /
//   INTEREST_FREE_PERIOD_INTEREST_UNCHARGED
//     -> zeroed on a paid cycle, or promoted to CHARGED on default
type Phase string

const (
	PhaseCharged  Phase = "CHARGED"
	PhaseBilled   Phase = "BILLED"
	PhaseUnpaid   Phase = "UNPAID" // first arrears tier
	PhaseWriteOff Phase = "WRITE_OFF"

	PhaseUncharged         Phase = "UNCHARGED"
	PhasePreSCODUncharged  Phase = "PRE_SCOD_UNCHARGED"
	PhasePostSCODUncharged Phase = "POST_SCOD_UNCHARGED"
	PhaseFreePeriodUncharged Phase = "INTEREST_FREE_PERIOD_INTEREST_UNCHARGED"
)

// OverduePhase returns the arrears phase for a tier. Tier 1 is UNPAID,
// deeper tiers are OVERDUE_2, OVERDUE_3, ...
func OverduePhase(tier int) Phase {
	if tier <= 1 {
		return PhaseUnpaid
	}
	return Phase("OVERDUE_" + itoa(tier))
}

// OverdueTier returns the arrears tier of a phase, or 0 if the phase is not
// an arrears phase.
func OverdueTier(p Phase) int {
	if p == PhaseUnpaid {
		return 1
	}
	const prefix = "OVERDUE_"
	s := string(p)
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return 0
	}
	n := 0
	for _, c := range s[len(prefix):] {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// IsUncharged reports whether the phase holds provisional (not yet charged)
// interest.
func IsUncharged(p Phase) bool {
	switch p {
	case PhaseUncharged, PhasePreSCODUncharged, PhasePostSCODUncharged, PhaseFreePeriodUncharged:
		return true
	}
	return false
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// =============================================================================
// MONEY - Fixed-precision decimals and the charging rounding rule
// =============================================================================

// ChargedPrecision is the externally visible precision: every balance in a
// CHARGED, BILLED or arrears phase carries exactly two decimal places.
const ChargedPrecision = 2

// AccrualPrecision is the internal precision for uncharged accrual buckets.
// Daily accrual slivers are tiny; rounding them individually would compound
// error across a month of postings.
const AccrualPrecision = 5

// RoundCharged applies the round-half-up rule used at the moment value
// transitions into a CHARGED or BILLED address.
func RoundCharged(d decimal.Decimal) decimal.Decimal {
	return d.Round(ChargedPrecision)
}

// RoundAccrual truncates an accrual intermediate to internal precision.
func RoundAccrual(d decimal.Decimal) decimal.Decimal {
	return d.Round(AccrualPrecision)
}

// MustDecimal parses a decimal literal, returning zero on malformed input.
// For constants in configuration and tests.
func MustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
