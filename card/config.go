/*
config.go - Typed account configuration

PURPOSE:
  The engine's entire parameter surface in one typed struct: per-type rates
  and minimum-due percentages, reference-scoped overrides for multi-instance
  types, blocking/holiday flag sets, schedule offsets and fees.

  Configuration is externally supplied and may change between cycles; a
  mid-cycle rate change applies from the next scheduled event onward, never
  retroactively. The engine therefore re-reads Config on every handler run
  and holds no derived state from it.

DESIGN:
  The original parameter surface here would be string-keyed dictionaries;
  this is the typed replacement, keyed by the enumerated transaction-type
  set with an open extension point for reference-scoped overrides.

SEE ALSO:
  - factory/config.go: JSON -> Config conversion
  - accrual.go: rate resolution and blocking checks
*/
package card

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// PER-TYPE RATE CONFIGURATION
// =============================================================================

// RateConfig carries the interest and minimum-due parameters for one
// transaction type (or one reference of a multi-instance type).
type RateConfig struct {
	// AnnualRate as a fraction, e.g. 0.24 for 24% APR. A zero rate is valid
	// (promotional 0%); what is invalid is an active balance on a type with
	// no RateConfig at all.
	AnnualRate decimal.Decimal

	// ChargeFromTransactionDate routes daily accrual straight to CHARGED
	// instead of the provisional uncharged buckets (typical for cash
	// advances).
	ChargeFromTransactionDate bool

	// MADPercentage is this type's share of billed principal included in
	// the minimum amount due, e.g. 0.01 for 1%.
	MADPercentage decimal.Decimal
}

// =============================================================================
// ACCOUNT CONFIGURATION
// =============================================================================

type Config struct {
	// Rates per transaction type. An interest-bearing balance on a type
	// missing from this map is a configuration error.
	Rates map[ledger.TransactionType]RateConfig

	// ReferenceOverrides carry rate configs for individual references of
	// multi-instance types (keyed "type:reference"). An override wins over
	// the type-level entry.
	ReferenceOverrides map[string]RateConfig

	// AccrueFromTransactionDay enables the PRE_SCOD/POST_SCOD split of
	// uncharged interest; when false a single UNCHARGED bucket is used and
	// promoted wholesale to CHARGED at the next statement.
	AccrueFromTransactionDay bool

	// Compounding: when enabled, an additional accrual runs on the unpaid
	// interest and/or fee sub-balances at CompoundRate, routed into the
	// FEE_INTEREST family independently of principal interest routing.
	AccrueInterestOnUnpaidInterest bool
	AccrueInterestOnUnpaidFees     bool
	CompoundAnnualRate             decimal.Decimal

	// BlockingFlags: any of these active on the account skips the whole
	// account's accrual for the day (fail-safe, no partial accrual).
	BlockingFlags []string

	// MADHolidayFlags force the minimum amount due to zero (repayment
	// holiday); MADFullBalanceFlags force it to the full billed balance
	// (e.g. approaching write-off).
	MADHolidayFlags     []string
	MADFullBalanceFlags []string

	// FlatMinimumDue, if positive and larger than the computed MAD,
	// replaces it (capped at the statement balance).
	FlatMinimumDue decimal.Decimal

	// Schedule offsets and fees.
	PaymentDuePeriodDays int
	LateRepaymentFee     decimal.Decimal
	AnnualFee            decimal.Decimal

	// OverdueLadderDepth is the number of arrears tiers. Balances reaching
	// the deepest tier stay there; escalation to write-off belongs to the
	// external collections process.
	OverdueLadderDepth int

	// RepaymentHierarchy fixes the allocation order across transaction
	// types within one priority tier. Types absent from the list follow, in
	// first-touch ledger order.
	RepaymentHierarchy []ledger.TransactionType

	// DaysInYear for the daily rate denominator.
	DaysInYear int

	// FreeWindows seeds interest-free windows at account opening, keyed the
	// same way as ReferenceOverrides ("type" or "type:reference").
	FreeWindows map[string]time.Time
}

// RateFor resolves the rate configuration for a type/reference, reference
// override first. ok is false when neither is configured.
func (c Config) RateFor(tt ledger.TransactionType, ref string) (RateConfig, bool) {
	if ref != "" {
		if rc, ok := c.ReferenceOverrides[string(tt)+":"+ref]; ok {
			return rc, true
		}
	}
	rc, ok := c.Rates[tt]
	return rc, ok
}

// DailyRate converts an annual rate to the daily accrual rate.
func (c Config) DailyRate(annual decimal.Decimal) decimal.Decimal {
	days := c.DaysInYear
	if days == 0 {
		days = 365
	}
	return annual.Div(decimal.NewFromInt(int64(days)))
}

func (c Config) hasFlag(flags map[string]bool, configured []string) bool {
	for _, f := range configured {
		if flags[f] {
			return true
		}
	}
	return false
}

// Blocked reports whether any configured blocking flag is active.
func (c Config) Blocked(flags map[string]bool) bool {
	return c.hasFlag(flags, c.BlockingFlags)
}

// MADHoliday reports whether a repayment-holiday flag is active.
func (c Config) MADHoliday(flags map[string]bool) bool {
	return c.hasFlag(flags, c.MADHolidayFlags)
}

// MADFullBalance reports whether a bill-in-full flag is active.
func (c Config) MADFullBalance(flags map[string]bool) bool {
	return c.hasFlag(flags, c.MADFullBalanceFlags)
}

// LadderDepth returns the configured arrears depth, defaulting to 2.
func (c Config) LadderDepth() int {
	if c.OverdueLadderDepth < 1 {
		return 2
	}
	return c.OverdueLadderDepth
}
