/*
Package factory provides JSON to Go configuration conversion.

PURPOSE:
  Converts JSON account-configuration documents into card.Config. This
  enables parameter changes without code changes - product operations can
  define card programs in JSON, and the factory creates the proper Go
  structs.

WHY JSON?
  - Non-developers can modify card programs
  - Easy integration with an admin UI
  - Version control for program definitions
  - Database storage of per-account parameter sets

JSON SCHEMA:
  {
    "rates": {
      "purchase":     {"annual_rate": "0.24", "mad_percentage": "0.01"},
      "cash_advance": {"annual_rate": "0.29", "charge_from_transaction_date": true, "mad_percentage": "0.01"}
    },
    "reference_overrides": {
      "balance_transfer:bt-promo": {"annual_rate": "0"}
    },
    "blocking_flags": ["ACCOUNT_FROZEN"],
    "mad_holiday_flags": ["REPAYMENT_HOLIDAY"],
    "payment_due_period_days": 21,
    "late_repayment_fee": "25.00",
    "annual_fee": "100.00",
    "overdue_ladder_depth": 2,
    "repayment_hierarchy": ["fees", "cash_advance", "purchase"],
    "days_in_year": 365,
    "free_windows": {"purchase": "2019-06-01T00:00:00Z"}
  }

KEY FEATURES:
  - All money and rate fields are decimal strings, never floats: "0.24"
    round-trips exactly, 0.24 as a float64 does not
  - Validates decimal syntax and expiry timestamps up front
  - Sets sensible defaults (365-day year, ladder depth 2, 21-day due period)

USAGE:
  factory := NewConfigFactory()

  cfg, err := factory.ParseConfig(jsonDoc)
  acct := card.Open(id, cfg, openedAt, flags, notifier)

SEE ALSO:
  - card/config.go: Config type definition
  - api/handlers.go: the PUT config endpoint feeding this parser
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ConfigJSON is the JSON representation of an account configuration.
type ConfigJSON struct {
	Rates              map[string]RateJSON `json:"rates"`
	ReferenceOverrides map[string]RateJSON `json:"reference_overrides,omitempty"`

	AccrueFromTransactionDay bool `json:"accrue_from_transaction_day,omitempty"`

	AccrueInterestOnUnpaidInterest bool   `json:"accrue_interest_on_unpaid_interest,omitempty"`
	AccrueInterestOnUnpaidFees     bool   `json:"accrue_interest_on_unpaid_fees,omitempty"`
	CompoundAnnualRate             string `json:"compound_annual_rate,omitempty"`

	BlockingFlags       []string `json:"blocking_flags,omitempty"`
	MADHolidayFlags     []string `json:"mad_holiday_flags,omitempty"`
	MADFullBalanceFlags []string `json:"mad_full_balance_flags,omitempty"`

	FlatMinimumDue       string `json:"flat_minimum_due,omitempty"`
	PaymentDuePeriodDays int    `json:"payment_due_period_days,omitempty"`
	LateRepaymentFee     string `json:"late_repayment_fee,omitempty"`
	AnnualFee            string `json:"annual_fee,omitempty"`
	OverdueLadderDepth   int    `json:"overdue_ladder_depth,omitempty"`

	RepaymentHierarchy []string `json:"repayment_hierarchy,omitempty"`
	DaysInYear         int      `json:"days_in_year,omitempty"`

	// FreeWindows maps "type" or "type:reference" to an RFC 3339 expiry.
	FreeWindows map[string]string `json:"free_windows,omitempty"`
}

// RateJSON represents one transaction type's (or reference's) rate block.
type RateJSON struct {
	AnnualRate                string `json:"annual_rate"`
	ChargeFromTransactionDate bool   `json:"charge_from_transaction_date,omitempty"`
	MADPercentage             string `json:"mad_percentage,omitempty"`
}

// =============================================================================
// CONFIG FACTORY
// =============================================================================

// ConfigFactory converts JSON configuration documents to card.Config.
type ConfigFactory struct{}

// NewConfigFactory creates a new config factory.
func NewConfigFactory() *ConfigFactory {
	return &ConfigFactory{}
}

// ParseConfig parses a JSON document into a card.Config.
func (f *ConfigFactory) ParseConfig(doc []byte) (card.Config, error) {
	var cj ConfigJSON
	if err := json.Unmarshal(doc, &cj); err != nil {
		return card.Config{}, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	return f.FromJSON(cj)
}

// FromJSON converts ConfigJSON to card.Config, applying defaults.
func (f *ConfigFactory) FromJSON(cj ConfigJSON) (card.Config, error) {
	cfg := card.Config{
		Rates:                          make(map[ledger.TransactionType]card.RateConfig, len(cj.Rates)),
		AccrueFromTransactionDay:       cj.AccrueFromTransactionDay,
		AccrueInterestOnUnpaidInterest: cj.AccrueInterestOnUnpaidInterest,
		AccrueInterestOnUnpaidFees:     cj.AccrueInterestOnUnpaidFees,
		BlockingFlags:                  cj.BlockingFlags,
		MADHolidayFlags:                cj.MADHolidayFlags,
		MADFullBalanceFlags:            cj.MADFullBalanceFlags,
		PaymentDuePeriodDays:           cj.PaymentDuePeriodDays,
		OverdueLadderDepth:             cj.OverdueLadderDepth,
		DaysInYear:                     cj.DaysInYear,
	}

	for tt, rj := range cj.Rates {
		rc, err := parseRate(rj, "rates."+tt)
		if err != nil {
			return card.Config{}, err
		}
		cfg.Rates[ledger.TransactionType(tt)] = rc
	}

	if len(cj.ReferenceOverrides) > 0 {
		cfg.ReferenceOverrides = make(map[string]card.RateConfig, len(cj.ReferenceOverrides))
		for key, rj := range cj.ReferenceOverrides {
			rc, err := parseRate(rj, "reference_overrides."+key)
			if err != nil {
				return card.Config{}, err
			}
			cfg.ReferenceOverrides[key] = rc
		}
	}

	var err error
	if cfg.CompoundAnnualRate, err = parseAmount(cj.CompoundAnnualRate, "compound_annual_rate"); err != nil {
		return card.Config{}, err
	}
	if cfg.FlatMinimumDue, err = parseAmount(cj.FlatMinimumDue, "flat_minimum_due"); err != nil {
		return card.Config{}, err
	}
	if cfg.LateRepaymentFee, err = parseAmount(cj.LateRepaymentFee, "late_repayment_fee"); err != nil {
		return card.Config{}, err
	}
	if cfg.AnnualFee, err = parseAmount(cj.AnnualFee, "annual_fee"); err != nil {
		return card.Config{}, err
	}

	for _, tt := range cj.RepaymentHierarchy {
		cfg.RepaymentHierarchy = append(cfg.RepaymentHierarchy, ledger.TransactionType(tt))
	}

	if len(cj.FreeWindows) > 0 {
		cfg.FreeWindows = make(map[string]time.Time, len(cj.FreeWindows))
		for key, raw := range cj.FreeWindows {
			expiry, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				return card.Config{}, fmt.Errorf("free_windows.%s: invalid expiry %q: %w", key, raw, err)
			}
			cfg.FreeWindows[key] = expiry
		}
	}

	applyDefaults(&cfg)
	return cfg, nil
}

// ToJSON converts a card.Config back to its JSON representation.
func (f *ConfigFactory) ToJSON(cfg card.Config) ConfigJSON {
	cj := ConfigJSON{
		Rates:                          make(map[string]RateJSON, len(cfg.Rates)),
		AccrueFromTransactionDay:       cfg.AccrueFromTransactionDay,
		AccrueInterestOnUnpaidInterest: cfg.AccrueInterestOnUnpaidInterest,
		AccrueInterestOnUnpaidFees:     cfg.AccrueInterestOnUnpaidFees,
		BlockingFlags:                  cfg.BlockingFlags,
		MADHolidayFlags:                cfg.MADHolidayFlags,
		MADFullBalanceFlags:            cfg.MADFullBalanceFlags,
		PaymentDuePeriodDays:           cfg.PaymentDuePeriodDays,
		OverdueLadderDepth:             cfg.OverdueLadderDepth,
		DaysInYear:                     cfg.DaysInYear,
	}

	for tt, rc := range cfg.Rates {
		cj.Rates[string(tt)] = rateJSON(rc)
	}
	if len(cfg.ReferenceOverrides) > 0 {
		cj.ReferenceOverrides = make(map[string]RateJSON, len(cfg.ReferenceOverrides))
		for key, rc := range cfg.ReferenceOverrides {
			cj.ReferenceOverrides[key] = rateJSON(rc)
		}
	}

	cj.CompoundAnnualRate = amountJSON(cfg.CompoundAnnualRate)
	cj.FlatMinimumDue = amountJSON(cfg.FlatMinimumDue)
	cj.LateRepaymentFee = amountJSON(cfg.LateRepaymentFee)
	cj.AnnualFee = amountJSON(cfg.AnnualFee)

	for _, tt := range cfg.RepaymentHierarchy {
		cj.RepaymentHierarchy = append(cj.RepaymentHierarchy, string(tt))
	}
	if len(cfg.FreeWindows) > 0 {
		cj.FreeWindows = make(map[string]string, len(cfg.FreeWindows))
		for key, expiry := range cfg.FreeWindows {
			cj.FreeWindows[key] = expiry.Format(time.RFC3339)
		}
	}
	return cj
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseRate(rj RateJSON, field string) (card.RateConfig, error) {
	annual, err := parseAmount(rj.AnnualRate, field+".annual_rate")
	if err != nil {
		return card.RateConfig{}, err
	}
	mad, err := parseAmount(rj.MADPercentage, field+".mad_percentage")
	if err != nil {
		return card.RateConfig{}, err
	}
	return card.RateConfig{
		AnnualRate:                annual,
		ChargeFromTransactionDate: rj.ChargeFromTransactionDate,
		MADPercentage:             mad,
	}, nil
}

// parseAmount parses a decimal string; an omitted field is zero.
func parseAmount(s, field string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: invalid decimal %q: %w", field, s, err)
	}
	return d, nil
}

func amountJSON(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.String()
}

func rateJSON(rc card.RateConfig) RateJSON {
	return RateJSON{
		AnnualRate:                rc.AnnualRate.String(),
		ChargeFromTransactionDate: rc.ChargeFromTransactionDate,
		MADPercentage:             amountJSON(rc.MADPercentage),
	}
}

func applyDefaults(cfg *card.Config) {
	if cfg.DaysInYear == 0 {
		cfg.DaysInYear = 365
	}
	if cfg.OverdueLadderDepth == 0 {
		cfg.OverdueLadderDepth = 2
	}
	if cfg.PaymentDuePeriodDays == 0 {
		cfg.PaymentDuePeriodDays = 21
	}
}
