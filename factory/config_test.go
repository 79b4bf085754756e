package factory_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
)

const programJSON = `{
	"rates": {
		"purchase":     {"annual_rate": "0.24", "mad_percentage": "0.01"},
		"cash_advance": {"annual_rate": "0.29", "charge_from_transaction_date": true, "mad_percentage": "0.01"}
	},
	"reference_overrides": {
		"balance_transfer:bt-promo": {"annual_rate": "0"}
	},
	"blocking_flags": ["ACCOUNT_FROZEN"],
	"mad_holiday_flags": ["REPAYMENT_HOLIDAY"],
	"late_repayment_fee": "25.00",
	"annual_fee": "100.00",
	"repayment_hierarchy": ["fees", "cash_advance", "purchase"],
	"free_windows": {"purchase": "2019-06-01T00:00:00Z"}
}`

func TestParseConfig(t *testing.T) {
	cfg, err := factory.NewConfigFactory().ParseConfig([]byte(programJSON))
	require.NoError(t, err)

	purchase, ok := cfg.RateFor(ledger.TypePurchase, "")
	require.True(t, ok)
	assert.Equal(t, "0.24", purchase.AnnualRate.String())
	assert.False(t, purchase.ChargeFromTransactionDate)

	cash, ok := cfg.RateFor(ledger.TypeCashAdvance, "")
	require.True(t, ok)
	assert.True(t, cash.ChargeFromTransactionDate)

	// Reference override wins over the type-level entry.
	promo, ok := cfg.RateFor(ledger.TypeBalanceTransfer, "bt-promo")
	require.True(t, ok)
	assert.True(t, promo.AnnualRate.IsZero())

	assert.Equal(t, "25", cfg.LateRepaymentFee.String())
	assert.Equal(t, []ledger.TransactionType{
		ledger.TypeFees, ledger.TypeCashAdvance, ledger.TypePurchase,
	}, cfg.RepaymentHierarchy)
	assert.Equal(t, time.Date(2019, time.June, 1, 0, 0, 0, 0, time.UTC), cfg.FreeWindows["purchase"])
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := factory.NewConfigFactory().ParseConfig([]byte(`{"rates": {}}`))
	require.NoError(t, err)

	assert.Equal(t, 365, cfg.DaysInYear)
	assert.Equal(t, 2, cfg.OverdueLadderDepth)
	assert.Equal(t, 21, cfg.PaymentDuePeriodDays)
}

func TestParseConfig_RejectsBadDecimal(t *testing.T) {
	_, err := factory.NewConfigFactory().ParseConfig([]byte(
		`{"rates": {"purchase": {"annual_rate": "24%"}}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rates.purchase.annual_rate")
}

func TestParseConfig_RejectsBadExpiry(t *testing.T) {
	_, err := factory.NewConfigFactory().ParseConfig([]byte(
		`{"rates": {}, "free_windows": {"purchase": "next tuesday"}}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "free_windows.purchase")
}

func TestConfigRoundTrip(t *testing.T) {
	f := factory.NewConfigFactory()
	cfg, err := f.ParseConfig([]byte(programJSON))
	require.NoError(t, err)

	back, err := f.FromJSON(f.ToJSON(cfg))
	require.NoError(t, err)

	assert.Equal(t, cfg.Rates, back.Rates)
	assert.Equal(t, cfg.ReferenceOverrides, back.ReferenceOverrides)
	assert.Equal(t, cfg.RepaymentHierarchy, back.RepaymentHierarchy)
	assert.True(t, cfg.AnnualFee.Equal(back.AnnualFee))
}

func TestParsedConfigDrivesAnAccount(t *testing.T) {
	// The parsed program must be directly usable by the account aggregate.
	cfg, err := factory.NewConfigFactory().ParseConfig([]byte(programJSON))
	require.NoError(t, err)

	opened := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	acct := card.Open("acc-json", cfg, opened, nil, nil)

	// The seeded free window is live until June 1st.
	assert.NotEmpty(t, acct.FreeWindowsExpiringWithin(opened, 365*24*time.Hour))
}
