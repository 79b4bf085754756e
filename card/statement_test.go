package card_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// CUT-OFF MECHANICS
// =============================================================================

func TestCutOff_BillsChargedBalances(t *testing.T) {
	// GIVEN: A purchase of 1000 and ten days of accrued uncharged interest
	// WHEN:  The statement cuts off
	// THEN:  Principal and the promoted interest are billed; uncharged is empty

	acct, rec := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	accrueDays(t, acct, day(3), 10)

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)

	assert.True(t, acct.Balance(principalAddr(ledger.TypePurchase, ledger.PhaseBilled)).Equal(dec("1000.00")))
	assert.True(t, acct.Balance(interestAddr(ledger.TypePurchase, ledger.PhaseBilled)).Equal(dec("10.00")))
	assert.True(t, acct.Balance(interestAddr(ledger.TypePurchase, ledger.PhaseUncharged)).IsZero())
	assert.True(t, acct.Balance(principalAddr(ledger.TypePurchase, ledger.PhaseCharged)).IsZero())

	assert.True(t, stmt.StatementBalance.Equal(dec("1010.00")), "balance: %v", stmt.StatementBalance)
	assert.Equal(t, card.CycleCutoff, acct.CycleState())

	notes := rec.byType(card.NotifyStatementCutOff)
	require.Len(t, notes, 1)
	assert.Equal(t, stmt.ID, notes[0].Details["statement_id"])
}

func TestCutOff_MinimumAmountDue(t *testing.T) {
	// MAD = 1% of billed principal + 100% of billed interest + 100% of fees

	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	require.NoError(t, acct.ChargeAnnualFee(ctx, day(2)))
	accrueDays(t, acct, day(3), 10)

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)

	// 10.00 principal share + 10.00 interest + 100.00 annual fee
	assert.True(t, stmt.MinimumDue.Equal(dec("120.00")), "MAD: %v", stmt.MinimumDue)
	assert.Equal(t, stmt.CutOffAt.AddDate(0, 0, 21), stmt.DueDate)
}

func TestCutOff_FlatMinimumWinsWhenLarger(t *testing.T) {
	cfg := testConfig()
	cfg.FlatMinimumDue = dec("50.00")
	acct := card.Open("acc-flat", cfg, day(1), nil, nil)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	assert.True(t, stmt.MinimumDue.Equal(dec("50.00")), "MAD: %v", stmt.MinimumDue)
}

func TestCutOff_FlatMinimumCappedAtBalance(t *testing.T) {
	cfg := testConfig()
	cfg.FlatMinimumDue = dec("50.00")
	acct := card.Open("acc-small", cfg, day(1), nil, nil)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "30.00", day(2))))

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	assert.True(t, stmt.MinimumDue.Equal(dec("30.00")), "MAD: %v", stmt.MinimumDue)
}

func TestCutOff_FullBalanceFlagBillsEverything(t *testing.T) {
	acct := card.Open("acc-wo", testConfig(), day(1),
		card.StaticFlags{"APPROACHING_WRITE_OFF": true}, nil)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	assert.True(t, stmt.MinimumDue.Equal(stmt.StatementBalance))
}

func TestCutOff_RepaymentHolidayForcesZeroMAD(t *testing.T) {
	acct := card.Open("acc-holiday", testConfig(), day(1),
		card.StaticFlags{"REPAYMENT_HOLIDAY": true}, nil)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	assert.True(t, stmt.MinimumDue.IsZero(), "MAD: %v", stmt.MinimumDue)
}

// =============================================================================
// ORDERING AND IMMUTABILITY
// =============================================================================

func TestCutOff_SecondCutOffForSameCycleRejected(t *testing.T) {
	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "100.00", day(2))))
	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)

	_, err = acct.CutOff(ctx, febDay(1))
	require.Error(t, err)
	assert.ErrorIs(t, err, card.ErrOutOfOrder)
}

func TestCutOff_StatementsAreSupersededNotMutated(t *testing.T) {
	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "100.00", day(2))))
	first, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)

	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))
	second, err := acct.CutOff(ctx, febDay(28))
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	history := acct.Statements()
	require.Len(t, history, 2)
	assert.Equal(t, first.ID, history[0].ID)
	assert.True(t, history[0].StatementBalance.Equal(first.StatementBalance),
		"earlier statement must not change")
}

func TestCutOff_ResetsRepaymentCounter(t *testing.T) {
	// GIVEN: A repayment made during the previous cycle
	// THEN:  It does not count toward the new statement's MAD

	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	_, err := acct.Repay(ctx, dec("500.00"), day(10))
	require.NoError(t, err)

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.True(t, stmt.MinimumDue.IsPositive())

	// No repayment after the cut-off: the due evaluation must see zero
	// repaid and default, despite the 500 paid before the statement.
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))
	assert.True(t, acct.Revolver())
}
