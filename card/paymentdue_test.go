package card_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// PAID PATH - FORGIVENESS
// =============================================================================

func TestEvaluateDue_PaidForgivesFreePeriodInterest(t *testing.T) {
	// GIVEN: An active interest-free window with accrued forgivable interest
	//        and the minimum amount due paid on time
	// THEN:  The free-period bucket is exactly 0 immediately after the due
	//        evaluation, regardless of its pre-PDD value

	acct, _ := newTestAccount(t)
	ctx := context.Background()

	acct.SetFreeWindow(ledger.TypePurchase, "", febDay(28))
	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	accrueDays(t, acct, day(3), 20)

	free := interestAddr(ledger.TypePurchase, ledger.PhaseFreePeriodUncharged)
	require.True(t, acct.Balance(free).Equal(dec("20.000")))

	stmt, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	_, err = acct.Repay(ctx, stmt.MinimumDue, febDay(10))
	require.NoError(t, err)

	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	assert.True(t, acct.Balance(free).IsZero(), "forgiven bucket must be exactly 0")
	assert.False(t, acct.Revolver())
	// Billed balances remain due, untouched by the paid path.
	assert.True(t, acct.Balance(principalAddr(ledger.TypePurchase, ledger.PhaseBilled)).IsPositive())
}

func TestEvaluateDue_HolidayFlagTriviallySatisfiesMAD(t *testing.T) {
	flags := &mutableFlags{}
	acct := card.Open("acc-hol", testConfig(), day(1), flags, nil)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	accrueDays(t, acct, day(3), 5)
	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)

	// Nothing repaid, but the holiday flag is active at the due date.
	flags.raise("REPAYMENT_HOLIDAY")
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	assert.False(t, acct.Revolver())
	assert.True(t, acct.Balance(principalAddr(ledger.TypePurchase, ledger.PhaseUnpaid)).IsZero(),
		"holiday suppresses aging")
}

// =============================================================================
// UNPAID PATH - DEFAULT
// =============================================================================

func TestEvaluateDue_UnpaidPromotesFreePeriodInterest(t *testing.T) {
	// GIVEN: The same free window, but the minimum amount due unpaid
	// THEN:  The full accrued free-period bucket appears in INTEREST CHARGED,
	//        plus one more day of ordinary accrual afterwards

	acct, _ := newTestAccount(t)
	ctx := context.Background()

	acct.SetFreeWindow(ledger.TypePurchase, "", febDay(28))
	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	accrueDays(t, acct, day(3), 20)

	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	charged := interestAddr(ledger.TypePurchase, ledger.PhaseCharged)
	require.True(t, acct.Balance(charged).Equal(dec("20.00")),
		"promoted free-period interest: %v", acct.Balance(charged))
	assert.True(t, acct.Revolver())

	// The window was expired at default: the next day's accrual is ordinary
	// revolver accrual, straight to CHARGED.
	require.NoError(t, acct.AccrueInterest(ctx, febDay(22)))
	assert.True(t, acct.Balance(charged).Equal(dec("21.00")),
		"one additional day's ordinary accrual: %v", acct.Balance(charged))
}

func TestEvaluateDue_UnpaidAgesBalancesThroughLadder(t *testing.T) {
	// BILLED -> UNPAID on the first default, UNPAID -> OVERDUE_2 on the
	// second. The ladder depth is 2: OVERDUE_2 absorbs and stays.

	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))

	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	unpaid := principalAddr(ledger.TypePurchase, ledger.PhaseUnpaid)
	require.True(t, acct.Balance(unpaid).Equal(dec("1000.00")))

	// Second cycle, still nothing paid.
	_, err = acct.CutOff(ctx, febDay(28))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, time.Date(2019, time.March, 21, 12, 0, 0, 0, time.UTC)))

	overdue2 := principalAddr(ledger.TypePurchase, ledger.OverduePhase(2))
	assert.True(t, acct.Balance(overdue2).Equal(dec("1000.00")), "got %v", acct.Balance(overdue2))
	assert.True(t, acct.Balance(unpaid).IsZero())
}

func TestEvaluateDue_UnpaidChargesLateFee(t *testing.T) {
	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	feeAddr := ledger.NewAddress(ledger.TypeFees, "", ledger.ComponentFee, ledger.PhaseCharged)
	assert.True(t, acct.Balance(feeAddr).Equal(dec("25.00")))
}

func TestEvaluateDue_UnpaidExpiresOpenWindows(t *testing.T) {
	// GIVEN: Two open interest-free windows at default
	// THEN:  Both are expired and the workflow collaborator is notified

	acct, rec := newTestAccount(t)
	ctx := context.Background()

	acct.SetFreeWindow(ledger.TypePurchase, "", febDay(28))
	acct.SetFreeWindow(ledger.TypeBalanceTransfer, "bt-1", febDay(28))
	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))

	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	notes := rec.byType(card.NotifyInterestFreePeriodsExpired)
	require.Len(t, notes, 1)
	assert.Equal(t, "balance_transfer:bt-1,purchase", notes[0].Details["expired"])

	// Expired windows stay expired: accrual routes normally now.
	require.NoError(t, acct.AccrueInterest(ctx, febDay(22)))
	assert.True(t, acct.Balance(interestAddr(ledger.TypePurchase, ledger.PhaseFreePeriodUncharged)).IsZero())
}

// =============================================================================
// IDEMPOTENCE AND ORDERING
// =============================================================================

func TestEvaluateDue_ReplayIsNoOp(t *testing.T) {
	// Replaying the due evaluation for an already-processed cycle must not
	// change a single balance (no double aging, no second late fee).

	acct, _ := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	before := acct.Balances()
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))
	require.NoError(t, acct.EvaluateDue(ctx, febDay(22)))

	after := acct.Balances()
	require.Equal(t, len(before), len(after))
	for addr, v := range before {
		assert.True(t, after[addr].Equal(v), "%s changed on replay", addr)
	}
}

func TestEvaluateDue_BeforeAnyStatementIsOrderingError(t *testing.T) {
	acct, _ := newTestAccount(t)
	err := acct.EvaluateDue(context.Background(), day(15))
	require.Error(t, err)
	assert.ErrorIs(t, err, card.ErrOutOfOrder)

	var ordErr *card.OrderingError
	require.ErrorAs(t, err, &ordErr)
	assert.Equal(t, card.CycleOpen, ordErr.State)
}

func TestEvaluateDue_EmitsPaymentDueNotification(t *testing.T) {
	acct, rec := newTestAccount(t)
	ctx := context.Background()

	require.NoError(t, acct.ApplyPosting(ctx, purchasePosting("p-1", "1000.00", day(2))))
	_, err := acct.CutOff(ctx, day(31))
	require.NoError(t, err)
	require.NoError(t, acct.EvaluateDue(ctx, febDay(21)))

	notes := rec.byType(card.NotifyPaymentDue)
	require.Len(t, notes, 1)
	assert.Equal(t, "false", notes[0].Details["mad_paid"])
}
