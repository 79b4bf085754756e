package card_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// WINDOW SEMANTICS
// =============================================================================

func TestWindows_IsFreeHalfOpenInterval(t *testing.T) {
	w := card.NewWindows()
	expiry := day(15)
	w.Set(ledger.TypePurchase, "", expiry)

	assert.True(t, w.IsFree(ledger.TypePurchase, "", day(14)))
	assert.True(t, w.IsFree(ledger.TypePurchase, "", expiry.Add(-time.Microsecond)))
	assert.False(t, w.IsFree(ledger.TypePurchase, "", expiry), "expiry instant itself is not free")
	assert.False(t, w.IsFree(ledger.TypePurchase, "", day(16)))
}

func TestWindows_UnknownKeyIsNeverFree(t *testing.T) {
	w := card.NewWindows()
	w.Set(ledger.TypePurchase, "", day(15))

	assert.False(t, w.IsFree(ledger.TypeCashAdvance, "", day(5)))
	assert.False(t, w.IsFree(ledger.TypePurchase, "promo-1", day(5)),
		"a reference-level window is distinct from the type-level one")
}

func TestWindows_ExpireIsIdempotent(t *testing.T) {
	w := card.NewWindows()
	w.Set(ledger.TypePurchase, "", day(15))

	w.Expire(ledger.TypePurchase, "")
	assert.False(t, w.IsFree(ledger.TypePurchase, "", day(5)))

	w.Expire(ledger.TypePurchase, "")
	w.Expire(ledger.TypeCashAdvance, "never-set")
	assert.Empty(t, w.Open(day(1)))
}

func TestWindows_SetReopensAfterExpire(t *testing.T) {
	// Only an explicit parameter change brings a window back.
	w := card.NewWindows()
	w.Set(ledger.TypePurchase, "", day(15))
	w.Expire(ledger.TypePurchase, "")

	w.Set(ledger.TypePurchase, "", febDay(15))
	assert.True(t, w.IsFree(ledger.TypePurchase, "", day(20)))
}

// =============================================================================
// ENUMERATION
// =============================================================================

func TestWindows_OpenIsSortedAndExcludesPast(t *testing.T) {
	w := card.NewWindows()
	w.Set(ledger.TypePurchase, "", day(10))
	w.Set(ledger.TypeBalanceTransfer, "bt-1", day(20))
	w.Set(ledger.TypeCashAdvance, "", day(20))

	open := w.Open(day(12))
	if assert.Len(t, open, 2) {
		assert.Equal(t, "balance_transfer:bt-1", open[0].String())
		assert.Equal(t, "cash_advance", open[1].String())
	}
}

func TestWindows_ExpiringWithin(t *testing.T) {
	w := card.NewWindows()
	w.Set(ledger.TypePurchase, "", day(10))
	w.Set(ledger.TypeBalanceTransfer, "bt-1", day(12))
	w.Set(ledger.TypeCashAdvance, "", day(30))

	// (day 9, day 9 + 3d] catches days 10 and 12, not 30.
	soon := w.ExpiringWithin(day(9), 3*24*time.Hour)
	if assert.Len(t, soon, 2) {
		assert.Equal(t, "balance_transfer:bt-1", soon[0].String())
		assert.Equal(t, "purchase", soon[1].String())
	}

	// A window expiring exactly at the horizon is included; one expiring
	// exactly at asOf is not.
	edge := w.ExpiringWithin(day(10), 2*24*time.Hour)
	if assert.Len(t, edge, 1) {
		assert.Equal(t, "balance_transfer:bt-1", edge[0].String())
	}
}
