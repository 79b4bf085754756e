/*
sqlite_test.go - SQLite store tests

All tests run against ":memory:" databases. The journal tests pin down the
two properties the accrual engine depends on: microsecond time fidelity and
chronological ordering.
*/
package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/ledger"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func addr(tt ledger.TransactionType, ref string, c ledger.Component, p ledger.Phase) *ledger.Address {
	a := ledger.NewAddress(tt, ref, c, p)
	return &a
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// JOURNAL
// =============================================================================

func TestJournal_AppendAndLoadChronological(t *testing.T) {
	// GIVEN: Entries appended out of time order
	s := newStore(t)
	ctx := context.Background()

	later := ledger.Entry{
		At:             time.Date(2019, time.January, 5, 12, 0, 0, 0, time.UTC),
		To:             addr(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseCharged),
		Amount:         dec("250.00"),
		Kind:           ledger.EntryPosting,
		Reference:      "p-2",
		IdempotencyKey: "p-2",
	}
	earlier := ledger.Entry{
		At:             time.Date(2019, time.January, 2, 12, 0, 0, 0, time.UTC),
		To:             addr(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseCharged),
		Amount:         dec("1000.00"),
		Kind:           ledger.EntryPosting,
		Reference:      "p-1",
		IdempotencyKey: "p-1",
	}
	require.NoError(t, s.Append(ctx, "acc-1", later))
	require.NoError(t, s.Append(ctx, "acc-1", earlier))

	// WHEN: Loading the account's journal
	entries, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)

	// THEN: Entries come back in chronological order, fields intact
	require.Len(t, entries, 2)
	assert.Equal(t, "p-1", entries[0].Reference)
	assert.Equal(t, "p-2", entries[1].Reference)
	assert.True(t, entries[0].Amount.Equal(dec("1000.00")))
	assert.Equal(t, ledger.EntryPosting, entries[0].Kind)
	require.NotNil(t, entries[0].To)
	assert.Equal(t, ledger.TypePurchase, entries[0].To.TransactionType)
	assert.Nil(t, entries[0].From)
}

func TestJournal_MicrosecondTimesRoundTrip(t *testing.T) {
	// The accrual cutoff is 23:59:59.999999; losing the microseconds would
	// move balances across the day boundary on replay.
	s := newStore(t)
	ctx := context.Background()

	cutoff := time.Date(2019, time.January, 1, 23, 59, 59, 999999000, time.UTC)
	e := ledger.Entry{
		At:             cutoff,
		From:           addr(ledger.TypePurchase, "", ledger.ComponentInterest, ledger.PhaseUncharged),
		To:             addr(ledger.TypePurchase, "", ledger.ComponentInterest, ledger.PhaseCharged),
		Amount:         dec("1.00"),
		Kind:           ledger.EntryTransition,
		IdempotencyKey: "t-1",
	}
	require.NoError(t, s.Append(ctx, "acc-1", e))

	entries, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, entries[0].At.Equal(cutoff), "got %s", entries[0].At)
	assert.True(t, entries[0].IsTransition())
}

func TestJournal_DuplicateIdempotencyKeyRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := ledger.Entry{
		At:             time.Date(2019, time.January, 2, 12, 0, 0, 0, time.UTC),
		To:             addr(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseCharged),
		Amount:         dec("100.00"),
		Kind:           ledger.EntryPosting,
		IdempotencyKey: "p-1",
	}
	require.NoError(t, s.Append(ctx, "acc-1", e))

	err := s.Append(ctx, "acc-1", e)
	assert.ErrorIs(t, err, ledger.ErrDuplicateIdempotencyKey)

	ok, err := s.Exists(ctx, "p-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, "p-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestJournal_LoadRangeBoundsInclusive(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	at := func(d int) time.Time {
		return time.Date(2019, time.January, d, 12, 0, 0, 0, time.UTC)
	}
	for d := 1; d <= 5; d++ {
		e := ledger.Entry{
			At:             at(d),
			To:             addr(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseCharged),
			Amount:         dec("10.00"),
			Kind:           ledger.EntryPosting,
			Reference:      "p",
			IdempotencyKey: "p-" + string(rune('0'+d)),
		}
		require.NoError(t, s.Append(ctx, "acc-1", e))
	}

	entries, err := s.LoadRange(ctx, "acc-1", at(2), at(4))
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.True(t, entries[0].At.Equal(at(2)))
	assert.True(t, entries[2].At.Equal(at(4)))
}

func TestJournal_AccountsAreIsolated(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	e := ledger.Entry{
		At:             time.Date(2019, time.January, 2, 12, 0, 0, 0, time.UTC),
		To:             addr(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseCharged),
		Amount:         dec("100.00"),
		Kind:           ledger.EntryPosting,
		IdempotencyKey: "p-1",
	}
	require.NoError(t, s.Append(ctx, "acc-1", e))

	entries, err := s.Load(ctx, "acc-2")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

// =============================================================================
// STATEMENTS
// =============================================================================

func TestStatements_SaveListGet(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	billedAddr := ledger.NewAddress(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseBilled)
	stmt := card.Statement{
		ID:               "stmt-1",
		AccountID:        "acc-1",
		CutOffAt:         time.Date(2019, time.February, 1, 12, 0, 0, 0, time.UTC),
		DueDate:          time.Date(2019, time.February, 22, 12, 0, 0, 0, time.UTC),
		StatementBalance: dec("1030.00"),
		MinimumDue:       dec("130.00"),
		Billed: map[ledger.Address]decimal.Decimal{
			billedAddr: dec("1000.00"),
		},
	}
	require.NoError(t, s.SaveStatement(ctx, stmt))

	// Replayed persistence of the same statement is a no-op, not an error.
	require.NoError(t, s.SaveStatement(ctx, stmt))

	list, err := s.ListStatements(ctx, "acc-1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].StatementBalance.Equal(dec("1030.00")))
	assert.True(t, list[0].Billed[billedAddr].Equal(dec("1000.00")))
	assert.True(t, list[0].DueDate.Equal(stmt.DueDate))

	got, err := s.GetStatement(ctx, "stmt-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, card.AccountID("acc-1"), got.AccountID)

	missing, err := s.GetStatement(ctx, "stmt-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAccounts_UpsertKeepsOpenedAt(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	opened := time.Date(2019, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveAccount(ctx, AccountRecord{
		ID: "acc-1", ConfigJSON: `{"rates":{}}`, OpenedAt: opened,
	}))

	// A config swap updates the JSON only.
	require.NoError(t, s.SaveAccount(ctx, AccountRecord{
		ID: "acc-1", ConfigJSON: `{"rates":{"purchase":{"annual_rate":"0.24"}}}`, OpenedAt: opened,
	}))

	rec, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Contains(t, rec.ConfigJSON, "0.24")
	assert.True(t, rec.OpenedAt.Equal(opened))

	all, err := s.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	missing, err := s.GetAccount(ctx, "acc-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestReset_ClearsAllTables(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	require.NoError(t, s.Append(ctx, "acc-1", ledger.Entry{
		At:             time.Date(2019, time.January, 2, 12, 0, 0, 0, time.UTC),
		To:             addr(ledger.TypePurchase, "", ledger.ComponentPrincipal, ledger.PhaseCharged),
		Amount:         dec("100.00"),
		Kind:           ledger.EntryPosting,
		IdempotencyKey: "p-1",
	}))
	require.NoError(t, s.SaveAccount(ctx, AccountRecord{
		ID: "acc-1", ConfigJSON: "{}", OpenedAt: time.Now(),
	}))

	require.NoError(t, s.Reset(ctx))

	entries, err := s.Load(ctx, "acc-1")
	require.NoError(t, err)
	assert.Empty(t, entries)

	rec, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
