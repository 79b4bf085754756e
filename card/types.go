// Package card implements the revolving-credit product on top of the ledger
// package: daily interest accrual, monthly statement cut-off, payment-due
// evaluation, arrears aging and repayment allocation.
package card

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string

// =============================================================================
// POSTINGS - External movements produced by the settlement validator
// =============================================================================

// Direction of a posting relative to the account's debt.
type Direction string

const (
	DirectionDebit  Direction = "debit"  // increases debt (purchase, advance, fee)
	DirectionCredit Direction = "credit" // decreases debt (refund, repayment)
)

// Posting is one settled movement. Limit checks (credit limit, per-type
// spend limits) are the upstream validator's responsibility; by the time a
// posting reaches this package it is accepted.
type Posting struct {
	ID              string
	TransactionType ledger.TransactionType
	Reference       string // sub-ledger key for multi-instance types, else empty
	Component       ledger.Component
	Amount          decimal.Decimal
	Direction       Direction
	At              time.Time
}

// =============================================================================
// NOTIFICATIONS - Fire-and-forget output for workflow collaborators
// =============================================================================

type NotificationType string

const (
	NotifyStatementCutOff          NotificationType = "STATEMENT_CUT_OFF"
	NotifyPaymentDue               NotificationType = "PAYMENT_DUE"
	NotifyInterestFreePeriodsExpired NotificationType = "INTEREST_FREE_PERIODS_EXPIRED"
)

// Notification is dispatched to the workflow collaborator. Dispatch is a
// side effect of a balance transition, never part of it: a failed or slow
// delivery must not roll anything back, which is why Notifier has no error
// return.
type Notification struct {
	ID        string
	Type      NotificationType
	AccountID AccountID
	At        time.Time
	Details   map[string]string
}

type Notifier interface {
	Notify(n Notification)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(Notification) {}

// =============================================================================
// FLAG SOURCE - Read-only external collaborator
// =============================================================================

// FlagSource answers which account-level flags are active at an instant.
// Flags drive accrual blocking and the MAD holiday/full-balance overrides.
type FlagSource interface {
	ActiveFlags(account AccountID, asOf time.Time) map[string]bool
}

// StaticFlags is a FlagSource with a fixed flag set, for tests and demos.
type StaticFlags map[string]bool

func (f StaticFlags) ActiveFlags(AccountID, time.Time) map[string]bool { return f }

// NoFlags is a FlagSource that never reports any active flag.
var NoFlags FlagSource = StaticFlags(nil)
