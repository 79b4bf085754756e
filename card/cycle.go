/*
cycle.go - Statement-cycle state machine

PURPOSE:
  Makes the monthly billing cycle an explicit finite state machine instead
  of implicit wall-clock coupling:

      Open --(SCOD)--> Cutoff --(PDD)--> DueEvaluated --(SCOD)--> Cutoff ...

  Transitions are pure functions of (state, event); the handlers in
  statement.go and paymentdue.go apply the balance effects only after the
  transition is accepted. Replaying an event against a state that cannot
  accept it is either an explicit no-op (PDD on an already-evaluated cycle)
  or an ordering error (PDD before any statement, a second cut-off for an
  open statement) - never a best-effort reorder.
*/
package card

import "time"

// =============================================================================
// CYCLE STATE
// =============================================================================

type CycleState string

const (
	// CycleOpen: spending period, no statement outstanding.
	CycleOpen CycleState = "open"
	// CycleCutoff: a statement has been cut; awaiting the payment due date.
	CycleCutoff CycleState = "cutoff"
	// CycleDueEvaluated: the due date has been processed; the next cut-off
	// opens the following cycle.
	CycleDueEvaluated CycleState = "due_evaluated"
)

// Cycle carries the per-account billing cycle state.
type Cycle struct {
	State     CycleState
	OpenedAt  time.Time
	Statement *Statement // most recent statement; nil before the first SCOD

	// lastAccrualDay guards the daily accrual against same-day replays.
	lastAccrualDay time.Time
}

func newCycle(openedAt time.Time) Cycle {
	return Cycle{State: CycleOpen, OpenedAt: openedAt}
}

// canCutOff reports whether a statement cut-off is acceptable now.
// A second cut-off while a statement is still awaiting its due date is an
// ordering error.
func (c Cycle) canCutOff() bool {
	return c.State == CycleOpen || c.State == CycleDueEvaluated
}

// dueDisposition classifies an incoming payment-due event.
type dueDisposition int

const (
	dueProceed dueDisposition = iota
	dueReplay                 // cycle already evaluated: no-op
	dueOrphan                 // no statement to evaluate: ordering error
)

func (c Cycle) due() dueDisposition {
	switch c.State {
	case CycleCutoff:
		return dueProceed
	case CycleDueEvaluated:
		return dueReplay
	default:
		return dueOrphan
	}
}

// accruedOn reports whether the daily accrual already ran on this calendar day.
func (c Cycle) accruedOn(at time.Time) bool {
	if c.lastAccrualDay.IsZero() {
		return false
	}
	y1, m1, d1 := c.lastAccrualDay.Date()
	y2, m2, d2 := at.Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}
