/*
scheduler.go - Scheduled billing-event runner

PURPOSE:
  Periodically fires the four scheduled handlers against every registered
  account:

  - Daily interest accrual (idempotent per calendar day)
  - Statement cut-off, one month after the previous cut-off (or opening)
  - Payment-due evaluation, once the statement's due date has passed
  - Annual fee on the opening anniversary

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Event detection is pure state inspection: the cycle state machine and
    the statement dates say what is due, the runner never keeps its own
    calendar for the cycle
  - A single account's failure (e.g. missing rate) is logged and retried on
    the next tick; it never blocks the other accounts

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether the runner is active (default: true)
  - Now: Clock source, injectable for tests

USAGE:
  runner := NewScheduleRunner(store, registry)
  runner.Start()
  // ... later
  runner.Stop()

SEE ALSO:
  - handlers.go: the /api/admin endpoints (manual triggers)
  - card/cycle.go: the state machine the runner inspects
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/store/sqlite"
)

// ScheduleRunner drives the scheduled billing events.
type ScheduleRunner struct {
	Store         *sqlite.Store
	Registry      *Registry
	CheckInterval time.Duration
	Enabled       bool

	// Now is the clock source; tests replace it.
	Now func() time.Time

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex

	// feeYears tracks how many opening anniversaries each account has been
	// charged for since this process observed it.
	feeYears map[card.AccountID]int
}

// NewScheduleRunner creates a new runner.
func NewScheduleRunner(store *sqlite.Store, registry *Registry) *ScheduleRunner {
	return &ScheduleRunner{
		Store:         store,
		Registry:      registry,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           time.Now,
		stop:          make(chan bool),
		feeYears:      make(map[card.AccountID]int),
	}
}

// Start begins the runner.
func (sr *ScheduleRunner) Start() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if !sr.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	sr.ticker = time.NewTicker(sr.CheckInterval)
	sr.wg.Add(1)

	go sr.run()

	log.Printf("[Scheduler] Started with check interval: %v", sr.CheckInterval)
}

// Stop stops the runner.
func (sr *ScheduleRunner) Stop() {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	if sr.ticker != nil {
		sr.ticker.Stop()
		close(sr.stop)
		sr.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (sr *ScheduleRunner) run() {
	defer sr.wg.Done()

	// Run immediately on start
	sr.checkAndProcess()

	for {
		select {
		case <-sr.ticker.C:
			sr.checkAndProcess()
		case <-sr.stop:
			return
		}
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (sr *ScheduleRunner) RunNow() {
	sr.checkAndProcess()
}

func (sr *ScheduleRunner) checkAndProcess() {
	ctx := context.Background()
	now := sr.Now()

	for _, acct := range sr.Registry.List() {
		sr.processAccount(ctx, acct, now)
	}
}

// processAccount fires every event that is due for one account, in causal
// order: accrual first (interest up to yesterday), then cut-off, then due.
func (sr *ScheduleRunner) processAccount(ctx context.Context, acct *card.Account, now time.Time) {
	id := acct.ID

	if err := acct.AccrueInterest(ctx, now); err != nil {
		log.Printf("[Scheduler] Accrual failed for %s: %v", id, err)
	}

	if sr.cutOffDue(acct, now) {
		stmt, err := acct.CutOff(ctx, now)
		if err != nil {
			log.Printf("[Scheduler] Cut-off failed for %s: %v", id, err)
		} else {
			if err := sr.Store.SaveStatement(ctx, *stmt); err != nil {
				log.Printf("[Scheduler] Statement save failed for %s: %v", id, err)
			}
			log.Printf("[Scheduler] Cut statement %s for %s: balance=%s due=%s",
				stmt.ID, id, stmt.StatementBalance, stmt.MinimumDue)
		}
	}

	if stmt := acct.CurrentStatement(); stmt != nil &&
		acct.CycleState() == card.CycleCutoff && now.After(stmt.DueDate) {
		if err := acct.EvaluateDue(ctx, now); err != nil {
			log.Printf("[Scheduler] Due evaluation failed for %s: %v", id, err)
		} else {
			log.Printf("[Scheduler] Evaluated payment due for %s", id)
		}
	}

	sr.chargeAnniversaryFee(ctx, acct, now)
}

// cutOffDue reports whether a statement cut-off is due: one month after the
// previous cut-off (or after opening, for the first statement), and never
// while a statement is still awaiting its due date.
func (sr *ScheduleRunner) cutOffDue(acct *card.Account, now time.Time) bool {
	if acct.CycleState() == card.CycleCutoff {
		return false
	}
	anchor := acct.OpenedAt()
	if stmt := acct.CurrentStatement(); stmt != nil {
		anchor = stmt.CutOffAt
	}
	return !now.Before(anchor.AddDate(0, 1, 0))
}

// chargeAnniversaryFee charges the annual fee when an opening anniversary
// passes while the process is running. Anniversaries that passed before this
// process observed the account are taken as already charged.
func (sr *ScheduleRunner) chargeAnniversaryFee(ctx context.Context, acct *card.Account, now time.Time) {
	years := anniversaries(acct.OpenedAt(), now)

	sr.mu.Lock()
	seen, known := sr.feeYears[acct.ID]
	if !known {
		sr.feeYears[acct.ID] = years
		sr.mu.Unlock()
		return
	}
	if years <= seen {
		sr.mu.Unlock()
		return
	}
	sr.feeYears[acct.ID] = years
	sr.mu.Unlock()

	if err := acct.ChargeAnnualFee(ctx, now); err != nil {
		log.Printf("[Scheduler] Annual fee failed for %s: %v", acct.ID, err)
	} else {
		log.Printf("[Scheduler] Charged annual fee for %s (year %d)", acct.ID, years)
	}
}

// anniversaries counts whole opening anniversaries between openedAt and now.
func anniversaries(openedAt, now time.Time) int {
	years := 0
	for !now.Before(openedAt.AddDate(years+1, 0, 0)) {
		years++
	}
	return years
}
