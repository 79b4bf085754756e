/*
registry.go - Live account registry and collaborator implementations

PURPOSE:
  The process-wide set of open accounts. The journal store is the durable
  artifact; the registry holds the rehydrated aggregates that serve requests
  and scheduled events. It also provides the two collaborator implementations
  the HTTP layer wires into every account:

  - FlagStore: a mutable card.FlagSource the flag endpoints write to
  - LogNotifier: a card.Notifier that logs notifications instead of
    delivering them to a real workflow engine

REHYDRATION:
  LoadAccounts replays each stored account's journal through card.Restore.
  Balances come back exactly; the cycle state machine restarts open (the
  statement history lives in the statement table).

SEE ALSO:
  - handlers.go: the HTTP layer reading and mutating the registry
  - card/account.go: the aggregate the registry holds
*/
package api

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/store/sqlite"
)

// =============================================================================
// FLAG STORE
// =============================================================================

// FlagStore is a mutable card.FlagSource. The flag endpoints raise and clear
// flags; the accrual and payment-due handlers read them.
type FlagStore struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewFlagStore creates an empty flag store.
func NewFlagStore() *FlagStore {
	return &FlagStore{flags: make(map[string]bool)}
}

// ActiveFlags implements card.FlagSource.
func (f *FlagStore) ActiveFlags(card.AccountID, time.Time) map[string]bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]bool, len(f.flags))
	for k, v := range f.flags {
		out[k] = v
	}
	return out
}

// Set replaces the whole flag set.
func (f *FlagStore) Set(flags map[string]bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags = make(map[string]bool, len(flags))
	for k, v := range flags {
		f.flags[k] = v
	}
}

// Raise activates one flag.
func (f *FlagStore) Raise(flag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flags[flag] = true
}

// Clear deactivates one flag.
func (f *FlagStore) Clear(flag string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.flags, flag)
}

// Active returns the sorted names of the active flags.
func (f *FlagStore) Active() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []string
	for k, v := range f.flags {
		if v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

var _ card.FlagSource = (*FlagStore)(nil)

// =============================================================================
// LOG NOTIFIER
// =============================================================================

// LogNotifier logs notifications. A production deployment would hand them to
// the scheduled-workflow engine instead; the engine-side contract is the
// same either way (fire-and-forget, no error return).
type LogNotifier struct{}

func (LogNotifier) Notify(n card.Notification) {
	log.Printf("[Notify] %s account=%s at=%s details=%v",
		n.Type, n.AccountID, n.At.Format(time.RFC3339), n.Details)
}

// =============================================================================
// REGISTRY
// =============================================================================

// entry pairs an account with its mutable flag store.
type entry struct {
	account *card.Account
	flags   *FlagStore
}

// Registry holds the live accounts, keyed by id.
type Registry struct {
	mu       sync.RWMutex
	accounts map[card.AccountID]*entry
	notifier card.Notifier
}

// NewRegistry creates an empty registry. notifier may be nil (logged).
func NewRegistry(notifier card.Notifier) *Registry {
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Registry{
		accounts: make(map[card.AccountID]*entry),
		notifier: notifier,
	}
}

// Open creates a new account, wires its collaborators and registers it.
func (r *Registry) Open(id card.AccountID, cfg card.Config, openedAt time.Time, journal *sqlite.Store) (*card.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.accounts[id]; ok {
		return nil, card.ErrAccountExists
	}

	flags := NewFlagStore()
	acct := card.Open(id, cfg, openedAt, flags, r.notifier)
	if journal != nil {
		acct.WithJournal(journal)
	}
	r.accounts[id] = &entry{account: acct, flags: flags}
	return acct, nil
}

// Get returns a registered account.
func (r *Registry) Get(id card.AccountID) (*card.Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.accounts[id]
	if !ok {
		return nil, card.ErrAccountNotFound
	}
	return e.account, nil
}

// Flags returns an account's flag store.
func (r *Registry) Flags(id card.AccountID) (*FlagStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.accounts[id]
	if !ok {
		return nil, card.ErrAccountNotFound
	}
	return e.flags, nil
}

// List returns all registered accounts, ordered by id.
func (r *Registry) List() []*card.Account {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]card.AccountID, 0, len(r.accounts))
	for id := range r.accounts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]*card.Account, len(ids))
	for i, id := range ids {
		out[i] = r.accounts[id].account
	}
	return out
}

// LoadAccounts rehydrates every stored account from its journal.
func (r *Registry) LoadAccounts(ctx context.Context, store *sqlite.Store, f *factory.ConfigFactory) error {
	records, err := store.ListAccounts(ctx)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, rec := range records {
		cfg, err := f.ParseConfig([]byte(rec.ConfigJSON))
		if err != nil {
			log.Printf("[Registry] Skipping account %s: bad config: %v", rec.ID, err)
			continue
		}
		entries, err := store.Load(ctx, rec.ID)
		if err != nil {
			return err
		}
		flags := NewFlagStore()
		acct, err := card.Restore(card.AccountID(rec.ID), cfg, rec.OpenedAt, flags, r.notifier, entries)
		if err != nil {
			return err
		}
		acct.WithJournal(store)
		r.accounts[acct.ID] = &entry{account: acct, flags: flags}
	}

	if len(records) > 0 {
		log.Printf("[Registry] Rehydrated %d accounts", len(records))
	}
	return nil
}

// Reset drops all registered accounts (for tests and demo resets).
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts = make(map[card.AccountID]*entry)
}
