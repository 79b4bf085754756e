/*
handlers.go - HTTP API handlers for the credit engine

PURPOSE:
  Exposes the billing engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to the account aggregates.

ENDPOINTS:
  Accounts:
    GET    /api/accounts                   List accounts
    POST   /api/accounts                   Open account
    GET    /api/accounts/{id}              Account details
    PUT    /api/accounts/{id}/config       Swap configuration
    GET    /api/accounts/{id}/balances     Balance snapshot
    GET    /api/accounts/{id}/journal      Movement journal
    GET    /api/accounts/{id}/statements   Statement history
    GET    /api/accounts/{id}/statements/current  Latest statement
    POST   /api/accounts/{id}/postings     Apply a settled posting
    POST   /api/accounts/{id}/repayments   Apply a repayment
    GET    /api/accounts/{id}/flags        Active flags
    PUT    /api/accounts/{id}/flags        Replace active flags
    POST   /api/accounts/{id}/windows      Configure an interest-free window

  Admin (manual scheduled-event triggers):
    POST   /api/admin/accrue               Daily interest accrual
    POST   /api/admin/cutoff               Statement cut-off
    POST   /api/admin/due                  Payment-due evaluation
    POST   /api/admin/annual-fee           Annual fee
    POST   /api/admin/reset                Drop all data (dev only)

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input, negative amounts
  - 404: Unknown account or statement
  - 409: Conflict (idempotency replay, out-of-order event, overdrawn move)
  - 422: Unusable configuration (bad decimal, missing rate)
  - 500: Internal errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - registry.go: Live account registry
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
	"github.com/warp/credit-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store         *sqlite.Store
	Registry      *Registry
	ConfigFactory *factory.ConfigFactory
}

// NewHandler creates a new handler with the given store and registry.
func NewHandler(store *sqlite.Store, registry *Registry) *Handler {
	return &Handler{
		Store:         store,
		Registry:      registry,
		ConfigFactory: factory.NewConfigFactory(),
	}
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns all registered accounts.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts := h.Registry.List()
	dtos := make([]AccountDTO, len(accounts))
	for i, a := range accounts {
		flags, _ := h.Registry.Flags(a.ID)
		dtos[i] = toAccountDTO(a, flags)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// OpenAccount opens a new account from a JSON program definition.
func (h *Handler) OpenAccount(w http.ResponseWriter, r *http.Request) {
	var req OpenAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Account id is required", nil)
		return
	}

	cfg, err := h.ConfigFactory.FromJSON(req.Config)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Unusable configuration", err)
		return
	}

	openedAt, err := parseTime(req.OpenedAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid opened_at", err)
		return
	}

	acct, err := h.Registry.Open(card.AccountID(req.ID), cfg, openedAt, h.Store)
	if err != nil {
		writeDomainError(w, "Failed to open account", err)
		return
	}

	configJSON, _ := json.Marshal(h.ConfigFactory.ToJSON(cfg))
	if err := h.Store.SaveAccount(r.Context(), sqlite.AccountRecord{
		ID:         req.ID,
		ConfigJSON: string(configJSON),
		OpenedAt:   openedAt,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save account", err)
		return
	}

	flags, _ := h.Registry.Flags(acct.ID)
	writeJSON(w, http.StatusCreated, toAccountDTO(acct, flags))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	flags, _ := h.Registry.Flags(acct.ID)
	writeJSON(w, http.StatusOK, toAccountDTO(acct, flags))
}

// UpdateConfig swaps an account's configuration. Takes effect from the next
// scheduled event; nothing already accrued or billed is revisited.
func (h *Handler) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	var req UpdateConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	cfg, err := h.ConfigFactory.FromJSON(req.Config)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Unusable configuration", err)
		return
	}
	acct.SetConfig(cfg)
	for key, expiry := range cfg.FreeWindows {
		tt, ref := splitWindowKey(key)
		acct.SetFreeWindow(tt, ref, expiry)
	}

	configJSON, _ := json.Marshal(h.ConfigFactory.ToJSON(cfg))
	if err := h.Store.SaveAccount(r.Context(), sqlite.AccountRecord{
		ID:         string(acct.ID),
		ConfigJSON: string(configJSON),
		OpenedAt:   acct.OpenedAt(),
	}); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save configuration", err)
		return
	}

	flags, _ := h.Registry.Flags(acct.ID)
	writeJSON(w, http.StatusOK, toAccountDTO(acct, flags))
}

// GetBalances returns the non-zero balance snapshot.
func (h *Handler) GetBalances(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	balances := acct.Balances()
	writeJSON(w, http.StatusOK, BalanceSummaryDTO{
		AccountID:   string(acct.ID),
		Outstanding: outstandingOf(balances).String(),
		Balances:    toBalanceDTOs(balances),
	})
}

// GetJournal returns the full movement journal.
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(acct.Journal()))
}

// GetStatements returns the statement history, oldest first. Reads from the
// statement store so history survives restarts.
func (h *Handler) GetStatements(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	statements, err := h.Store.ListStatements(r.Context(), string(acct.ID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list statements", err)
		return
	}
	dtos := make([]StatementDTO, len(statements))
	for i, s := range statements {
		dtos[i] = toStatementDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetCurrentStatement returns the latest statement.
func (h *Handler) GetCurrentStatement(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	stmt := acct.CurrentStatement()
	if stmt == nil {
		writeError(w, http.StatusNotFound, "No statement yet", nil)
		return
	}
	writeJSON(w, http.StatusOK, toStatementDTO(*stmt))
}

// =============================================================================
// POSTING AND REPAYMENT HANDLERS
// =============================================================================

// CreatePosting applies one settled posting. The posting id is the
// idempotency key; a replay is rejected with 409.
func (h *Handler) CreatePosting(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	var req PostingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Posting id is required", nil)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	at, err := parseTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	direction := card.DirectionDebit
	if req.Direction == string(card.DirectionCredit) {
		direction = card.DirectionCredit
	}

	posting := card.Posting{
		ID:              req.ID,
		TransactionType: ledger.TransactionType(req.TransactionType),
		Reference:       req.Reference,
		Component:       ledger.Component(req.Component),
		Amount:          amount,
		Direction:       direction,
		At:              at,
	}
	if err := acct.ApplyPosting(r.Context(), posting); err != nil {
		writeDomainError(w, "Failed to apply posting", err)
		return
	}

	balances := acct.Balances()
	writeJSON(w, http.StatusCreated, BalanceSummaryDTO{
		AccountID:   string(acct.ID),
		Outstanding: outstandingOf(balances).String(),
		Balances:    toBalanceDTOs(balances),
	})
}

// CreateRepayment applies an incoming payment and returns its allocation
// breakdown.
func (h *Handler) CreateRepayment(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	var req RepaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
		return
	}
	at, err := parseTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	allocs, err := acct.Repay(r.Context(), amount, at)
	if err != nil {
		writeDomainError(w, "Failed to apply repayment", err)
		return
	}

	allocated := decimal.Zero
	dtos := make([]AllocationDTO, len(allocs))
	for i, a := range allocs {
		allocated = allocated.Add(a.Amount)
		dtos[i] = AllocationDTO{
			Address: toAddressDTO(a.Address),
			Key:     a.Address.String(),
			Amount:  a.Amount.String(),
		}
	}
	writeJSON(w, http.StatusCreated, RepaymentResponseDTO{
		Allocations: dtos,
		Allocated:   allocated.String(),
		Unallocated: amount.Sub(allocated).String(),
	})
}

// =============================================================================
// FLAG AND WINDOW HANDLERS
// =============================================================================

// GetFlags returns the active flag set.
func (h *Handler) GetFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.Registry.Flags(card.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Unknown account", err)
		return
	}
	writeJSON(w, http.StatusOK, FlagsDTO{Flags: flags.Active()})
}

// PutFlags replaces the active flag set.
func (h *Handler) PutFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := h.Registry.Flags(card.AccountID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Unknown account", err)
		return
	}

	var req FlagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	set := make(map[string]bool, len(req.Flags))
	for _, f := range req.Flags {
		set[f] = true
	}
	flags.Set(set)
	writeJSON(w, http.StatusOK, FlagsDTO{Flags: flags.Active()})
}

// CreateWindow configures an interest-free window. This is also the only way
// a window comes back after the payment-due processor expired it.
func (h *Handler) CreateWindow(w http.ResponseWriter, r *http.Request) {
	acct, ok := h.account(w, r)
	if !ok {
		return
	}

	var req WindowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.TransactionType == "" {
		writeError(w, http.StatusBadRequest, "transaction_type is required", nil)
		return
	}
	expiry, err := time.Parse(time.RFC3339, req.Expiry)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid expiry", err)
		return
	}

	acct.SetFreeWindow(ledger.TransactionType(req.TransactionType), req.Reference, expiry)
	writeJSON(w, http.StatusCreated, map[string]string{"status": "ok"})
}

// =============================================================================
// ADMIN HANDLERS - Manual scheduled-event triggers
// =============================================================================

// TriggerAccrual runs the daily interest accrual.
func (h *Handler) TriggerAccrual(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, func(acct *card.Account, at time.Time) error {
		return acct.AccrueInterest(r.Context(), at)
	})
}

// TriggerCutOff runs the statement cut-off and persists the statement.
func (h *Handler) TriggerCutOff(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, func(acct *card.Account, at time.Time) error {
		stmt, err := acct.CutOff(r.Context(), at)
		if err != nil {
			return err
		}
		return h.Store.SaveStatement(r.Context(), *stmt)
	})
}

// TriggerDue runs the payment-due evaluation.
func (h *Handler) TriggerDue(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, func(acct *card.Account, at time.Time) error {
		return acct.EvaluateDue(r.Context(), at)
	})
}

// TriggerAnnualFee charges the configured annual fee.
func (h *Handler) TriggerAnnualFee(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, func(acct *card.Account, at time.Time) error {
		return acct.ChargeAnnualFee(r.Context(), at)
	})
}

// ResetDatabase clears all data (for testing/demo).
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.Registry.Reset()
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// trigger fires one handler against one or all accounts. A single account's
// failure never blocks the others; per-account outcomes are reported.
func (h *Handler) trigger(w http.ResponseWriter, r *http.Request, fn func(*card.Account, time.Time) error) {
	var req TriggerRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body", err)
			return
		}
	}
	at, err := parseTime(req.At)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid at", err)
		return
	}

	var accounts []*card.Account
	if req.AccountID != "" {
		acct, err := h.Registry.Get(card.AccountID(req.AccountID))
		if err != nil {
			writeDomainError(w, "Unknown account", err)
			return
		}
		accounts = []*card.Account{acct}
	} else {
		accounts = h.Registry.List()
	}

	results := make([]TriggerResultDTO, len(accounts))
	for i, acct := range accounts {
		results[i] = TriggerResultDTO{AccountID: string(acct.ID)}
		if err := fn(acct, at); err != nil {
			results[i].Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, results)
}

// =============================================================================
// HELPERS
// =============================================================================

// account resolves the {id} URL parameter, writing the 404 itself.
func (h *Handler) account(w http.ResponseWriter, r *http.Request) (*card.Account, bool) {
	id := card.AccountID(chi.URLParam(r, "id"))
	acct, err := h.Registry.Get(id)
	if err != nil {
		writeDomainError(w, "Unknown account", err)
		return nil, false
	}
	return acct, true
}

// splitWindowKey splits a "type" or "type:reference" window key.
func splitWindowKey(key string) (ledger.TransactionType, string) {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return ledger.TransactionType(key[:i]), key[i+1:]
	}
	return ledger.TransactionType(key), ""
}

// parseTime parses an optional RFC 3339 timestamp; empty means now.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Now().UTC(), nil
	}
	return time.Parse(time.RFC3339, s)
}

// statusFor maps domain errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, card.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, card.ErrAccountExists),
		errors.Is(err, card.ErrOutOfOrder),
		errors.Is(err, ledger.ErrDuplicateIdempotencyKey),
		errors.Is(err, ledger.ErrInsufficientSource):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrNegativeAmount):
		return http.StatusBadRequest
	case errors.Is(err, card.ErrMissingRate):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
