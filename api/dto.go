/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Every amount and rate crosses the wire as a decimal string ("1234.56").
  Floats never round-trip exactly and never touch a balance.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/config.go: ConfigJSON type
*/
package api

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/credit-engine/card"
	"github.com/warp/credit-engine/factory"
	"github.com/warp/credit-engine/ledger"
)

// =============================================================================
// REQUEST/RESPONSE TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID         string   `json:"id"`
	OpenedAt   string   `json:"opened_at"`
	CycleState string   `json:"cycle_state"`
	Revolver   bool     `json:"revolver"`
	Flags      []string `json:"flags,omitempty"`
}

// OpenAccountRequest is the request to open an account.
type OpenAccountRequest struct {
	ID       string             `json:"id"`
	OpenedAt string             `json:"opened_at"` // RFC 3339; empty = now
	Config   factory.ConfigJSON `json:"config"`
}

// UpdateConfigRequest swaps an account's configuration.
type UpdateConfigRequest struct {
	Config factory.ConfigJSON `json:"config"`
}

// AddressDTO is one balance address.
type AddressDTO struct {
	TransactionType string `json:"transaction_type"`
	Reference       string `json:"reference,omitempty"`
	Component       string `json:"component"`
	Phase           string `json:"phase"`
}

// BalanceDTO is one non-zero bucket.
type BalanceDTO struct {
	Address AddressDTO `json:"address"`
	Key     string     `json:"key"` // "type[/ref]/COMPONENT/PHASE"
	Amount  string     `json:"amount"`
}

// BalanceSummaryDTO is the full balance view of one account.
type BalanceSummaryDTO struct {
	AccountID string `json:"account_id"`
	// Outstanding is the real debt: everything except provisional
	// uncharged interest and written-off balances.
	Outstanding string       `json:"outstanding"`
	Balances    []BalanceDTO `json:"balances"`
}

// EntryDTO is one journal movement.
type EntryDTO struct {
	At        string      `json:"at"`
	From      *AddressDTO `json:"from,omitempty"`
	To        *AddressDTO `json:"to,omitempty"`
	Amount    string      `json:"amount"`
	Kind      string      `json:"kind"`
	Reference string      `json:"reference,omitempty"`
}

// StatementDTO is one immutable statement.
type StatementDTO struct {
	ID               string       `json:"id"`
	AccountID        string       `json:"account_id"`
	CutOffAt         string       `json:"cut_off_at"`
	DueDate          string       `json:"due_date"`
	StatementBalance string       `json:"statement_balance"`
	MinimumDue       string       `json:"minimum_due"`
	Billed           []BalanceDTO `json:"billed"`
}

// PostingRequest is one settled movement from the settlement validator.
type PostingRequest struct {
	ID              string `json:"id"`
	TransactionType string `json:"transaction_type"`
	Reference       string `json:"reference,omitempty"`
	Component       string `json:"component,omitempty"` // default PRINCIPAL
	Amount          string `json:"amount"`
	Direction       string `json:"direction,omitempty"` // "debit" (default) or "credit"
	At              string `json:"at,omitempty"`        // RFC 3339; empty = now
}

// RepaymentRequest is an incoming customer payment.
type RepaymentRequest struct {
	Amount string `json:"amount"`
	At     string `json:"at,omitempty"`
}

// AllocationDTO is one bucket a repayment paid down.
type AllocationDTO struct {
	Address AddressDTO `json:"address"`
	Key     string     `json:"key"`
	Amount  string     `json:"amount"`
}

// RepaymentResponseDTO is the allocation breakdown of one repayment.
type RepaymentResponseDTO struct {
	Allocations []AllocationDTO `json:"allocations"`
	Allocated   string          `json:"allocated"`
	Unallocated string          `json:"unallocated"`
}

// FlagsRequest replaces an account's active flag set.
type FlagsRequest struct {
	Flags []string `json:"flags"`
}

// FlagsDTO is the active flag set.
type FlagsDTO struct {
	Flags []string `json:"flags"`
}

// WindowRequest configures an interest-free window.
type WindowRequest struct {
	TransactionType string `json:"transaction_type"`
	Reference       string `json:"reference,omitempty"`
	Expiry          string `json:"expiry"` // RFC 3339
}

// TriggerRequest fires a scheduled handler manually. Empty account_id means
// every registered account.
type TriggerRequest struct {
	AccountID string `json:"account_id,omitempty"`
	At        string `json:"at,omitempty"` // RFC 3339; empty = now
}

// TriggerResultDTO reports one account's outcome of a manual trigger.
type TriggerResultDTO struct {
	AccountID string `json:"account_id"`
	Error     string `json:"error,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toAddressDTO(a ledger.Address) AddressDTO {
	return AddressDTO{
		TransactionType: string(a.TransactionType),
		Reference:       a.Reference,
		Component:       string(a.Component),
		Phase:           string(a.Phase),
	}
}

func toAddressPtr(a *ledger.Address) *AddressDTO {
	if a == nil {
		return nil
	}
	dto := toAddressDTO(*a)
	return &dto
}

// toBalanceDTOs flattens a balance snapshot, sorted by address key for
// stable output.
func toBalanceDTOs(balances map[ledger.Address]decimal.Decimal) []BalanceDTO {
	dtos := make([]BalanceDTO, 0, len(balances))
	for addr, amount := range balances {
		dtos = append(dtos, BalanceDTO{
			Address: toAddressDTO(addr),
			Key:     addr.String(),
			Amount:  amount.String(),
		})
	}
	sort.Slice(dtos, func(i, j int) bool { return dtos[i].Key < dtos[j].Key })
	return dtos
}

// outstandingOf sums the real debt from a balance snapshot.
func outstandingOf(balances map[ledger.Address]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for addr, amount := range balances {
		if ledger.IsUncharged(addr.Phase) || addr.Phase == ledger.PhaseWriteOff {
			continue
		}
		total = total.Add(amount)
	}
	return total
}

func toEntryDTO(e ledger.Entry) EntryDTO {
	return EntryDTO{
		At:        e.At.Format(time.RFC3339Nano),
		From:      toAddressPtr(e.From),
		To:        toAddressPtr(e.To),
		Amount:    e.Amount.String(),
		Kind:      string(e.Kind),
		Reference: e.Reference,
	}
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func toStatementDTO(s card.Statement) StatementDTO {
	return StatementDTO{
		ID:               s.ID,
		AccountID:        string(s.AccountID),
		CutOffAt:         s.CutOffAt.Format(time.RFC3339Nano),
		DueDate:          s.DueDate.Format(time.RFC3339Nano),
		StatementBalance: s.StatementBalance.String(),
		MinimumDue:       s.MinimumDue.String(),
		Billed:           toBalanceDTOs(s.Billed),
	}
}

func toAccountDTO(a *card.Account, flags *FlagStore) AccountDTO {
	dto := AccountDTO{
		ID:         string(a.ID),
		OpenedAt:   a.OpenedAt().Format(time.RFC3339),
		CycleState: string(a.CycleState()),
		Revolver:   a.Revolver(),
	}
	if flags != nil {
		dto.Flags = flags.Active()
	}
	return dto
}
