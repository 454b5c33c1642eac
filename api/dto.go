/*
dto.go - Request/response bodies for the credit API

PURPOSE:
  JSON structures of the HTTP contract, decoupled from the domain types.
  Validation lives in the domain workflows; these are pure data carriers.

NAMING CONVENTION:
  - *Request: request body types from clients
  - *Response / *DTO: types returned to clients
*/
package api

import (
	"time"

	"github.com/warp/credit-engine/credit"
)

// BalanceRequest asks for the current balance of an account.
type BalanceRequest struct {
	ExpressUserID string `json:"express_user_id"`
}

// BalanceResponse carries the current balance.
type BalanceResponse struct {
	Balance int64 `json:"balance"`
}

// ConsumeRequest charges an account for one paid action.
type ConsumeRequest struct {
	ExpressUserID string `json:"express_user_id"`
	Action        string `json:"action"`
	ActionRef     string `json:"action_ref"`
	AppID         string `json:"app_id,omitempty"`
}

// GrantRequest credits an account (admin only).
type GrantRequest struct {
	ExpressUserID string `json:"express_user_id"`
	Amount        int64  `json:"amount"`
	Reason        string `json:"reason,omitempty"`
	ExternalRef   string `json:"external_ref,omitempty"`
	AppID         string `json:"app_id,omitempty"`
}

// MutationResponse reports the outcome of a consume or grant.
// Idempotent is set when the request's reference had already been
// applied; the balance is then the unchanged current balance.
type MutationResponse struct {
	OK         bool  `json:"ok"`
	Idempotent bool  `json:"idempotent,omitempty"`
	Balance    int64 `json:"balance"`
}

// LedgerEntryDTO is one audit row. Internal row ids and app_id are not
// exposed.
type LedgerEntryDTO struct {
	CreatedAt   string `json:"created_at"`
	Delta       int64  `json:"delta"`
	Reason      string `json:"reason"`
	ExternalRef string `json:"external_ref"`
}

// LedgerResponse is the audit history for one account, newest first.
type LedgerResponse struct {
	ExpressUserID string           `json:"express_user_id"`
	Entries       []LedgerEntryDTO `json:"entries"`
}

// ErrorResponse is the uniform failure body: a machine-readable error key
// plus the current balance where it is already known.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Balance *int64 `json:"balance,omitempty"`
}

func toLedgerEntryDTO(e credit.Entry) LedgerEntryDTO {
	return LedgerEntryDTO{
		CreatedAt:   e.CreatedAt.UTC().Format(time.RFC3339),
		Delta:       e.Delta,
		Reason:      e.Reason,
		ExternalRef: e.ExternalRef,
	}
}
