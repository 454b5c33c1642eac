/*
handlers.go - HTTP handlers for the credit ledger

PURPOSE:
  Exposes the credit workflows over HTTP/JSON. Handlers parse the
  request, delegate to the Ledger service, and map the error taxonomy
  onto status codes.

ENDPOINTS:
  POST /credits/balance   current balance (creates account on first touch)
  POST /credits/consume   charge an action, idempotent per action_ref
  POST /credits/grant     admin credit top-up
  GET  /credits/ledger    admin audit history, newest first
  GET  /healthz           liveness probe
  GET  /metrics           Prometheus scrape

ERROR HANDLING:
  400 invalid_request          malformed body / validation failure
  401 unauthorized             admin token missing or wrong
  402 insufficient_credits     guarded debit failed; body carries balance
  500 storage_error            database failure, transaction rolled back

  A duplicate reference is NOT a failure: it answers 200 with
  {ok:true, idempotent:true, balance}.

SEE ALSO:
  - dto.go: body types
  - server.go: router setup and middleware
  - credit/ledger.go: the workflows themselves
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/credit-engine/credit"
	"github.com/warp/credit-engine/metrics"
)

// Handler holds the dependencies for the HTTP handlers.
type Handler struct {
	Ledger *credit.Ledger
}

// NewHandler creates a handler over the given ledger service.
func NewHandler(ledger *credit.Ledger) *Handler {
	return &Handler{Ledger: ledger}
}

// =============================================================================
// BALANCE
// =============================================================================

// GetBalance returns the current balance, registering the account first
// so a never-seen id reads as 0.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	var req BalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.BalanceReads.WithLabelValues(metrics.OutcomeValidation).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", nil)
		return
	}

	balance, err := h.Ledger.Balance(r.Context(), req.ExpressUserID)
	if err != nil {
		h.writeWorkflowError(w, err, metrics.BalanceReads)
		return
	}

	metrics.BalanceReads.WithLabelValues(metrics.OutcomeOK).Inc()
	writeJSON(w, http.StatusOK, BalanceResponse{Balance: balance})
}

// =============================================================================
// CONSUME
// =============================================================================

// Consume charges the account for one action, exactly once per
// (app_id, action_ref) pair.
func (h *Handler) Consume(w http.ResponseWriter, r *http.Request) {
	var req ConsumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.ConsumeTotal.WithLabelValues(metrics.OutcomeValidation).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", nil)
		return
	}

	res, err := h.Ledger.Consume(r.Context(), req.ExpressUserID, req.Action, req.ActionRef, req.AppID)
	if err != nil {
		h.writeWorkflowError(w, err, metrics.ConsumeTotal)
		return
	}

	if res.Idempotent {
		metrics.ConsumeTotal.WithLabelValues(metrics.OutcomeIdempotent).Inc()
	} else {
		metrics.ConsumeTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	writeJSON(w, http.StatusOK, MutationResponse{OK: true, Idempotent: res.Idempotent, Balance: res.Balance})
}

// =============================================================================
// GRANT
// =============================================================================

// Grant credits the account. Admin-only; with an external_ref the same
// idempotency gate as Consume applies.
func (h *Handler) Grant(w http.ResponseWriter, r *http.Request) {
	var req GrantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		metrics.GrantTotal.WithLabelValues(metrics.OutcomeValidation).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body", nil)
		return
	}

	res, err := h.Ledger.Grant(r.Context(), req.ExpressUserID, req.Amount, req.Reason, req.ExternalRef, req.AppID)
	if err != nil {
		h.writeWorkflowError(w, err, metrics.GrantTotal)
		return
	}

	if res.Idempotent {
		metrics.GrantTotal.WithLabelValues(metrics.OutcomeIdempotent).Inc()
	} else {
		metrics.GrantTotal.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	writeJSON(w, http.StatusOK, MutationResponse{OK: true, Idempotent: res.Idempotent, Balance: res.Balance})
}

// =============================================================================
// AUDIT
// =============================================================================

// GetLedger returns the most recent entries for an account, newest
// first, capped at credit.MaxHistoryLimit.
func (h *Handler) GetLedger(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("express_user_id")

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			metrics.LedgerReads.WithLabelValues(metrics.OutcomeValidation).Inc()
			writeError(w, http.StatusBadRequest, "invalid_request", "limit must be an integer", nil)
			return
		}
		limit = n
	}

	entries, err := h.Ledger.History(r.Context(), userID, limit)
	if err != nil {
		h.writeWorkflowError(w, err, metrics.LedgerReads)
		return
	}

	dtos := make([]LedgerEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toLedgerEntryDTO(e))
	}

	metrics.LedgerReads.WithLabelValues(metrics.OutcomeOK).Inc()
	writeJSON(w, http.StatusOK, LedgerResponse{ExpressUserID: userID, Entries: dtos})
}

// =============================================================================
// HEALTH
// =============================================================================

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// writeWorkflowError maps the credit error taxonomy onto HTTP statuses
// and records the outcome.
func (h *Handler) writeWorkflowError(w http.ResponseWriter, err error, outcomes *prometheus.CounterVec) {
	var ice *credit.InsufficientCreditsError
	switch {
	case errors.As(err, &ice):
		outcomes.WithLabelValues(metrics.OutcomeInsufficient).Inc()
		balance := ice.Balance
		writeError(w, http.StatusPaymentRequired, "insufficient_credits", "", &balance)
	case errors.Is(err, credit.ErrValidation):
		outcomes.WithLabelValues(metrics.OutcomeValidation).Inc()
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error(), nil)
	default:
		outcomes.WithLabelValues(metrics.OutcomeStorage).Inc()
		writeError(w, http.StatusInternalServerError, "storage_error", "", nil)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, key, message string, balance *int64) {
	writeJSON(w, status, ErrorResponse{Error: key, Message: message, Balance: balance})
}
