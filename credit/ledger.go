/*
ledger.go - Consumption and grant workflows over the credit ledger

PURPOSE:
  The Ledger service orchestrates every state-changing call: registrar,
  idempotency gate, and guarded balance mutation run inside one store
  transaction that commits atomically or rolls back entirely.

CONSUMPTION STATE MACHINE:
  START -> GATED -> DEBITED -> COMMITTED
  with exits REJECTED_DUPLICATE (success-shaped, idempotent:true),
  REJECTED_INSUFFICIENT (402, full rollback) and FAILED (storage).

WHY ROLL BACK THE ENTRY ON INSUFFICIENT FUNDS?
  The gate keys on (app_id, external_ref) for the lifetime of the ledger.
  If a failed charge left its entry behind, a client that tops up and
  retries the identical request would be blocked forever by its own
  earlier failure. A failed charge must leave no trace.

CONCURRENCY:
  No in-process locks. Two concurrent requests with the same reference:
  only one wins the unique-constraint insert. Two with different
  references against a balance that can satisfy only one: exactly one
  passes the UPDATE ... WHERE balance >= amount guard.

SEE ALSO:
  - types.go: Store/Tx contracts
  - store/sqlite, store/postgres: implementations
*/
package credit

import (
	"context"
	"errors"
	"log"
	"strings"
)

// Workflow exits used internally to abandon a transaction. Never returned
// to callers; Consume/Grant translate them.
var (
	errAbortDuplicate    = errors.New("abort: duplicate reference")
	errAbortInsufficient = errors.New("abort: insufficient balance")
)

// Ledger exposes the credit operations. It is safe for concurrent use.
type Ledger struct {
	store        Store
	costs        CostTable
	defaultAppID string
	publisher    EventPublisher
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithPublisher attaches a post-commit event publisher.
func WithPublisher(p EventPublisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

// WithDefaultAppID sets the app_id applied when a request omits one
// (default "default").
func WithDefaultAppID(id string) Option {
	return func(l *Ledger) { l.defaultAppID = id }
}

// NewLedger creates a Ledger over the given store and cost table.
func NewLedger(store Store, costs CostTable, opts ...Option) *Ledger {
	l := &Ledger{
		store:        store,
		costs:        costs,
		defaultAppID: "default",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Costs returns the static cost table the ledger charges from.
func (l *Ledger) Costs() CostTable {
	return l.costs
}

// =============================================================================
// BALANCE QUERY
// =============================================================================

// Balance returns the current balance for an account, creating the
// account on first touch so a never-seen id reads as 0.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, &ValidationError{Field: "express_user_id", Message: "required"}
	}
	if err := l.store.EnsureAccount(ctx, userID); err != nil {
		return 0, err
	}
	return l.store.Balance(ctx, userID)
}

// =============================================================================
// CONSUMPTION WORKFLOW
// =============================================================================

// Consume charges an account the cost of an action, exactly once per
// distinct (app_id, external_ref) pair. A retry of an already-applied
// request succeeds with Idempotent set and the unchanged balance.
func (l *Ledger) Consume(ctx context.Context, userID, action, externalRef, appID string) (Result, error) {
	// Validation happens before any transaction is opened.
	if strings.TrimSpace(userID) == "" {
		return Result{}, &ValidationError{Field: "express_user_id", Message: "required"}
	}
	if strings.TrimSpace(externalRef) == "" {
		return Result{}, &ValidationError{Field: "action_ref", Message: "required"}
	}
	amount, ok := l.costs.Cost(action)
	if !ok || amount <= 0 {
		return Result{}, &ValidationError{Field: "action", Message: "unknown action " + action}
	}
	if appID == "" {
		appID = l.defaultAppID
	}

	var (
		entry      Entry
		newBalance int64
	)
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.EnsureAccount(ctx, userID); err != nil {
			return err
		}

		res, err := tx.AppendEntry(ctx, Entry{
			UserID:      userID,
			Delta:       -amount,
			Reason:      "consume:" + action,
			ExternalRef: externalRef,
			AppID:       appID,
		})
		if err != nil {
			return err
		}
		if res.Duplicate {
			// Nothing was written; abandoning the transaction is a no-op.
			return errAbortDuplicate
		}

		debited, err := tx.Debit(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !debited {
			// Roll back everything, including the entry just appended, so
			// the reference stays usable for a retry after a grant.
			return errAbortInsufficient
		}

		newBalance, err = tx.Balance(ctx, userID)
		if err != nil {
			return err
		}
		entry = Entry{
			ID:          res.EntryID,
			UserID:      userID,
			Delta:       -amount,
			Reason:      "consume:" + action,
			ExternalRef: externalRef,
			AppID:       appID,
		}
		return nil
	})

	switch {
	case err == nil:
		l.publish(ctx, entry, newBalance)
		return Result{Balance: newBalance, EntryID: entry.ID}, nil
	case errors.Is(err, errAbortDuplicate):
		balance, berr := l.store.Balance(ctx, userID)
		if berr != nil {
			return Result{}, berr
		}
		return Result{Balance: balance, Idempotent: true}, nil
	case errors.Is(err, errAbortInsufficient):
		// Current balance is read outside the rolled-back transaction.
		balance, berr := l.store.Balance(ctx, userID)
		if berr != nil {
			return Result{}, berr
		}
		return Result{}, &InsufficientCreditsError{
			UserID:   userID,
			Required: amount,
			Balance:  balance,
		}
	default:
		return Result{}, err
	}
}

// =============================================================================
// GRANT WORKFLOW
// =============================================================================

// Grant credits an account with amount. With a non-empty externalRef the
// idempotency gate applies exactly as in Consume; without one the entry
// is inserted unconditionally and callers are responsible for their own
// deduplication (a retried reference-less grant double-credits).
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64, reason, externalRef, appID string) (Result, error) {
	if strings.TrimSpace(userID) == "" {
		return Result{}, &ValidationError{Field: "express_user_id", Message: "required"}
	}
	if amount <= 0 {
		return Result{}, &ValidationError{Field: "amount", Message: "must be > 0"}
	}
	if reason == "" {
		reason = "grant"
	}
	if appID == "" {
		appID = l.defaultAppID
	}

	var (
		entry      Entry
		newBalance int64
	)
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if err := tx.EnsureAccount(ctx, userID); err != nil {
			return err
		}

		res, err := tx.AppendEntry(ctx, Entry{
			UserID:      userID,
			Delta:       amount,
			Reason:      reason,
			ExternalRef: externalRef,
			AppID:       appID,
		})
		if err != nil {
			return err
		}
		if res.Duplicate {
			return errAbortDuplicate
		}

		if err := tx.Credit(ctx, userID, amount); err != nil {
			return err
		}

		newBalance, err = tx.Balance(ctx, userID)
		if err != nil {
			return err
		}
		entry = Entry{
			ID:          res.EntryID,
			UserID:      userID,
			Delta:       amount,
			Reason:      reason,
			ExternalRef: externalRef,
			AppID:       appID,
		}
		return nil
	})

	switch {
	case err == nil:
		l.publish(ctx, entry, newBalance)
		return Result{Balance: newBalance, EntryID: entry.ID}, nil
	case errors.Is(err, errAbortDuplicate):
		balance, berr := l.store.Balance(ctx, userID)
		if berr != nil {
			return Result{}, berr
		}
		return Result{Balance: balance, Idempotent: true}, nil
	default:
		return Result{}, err
	}
}

// =============================================================================
// AUDIT QUERY
// =============================================================================

// MaxHistoryLimit caps how many entries History returns.
const MaxHistoryLimit = 100

// History returns the most recent ledger entries for an account, newest
// first. limit <= 0 or above MaxHistoryLimit falls back to the cap.
func (l *Ledger) History(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &ValidationError{Field: "express_user_id", Message: "required"}
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	return l.store.Entries(ctx, userID, limit)
}

// publish sends a committed entry to the configured publisher.
// Best-effort: failures are logged, never surfaced.
func (l *Ledger) publish(ctx context.Context, e Entry, balance int64) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.Publish(ctx, NewEntryRecorded(e, balance)); err != nil {
		log.Printf("credit: publish entry %d: %v", e.ID, err)
	}
}
