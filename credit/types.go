/*
types.go - Core types for the credit ledger

PURPOSE:
  Defines the domain vocabulary: ledger entries, workflow results, the
  action cost table, and the storage contracts the workflows run against.

DATA MODEL:
  users(express_user_id PK)
  credit_balance(express_user_id PK, balance)
  credit_ledger(id PK, express_user_id, delta, reason, external_ref,
                app_id, created_at, UNIQUE(app_id, external_ref))

  The balance row is a cached projection of the ledger: at any quiescent
  point balance == sum(delta) over the account's entries. It is maintained
  incrementally inside the same transaction that appends the entry.

SEE ALSO:
  - ledger.go: Workflows built on these contracts
  - store/sqlite, store/postgres: Store implementations
*/
package credit

import (
	"context"
	"time"
)

// =============================================================================
// LEDGER ENTRY
// =============================================================================

// Entry is one immutable row of the append-only credit ledger.
// Entries are never updated or deleted; a correction is a new entry
// with the opposite sign.
type Entry struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"express_user_id"`
	Delta       int64     `json:"delta"`
	Reason      string    `json:"reason"`
	ExternalRef string    `json:"external_ref"`
	AppID       string    `json:"app_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// AppendResult is the outcome of the idempotency gate. Duplicate detection
// is an expected, frequent outcome for retried requests, so it is modeled
// as a result rather than an error.
type AppendResult struct {
	EntryID   int64
	Duplicate bool
}

// Result is the outcome of a successful consume or grant.
type Result struct {
	Balance    int64
	Idempotent bool
	EntryID    int64
}

// =============================================================================
// COST TABLE
// =============================================================================

// CostTable maps a paid action name to its price in credits.
// Pricing itself is external to this subsystem; the table is static
// for the lifetime of the process.
type CostTable map[string]int64

// Cost returns the price of an action and whether the action is known.
func (t CostTable) Cost(action string) (int64, bool) {
	c, ok := t[action]
	return c, ok
}

// DefaultCosts is the built-in cost table used when no costs file is
// configured.
func DefaultCosts() CostTable {
	return CostTable{
		"640p":  1,
		"1080p": 3,
	}
}

// =============================================================================
// STORAGE CONTRACTS
// =============================================================================

// Tx is the unit of work a single workflow invocation runs inside.
// Every method sees the transaction's own uncommitted writes; nothing is
// visible to other transactions until the enclosing WithTx commits.
type Tx interface {
	// EnsureAccount inserts the account and a zero-balance row if absent.
	// Safe to call on every request; a repeat call is a no-op.
	EnsureAccount(ctx context.Context, userID string) error

	// AppendEntry records a ledger entry, or detects that an entry with the
	// same non-empty (app_id, external_ref) pair already exists and reports
	// Duplicate without writing a second row. An empty ExternalRef is never
	// deduplicated.
	AppendEntry(ctx context.Context, e Entry) (AppendResult, error)

	// Debit decrements the balance by amount only if the current balance can
	// cover it, and reports whether the guarded update took effect. The
	// precondition is re-validated atomically with the write; there is no
	// separate read-then-check.
	Debit(ctx context.Context, userID string, amount int64) (bool, error)

	// Credit increments the balance unconditionally.
	Credit(ctx context.Context, userID string, amount int64) error

	// Balance reads the projection within the transaction.
	Balance(ctx context.Context, userID string) (int64, error)
}

// Store is the persistence boundary for the credit ledger. All
// cross-request coordination is delegated to the store's transactional
// guarantees; the workflows hold no in-process locks.
type Store interface {
	// WithTx runs fn inside a transaction that commits when fn returns nil
	// and rolls back entirely when fn returns an error. No partial state is
	// ever visible to other transactions.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// EnsureAccount is the auto-committed Registrar, for read paths that do
	// not need a surrounding transaction.
	EnsureAccount(ctx context.Context, userID string) error

	// Balance reads the current projection outside any transaction.
	Balance(ctx context.Context, userID string) (int64, error)

	// Entries returns the most recent entries for an account, newest first.
	Entries(ctx context.Context, userID string, limit int) ([]Entry, error)

	Close() error
}

// =============================================================================
// EVENTS
// =============================================================================

// EventPublisher receives committed ledger entries. Publishing is
// best-effort and happens after commit; a publish failure never affects
// the outcome of the workflow that produced the entry.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}
