/*
Package sqlite provides the SQLite-backed credit.Store.

PURPOSE:
  Implements the ledger, balance projection, and registrar tables on an
  embedded SQLite database. The same SQL patterns apply to PostgreSQL
  (see store/postgres) with only dialect differences.

KEY TABLES:
  users           account registry, one row per external user id
  credit_balance  denormalized current balance, one row per account
  credit_ledger   append-only signed deltas; the source of truth

APPEND-ONLY ENFORCEMENT:
  No UPDATE or DELETE ever touches credit_ledger. The balance row is the
  only mutable state, and only through guarded/unconditional updates
  inside a transaction that also appended the matching entry.

IDEMPOTENCY:
  A partial unique index on (app_id, external_ref) WHERE external_ref IS
  NOT NULL is the gate. Entries without a reference store NULL and are
  never deduplicated.

CONCURRENCY:
  SQLite allows a single writer; a sync.RWMutex serializes write
  transactions in-process and the database is opened in WAL mode with a
  busy timeout for anything that slips past it. The PostgreSQL store has
  no such mutex - there the database does all the coordination.

USAGE:
  store, err := sqlite.New("./data/credits.db")   // ":memory:" for tests
  defer store.Close()
  ledger := credit.NewLedger(store, credit.DefaultCosts())
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/warp/credit-engine/credit"
)

// Store implements credit.Store on SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

var _ credit.Store = (*Store)(nil)

// New opens (or creates) the database at dbPath and migrates the schema.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// An in-memory database exists per connection; keep the pool at one
	// so every caller sees the same schema.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		express_user_id TEXT PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS credit_balance (
		express_user_id TEXT PRIMARY KEY REFERENCES users(express_user_id),
		balance INTEGER NOT NULL DEFAULT 0
	);

	-- Append-only ledger
	CREATE TABLE IF NOT EXISTS credit_ledger (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		express_user_id TEXT NOT NULL REFERENCES users(express_user_id),
		delta INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		external_ref TEXT,
		app_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	-- The idempotency gate: one entry per (app_id, external_ref) pair.
	-- Entries without a reference store NULL and are exempt.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_ledger_app_ref
		ON credit_ledger(app_id, external_ref)
		WHERE external_ref IS NOT NULL;

	-- Audit query hot path
	CREATE INDEX IF NOT EXISTS idx_ledger_user_entry
		ON credit_ledger(express_user_id, id DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// timeLayout is RFC 3339 with a fixed-width fraction, so stored
// timestamps compare lexicographically in creation order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// =============================================================================
// TRANSACTIONAL STORE (credit.Store interface)
// =============================================================================

// WithTx executes fn inside a database transaction. fn returning an error
// rolls everything back; nil commits.
func (s *Store) WithTx(ctx context.Context, fn func(tx credit.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &credit.StorageError{Op: "begin transaction", Err: err}
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx, parent: s}); err != nil {
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return &credit.StorageError{Op: "commit transaction", Err: err}
	}
	return nil
}

type txStore struct {
	tx     *sql.Tx
	parent *Store
}

var _ credit.Tx = (*txStore)(nil)

func (ts *txStore) EnsureAccount(ctx context.Context, userID string) error {
	return ts.parent.ensureAccount(ctx, ts.tx, userID)
}

func (ts *txStore) AppendEntry(ctx context.Context, e credit.Entry) (credit.AppendResult, error) {
	return ts.parent.appendEntry(ctx, ts.tx, e)
}

func (ts *txStore) Debit(ctx context.Context, userID string, amount int64) (bool, error) {
	return ts.parent.debit(ctx, ts.tx, userID, amount)
}

func (ts *txStore) Credit(ctx context.Context, userID string, amount int64) error {
	return ts.parent.credit(ctx, ts.tx, userID, amount)
}

func (ts *txStore) Balance(ctx context.Context, userID string) (int64, error) {
	return ts.parent.balance(ctx, ts.tx, userID)
}

// =============================================================================
// DIRECT ACCESS (outside a workflow transaction)
// =============================================================================

// EnsureAccount inserts the account and zero-balance rows if absent.
func (s *Store) EnsureAccount(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureAccount(ctx, s.db, userID)
}

// Balance reads the current balance projection.
func (s *Store) Balance(ctx context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balance(ctx, s.db, userID)
}

// Entries returns the most recent ledger entries for an account, newest
// first.
func (s *Store) Entries(ctx context.Context, userID string, limit int) ([]credit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Ids are assigned in insertion order, so id DESC is creation order
	// regardless of timestamp text precision.
	query := `
		SELECT id, express_user_id, delta, reason, external_ref, app_id, created_at
		FROM credit_ledger
		WHERE express_user_id = ?
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, &credit.StorageError{Op: "query ledger", Err: err}
	}
	defer rows.Close()

	var entries []credit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, &credit.StorageError{Op: "scan ledger", Err: err}
	}
	return entries, nil
}

// =============================================================================
// SHARED STATEMENTS
// =============================================================================

func (s *Store) ensureAccount(ctx context.Context, db dbtx, userID string) error {
	if _, err := db.ExecContext(ctx,
		`INSERT INTO users (express_user_id) VALUES (?) ON CONFLICT(express_user_id) DO NOTHING`,
		userID,
	); err != nil {
		return &credit.StorageError{Op: "ensure account", Err: err}
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO credit_balance (express_user_id, balance) VALUES (?, 0) ON CONFLICT(express_user_id) DO NOTHING`,
		userID,
	); err != nil {
		return &credit.StorageError{Op: "ensure balance row", Err: err}
	}
	return nil
}

func (s *Store) appendEntry(ctx context.Context, db dbtx, e credit.Entry) (credit.AppendResult, error) {
	res, err := db.ExecContext(ctx, `
		INSERT INTO credit_ledger (express_user_id, delta, reason, external_ref, app_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.UserID,
		e.Delta,
		e.Reason,
		nullString(e.ExternalRef),
		e.AppID,
		time.Now().UTC().Format(timeLayout),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return credit.AppendResult{Duplicate: true}, nil
		}
		return credit.AppendResult{}, &credit.StorageError{Op: "append entry", Err: err}
	}

	id, err := res.LastInsertId()
	if err != nil {
		return credit.AppendResult{}, &credit.StorageError{Op: "append entry id", Err: err}
	}
	return credit.AppendResult{EntryID: id}, nil
}

func (s *Store) debit(ctx context.Context, db dbtx, userID string, amount int64) (bool, error) {
	// The WHERE clause re-validates sufficiency atomically with the write.
	res, err := db.ExecContext(ctx, `
		UPDATE credit_balance
		SET balance = balance - ?
		WHERE express_user_id = ? AND balance >= ?`,
		amount, userID, amount,
	)
	if err != nil {
		return false, &credit.StorageError{Op: "debit balance", Err: err}
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, &credit.StorageError{Op: "debit balance", Err: err}
	}
	return affected == 1, nil
}

func (s *Store) credit(ctx context.Context, db dbtx, userID string, amount int64) error {
	_, err := db.ExecContext(ctx, `
		UPDATE credit_balance
		SET balance = balance + ?
		WHERE express_user_id = ?`,
		amount, userID,
	)
	if err != nil {
		return &credit.StorageError{Op: "credit balance", Err: err}
	}
	return nil
}

func (s *Store) balance(ctx context.Context, db dbtx, userID string) (int64, error) {
	var balance int64
	err := db.QueryRowContext(ctx,
		`SELECT balance FROM credit_balance WHERE express_user_id = ?`,
		userID,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		// Account not registered yet: reads as zero.
		return 0, nil
	}
	if err != nil {
		return 0, &credit.StorageError{Op: "read balance", Err: err}
	}
	return balance, nil
}

func scanEntry(rows *sql.Rows) (credit.Entry, error) {
	var (
		e           credit.Entry
		externalRef sql.NullString
		createdAt   string
	)
	if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &externalRef, &e.AppID, &createdAt); err != nil {
		return e, &credit.StorageError{Op: "scan entry", Err: err}
	}
	e.ExternalRef = externalRef.String
	// RFC3339Nano parses any fraction width, including rows written
	// before the layout was fixed.
	created, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return e, &credit.StorageError{Op: "parse entry time", Err: err}
	}
	e.CreatedAt = created
	return e, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
