package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/credit-engine/credit"
	"github.com/warp/credit-engine/store/sqlite"
)

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func appendIn(t *testing.T, store *sqlite.Store, e credit.Entry) credit.AppendResult {
	t.Helper()

	var res credit.AppendResult
	err := store.WithTx(context.Background(), func(tx credit.Tx) error {
		if err := tx.EnsureAccount(context.Background(), e.UserID); err != nil {
			return err
		}
		var err error
		res, err = tx.AppendEntry(context.Background(), e)
		return err
	})
	require.NoError(t, err)
	return res
}

// newFileStore opens a store on a temp file plus a raw connection to the
// same database, for tests that need to plant rows the store would never
// write itself.
func newFileStore(t *testing.T) (*sqlite.Store, *sql.DB) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "credits.db")

	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	db, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store, db
}

// =============================================================================
// REGISTRAR
// =============================================================================

func TestEnsureAccount_Idempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.EnsureAccount(ctx, "user-1"))
	require.NoError(t, store.EnsureAccount(ctx, "user-1"))
	require.NoError(t, store.EnsureAccount(ctx, "user-1"))

	balance, err := store.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

func TestBalance_MissingRowReadsZero(t *testing.T) {
	store := newTestStore(t)

	balance, err := store.Balance(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

// =============================================================================
// IDEMPOTENCY GATE
// =============================================================================

func TestAppendEntry_DuplicateReference(t *testing.T) {
	store := newTestStore(t)

	first := appendIn(t, store, credit.Entry{
		UserID: "user-1", Delta: -1, Reason: "consume:640p",
		ExternalRef: "r1", AppID: "app",
	})
	assert.False(t, first.Duplicate)
	assert.NotZero(t, first.EntryID)

	second := appendIn(t, store, credit.Entry{
		UserID: "user-1", Delta: -1, Reason: "consume:640p",
		ExternalRef: "r1", AppID: "app",
	})
	assert.True(t, second.Duplicate)
	assert.Zero(t, second.EntryID)

	entries, err := store.Entries(context.Background(), "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestAppendEntry_EmptyReferenceNeverDeduplicated(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		res := appendIn(t, store, credit.Entry{
			UserID: "user-1", Delta: 5, Reason: "grant", AppID: "app",
		})
		assert.False(t, res.Duplicate)
	}

	entries, err := store.Entries(context.Background(), "user-1", 100)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestAppendEntry_GateScopedToAppID(t *testing.T) {
	store := newTestStore(t)

	a := appendIn(t, store, credit.Entry{
		UserID: "user-1", Delta: -1, ExternalRef: "shared", AppID: "app-a",
	})
	b := appendIn(t, store, credit.Entry{
		UserID: "user-1", Delta: -1, ExternalRef: "shared", AppID: "app-b",
	})
	assert.False(t, a.Duplicate)
	assert.False(t, b.Duplicate)
}

// =============================================================================
// GUARDED UPDATE
// =============================================================================

func TestDebit_GuardBoundary(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx credit.Tx) error {
		if err := tx.EnsureAccount(ctx, "user-1"); err != nil {
			return err
		}
		return tx.Credit(ctx, "user-1", 3)
	})
	require.NoError(t, err)

	// Exactly-sufficient balance passes the guard.
	err = store.WithTx(ctx, func(tx credit.Tx) error {
		ok, err := tx.Debit(ctx, "user-1", 3)
		require.NoError(t, err)
		assert.True(t, ok)
		return nil
	})
	require.NoError(t, err)

	// Balance 0: any debit fails the guard and changes nothing.
	err = store.WithTx(ctx, func(tx credit.Tx) error {
		ok, err := tx.Debit(ctx, "user-1", 1)
		require.NoError(t, err)
		assert.False(t, ok)
		return nil
	})
	require.NoError(t, err)

	balance, err := store.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)
}

// =============================================================================
// TRANSACTION SEMANTICS
// =============================================================================

func TestWithTx_ErrorRollsBackEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(tx credit.Tx) error {
		if err := tx.EnsureAccount(ctx, "user-1"); err != nil {
			return err
		}
		if _, err := tx.AppendEntry(ctx, credit.Entry{
			UserID: "user-1", Delta: -1, ExternalRef: "doomed", AppID: "app",
		}); err != nil {
			return err
		}
		if err := tx.Credit(ctx, "user-1", 100); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	// No entry, no balance change, no account row.
	entries, err := store.Entries(ctx, "user-1", 100)
	require.NoError(t, err)
	assert.Empty(t, entries)

	balance, err := store.Balance(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), balance)

	// The rolled-back reference is free for reuse.
	res := appendIn(t, store, credit.Entry{
		UserID: "user-1", Delta: -1, ExternalRef: "doomed", AppID: "app",
	})
	assert.False(t, res.Duplicate)
}

func TestWithTx_SeesOwnWrites(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx credit.Tx) error {
		if err := tx.EnsureAccount(ctx, "user-1"); err != nil {
			return err
		}
		if err := tx.Credit(ctx, "user-1", 4); err != nil {
			return err
		}
		balance, err := tx.Balance(ctx, "user-1")
		if err != nil {
			return err
		}
		assert.Equal(t, int64(4), balance)
		return nil
	})
	require.NoError(t, err)
}

// =============================================================================
// AUDIT QUERY
// =============================================================================

func TestEntries_NewestFirstWithLimit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	refs := []string{"r1", "r2", "r3"}
	for _, ref := range refs {
		appendIn(t, store, credit.Entry{
			UserID: "user-1", Delta: -1, Reason: "consume:640p",
			ExternalRef: ref, AppID: "app",
		})
	}
	// Another account's entries must not leak in.
	appendIn(t, store, credit.Entry{
		UserID: "user-2", Delta: 9, Reason: "grant", AppID: "app",
	})

	entries, err := store.Entries(ctx, "user-1", 2)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "r3", entries[0].ExternalRef)
	assert.Equal(t, "r2", entries[1].ExternalRef)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestEntries_SameSecondTrimmedFraction(t *testing.T) {
	// Timestamps written with a trimmed fractional second do not compare
	// lexicographically in time order ("...05.1234567Z" sorts after
	// "...05.123456789Z"). Newest-first must hold anyway: entry ids carry
	// the insertion order.

	store, db := newFileStore(t)

	_, err := db.Exec(`INSERT INTO users (express_user_id) VALUES ('user-1')`)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO credit_ledger (express_user_id, delta, reason, external_ref, app_id, created_at)
		VALUES ('user-1', 5, 'grant', 'older', 'app', '2026-08-29T12:00:05.1234567Z'),
		       ('user-1', -1, 'consume:640p', 'newer', 'app', '2026-08-29T12:00:05.123456789Z')`)
	require.NoError(t, err)

	entries, err := store.Entries(context.Background(), "user-1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "newer", entries[0].ExternalRef)
	assert.Equal(t, "older", entries[1].ExternalRef)
	assert.True(t, entries[0].CreatedAt.After(entries[1].CreatedAt))
}

func TestEntries_MalformedTimestampIsStorageError(t *testing.T) {
	store, db := newFileStore(t)

	_, err := db.Exec(`INSERT INTO users (express_user_id) VALUES ('user-1')`)
	require.NoError(t, err)

	_, err = db.Exec(`
		INSERT INTO credit_ledger (express_user_id, delta, reason, external_ref, app_id, created_at)
		VALUES ('user-1', 5, 'grant', NULL, 'app', 'not-a-timestamp')`)
	require.NoError(t, err)

	_, err = store.Entries(context.Background(), "user-1", 10)
	assert.ErrorIs(t, err, credit.ErrStorage)
}
