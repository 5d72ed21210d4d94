package storage

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"linerelay/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T) *SQLStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "linerelay.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLStore_DeleteNonceLostRaceIsNotFound(t *testing.T) {
	store := openTestSQLite(t)
	store.lostRace = func(err error) bool {
		return strings.Contains(err.Error(), "database is closed")
	}
	require.NoError(t, store.db.Close())

	err := store.DeleteNonce(context.Background(), "some-id")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.NotErrorIs(t, err, core.ErrStorage)
}

func TestSQLStore_DeleteNonceFailureIsStorageError(t *testing.T) {
	store := openTestSQLite(t)
	require.NoError(t, store.db.Close())

	err := store.DeleteNonce(context.Background(), "some-id")
	assert.ErrorIs(t, err, core.ErrStorage)
}

func TestSQLStore_LinkSessionConditionalUpdate(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	nonce, err := store.CreateNonce(ctx, "n1", nil)
	require.NoError(t, err)
	session, err := store.CreateSession(ctx, &core.AuthResult{
		AccessToken:  "a1",
		RefreshToken: "r1",
		UserID:       "U1",
		Name:         "Alice",
		Expire:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// An earlier callback already linked this attempt
	_, err = store.db.ExecContext(ctx, `UPDATE login SET session_id = 'other' WHERE id = ?`, nonce.ID)
	require.NoError(t, err)

	assert.ErrorIs(t, store.LinkSession(ctx, nonce.ID, session.ID), core.ErrNotFound)

	var linked string
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT session_id FROM login WHERE id = ?`, nonce.ID).Scan(&linked))
	assert.Equal(t, "other", linked)
}

func TestSQLStore_ClearNonceUsesNonceSource(t *testing.T) {
	store := openTestSQLite(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.CreateNonce(ctx, "n1", nil)
		require.NoError(t, err)
	}
	kept, err := store.CreateNonce(ctx, "n2", nil)
	require.NoError(t, err)

	require.NoError(t, store.ClearNonce(ctx, "n1"))

	var count int
	require.NoError(t, store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM login`).Scan(&count))
	assert.Equal(t, 1, count)

	record, err := store.GetNonceByValue(ctx, "n2")
	require.NoError(t, err)
	assert.Equal(t, kept.ID, record.ID)
}
