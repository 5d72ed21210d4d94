package core_test

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"linerelay/core"
	"linerelay/storage"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testEncryptionKey = "12345678901234567890123456789012"

func TestCryptoService_RoundTrip(t *testing.T) {
	crypto, err := core.NewCryptoService(testEncryptionKey)
	require.NoError(t, err)

	sealed, err := crypto.EncryptToken("line-refresh-token")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "line-refresh-token")

	again, err := crypto.EncryptToken("line-refresh-token")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)

	plain, err := crypto.DecryptToken(sealed)
	require.NoError(t, err)
	assert.Equal(t, "line-refresh-token", plain)
}

func TestCryptoService_InvalidKey(t *testing.T) {
	_, err := core.NewCryptoService("short")
	assert.ErrorIs(t, err, core.ErrInvalidEncryptionKey)
}

func TestCryptoService_TamperedCiphertext(t *testing.T) {
	crypto, err := core.NewCryptoService(testEncryptionKey)
	require.NoError(t, err)

	_, err = crypto.DecryptToken(base64.StdEncoding.EncodeToString([]byte("x")))
	assert.ErrorIs(t, err, core.ErrInvalidCiphertext)

	_, err = crypto.DecryptToken("%%%")
	assert.Error(t, err)

	other, err := core.NewCryptoService("abcdefghijklmnopqrstuvwxyz012345")
	require.NoError(t, err)
	sealed, err := other.EncryptToken("token")
	require.NoError(t, err)
	_, err = crypto.DecryptToken(sealed)
	assert.Error(t, err)
}

func TestGenerateSessionID(t *testing.T) {
	seen := make(map[string]struct{})
	for i := 0; i < 100; i++ {
		id, err := core.GenerateSessionID()
		require.NoError(t, err)

		raw, err := base64.RawURLEncoding.DecodeString(id)
		require.NoError(t, err)
		assert.Len(t, raw, 32)

		_, dup := seen[id]
		assert.False(t, dup)
		seen[id] = struct{}{}
	}
}

func TestGenerateNonceID(t *testing.T) {
	id := core.GenerateNonceID()
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.NotEqual(t, id, core.GenerateNonceID())
}

func TestSealedStore_EncryptsAtRest(t *testing.T) {
	crypto, err := core.NewCryptoService(testEncryptionKey)
	require.NoError(t, err)
	inner := storage.NewMemoryStore()
	store := core.NewSealedStore(inner, crypto)
	ctx := context.Background()

	created, err := store.CreateSession(ctx, &core.AuthResult{
		AccessToken:  "a1",
		RefreshToken: "r1",
		UserID:       "U1",
		Name:         "Alice",
		Expire:       time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, "a1", created.AccessToken)
	assert.Equal(t, "r1", created.RefreshToken)

	raw, err := inner.GetSessionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "a1", raw.AccessToken)
	assert.NotEqual(t, "r1", raw.RefreshToken)

	loaded, err := store.GetSessionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", loaded.AccessToken)
	assert.Equal(t, "r1", loaded.RefreshToken)

	loaded.AccessToken = "a2"
	require.NoError(t, store.UpdateSession(ctx, loaded))

	raw, err = inner.GetSessionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "a2", raw.AccessToken)

	reloaded, err := store.GetSessionByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "a2", reloaded.AccessToken)
}

func TestSealedStore_UndecryptableIsStorageError(t *testing.T) {
	crypto, err := core.NewCryptoService(testEncryptionKey)
	require.NoError(t, err)
	inner := storage.NewMockStore()
	store := core.NewSealedStore(inner, crypto)

	// Fixture tokens were never sealed
	_, err = store.GetSessionByID(context.Background(), storage.Session1.ID)
	assert.ErrorIs(t, err, core.ErrStorage)

	missing, err := store.GetSessionByID(context.Background(), "unknown")
	assert.NoError(t, err)
	assert.Nil(t, missing)
}
