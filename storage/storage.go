package storage

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"linerelay/core"
)

// storageError tags a backend failure with core.ErrStorage. Not-found
// outcomes pass through untouched.
func storageError(op string, err error) error {
	if err == nil || errors.Is(err, core.ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, core.ErrStorage, err)
}

// toMillis normalizes timestamps into UTC millisecond precision for storage.
func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis restores millisecond precision and keeps UTC normalization.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func newSession(auth *core.AuthResult) (*core.Session, error) {
	id, err := core.GenerateSessionID()
	if err != nil {
		return nil, err
	}
	return &core.Session{
		ID:           id,
		AccessToken:  auth.AccessToken,
		RefreshToken: auth.RefreshToken,
		UserID:       auth.UserID,
		Name:         auth.Name,
		Picture:      auth.Picture,
		Expire:       fromMillis(toMillis(auth.Expire)),
	}, nil
}

func newNonce(nonce string, redirectURL *string) *core.LoginNonce {
	return &core.LoginNonce{
		ID:          core.GenerateNonceID(),
		Nonce:       nonce,
		RedirectURL: core.StringPtr(core.StringValue(redirectURL)),
	}
}

// isAlreadyExistsError detects "already exists" conditions during idempotent DDL runs.
func isAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "path exist")
}
