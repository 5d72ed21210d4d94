package core

import (
	"context"
	"errors"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExpired  = errors.New("session expired")
	ErrStorage  = errors.New("storage failure")
)

// SessionStore persists login nonces and sessions.
//
// Lookups named Get...ByID return (nil, nil) when the record does not exist;
// mutations against a missing record return ErrNotFound. Backend failures
// satisfy errors.Is(err, ErrStorage).
type SessionStore interface {
	// Login nonce operations

	CreateNonce(ctx context.Context, nonce string, redirectURL *string) (*LoginNonce, error)

	// ClearNonce deletes every record carrying the nonce value. Deleting nothing is not an error.
	ClearNonce(ctx context.Context, nonce string) error

	// ReplaceNonce runs ClearNonce and CreateNonce as one atomic unit.
	ReplaceNonce(ctx context.Context, nonce string, redirectURL *string) (*LoginNonce, error)

	GetNonceByValue(ctx context.Context, nonce string) (*LoginNonce, error)

	GetNonceByID(ctx context.Context, id string) (*LoginNonce, error)

	// LinkSession records the session of a completed attempt. The link is set
	// once: an already linked nonce, like a missing one, yields ErrNotFound.
	LinkSession(ctx context.Context, nonceID string, sessionID string) error

	DeleteNonce(ctx context.Context, id string) error

	// Session operations

	CreateSession(ctx context.Context, auth *AuthResult) (*Session, error)

	GetSessionByID(ctx context.Context, id string) (*Session, error)

	UpdateSession(ctx context.Context, session *Session) error

	Close() error
}
