package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
)

// LoginFlow drives one login attempt per nonce value:
// Initiated (nonce stored) -> Completed (session linked) -> Consumed (nonce deleted).
type LoginFlow struct {
	store    SessionStore
	provider TokenExchangeClient
	metrics  *Metrics
	log      zerolog.Logger
}

func NewLoginFlow(store SessionStore, provider TokenExchangeClient, metrics *Metrics, log zerolog.Logger) *LoginFlow {
	return &LoginFlow{
		store:    store,
		provider: provider,
		metrics:  metrics,
		log:      log.With().Str("component", "login_flow").Logger(),
	}
}

// StartLogin supersedes any in-flight attempt for nonce and returns the
// provider authorization URL carrying state=nonce.
func (f *LoginFlow) StartLogin(ctx context.Context, callbackURL string, nonce string, redirectURL *string) (string, error) {
	if nonce == "" {
		nonce = DefaultNonce
	}

	record, err := f.store.ReplaceNonce(ctx, nonce, redirectURL)
	if err != nil {
		return "", fmt.Errorf("failed to store login nonce: %w", err)
	}

	f.metrics.LoginStarted()
	f.log.Debug().Str("nonce_id", record.ID).Msg("login started")

	return f.provider.AuthorizationURL(callbackURL, nonce), nil
}

// CompleteLogin handles the provider callback. callbackURL must be the exact
// redirect_uri used when the authorization URL was built.
func (f *LoginFlow) CompleteLogin(ctx context.Context, callbackURL string, code string, state string) (*Session, *LoginNonce, error) {
	session, nonce, err := f.completeLogin(ctx, callbackURL, code, state)
	f.metrics.LoginCompleted(err)
	if err != nil {
		f.log.Warn().Err(err).Msg("login callback failed")
		return nil, nil, err
	}

	f.log.Info().Str("user_id", session.UserID).Str("nonce_id", nonce.ID).Msg("login completed")
	return session, nonce, nil
}

func (f *LoginFlow) completeLogin(ctx context.Context, callbackURL, code, state string) (*Session, *LoginNonce, error) {
	// 1. Exchange the code; provider I/O finishes before any storage write
	auth, err := f.provider.ExchangeCode(ctx, callbackURL, code)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to exchange code: %w", err)
	}

	// 2. Find the attempt this callback belongs to
	nonce, err := f.store.GetNonceByValue(ctx, state)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find login nonce: %w", err)
	}
	// A completed attempt is spent; a replayed callback must not re-point it
	if nonce.Linked() {
		return nil, nil, ErrNotFound
	}

	// 3. Persist the session
	session, err := f.store.CreateSession(ctx, auth)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create session: %w", err)
	}

	// 4. Link it; a nonce superseded or completed in the meantime leaves the session unreachable
	if err := f.store.LinkSession(ctx, nonce.ID, session.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to link session: %w", err)
	}
	nonce.Session = &session.ID

	return session, nonce, nil
}

// CollectSession trades a completed nonce id for its session id, exactly once.
func (f *LoginFlow) CollectSession(ctx context.Context, nonceID string) (string, error) {
	sessionID, err := f.collectSession(ctx, nonceID)
	f.metrics.SessionCollected(err)
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

func (f *LoginFlow) collectSession(ctx context.Context, nonceID string) (string, error) {
	nonce, err := f.store.GetNonceByID(ctx, nonceID)
	if err != nil {
		return "", fmt.Errorf("failed to find login nonce: %w", err)
	}
	if nonce == nil || !nonce.Linked() {
		return "", ErrNotFound
	}

	// Only one concurrent collector gets past the delete
	if err := f.store.DeleteNonce(ctx, nonce.ID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to consume login nonce: %w", err)
	}

	return *nonce.Session, nil
}

// AbandonLogin drops any in-flight attempt for nonce.
func (f *LoginFlow) AbandonLogin(ctx context.Context, nonce string) error {
	if nonce == "" {
		nonce = DefaultNonce
	}
	if err := f.store.ClearNonce(ctx, nonce); err != nil {
		return fmt.Errorf("failed to clear login nonce: %w", err)
	}
	return nil
}
