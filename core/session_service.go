package core

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// RefreshThreshold is how close to expiry a session starts asking for a refresh.
const RefreshThreshold = 15 * time.Minute

type SessionService struct {
	store    SessionStore
	provider TokenExchangeClient
	metrics  *Metrics
	log      zerolog.Logger
	now      func() time.Time
}

func NewSessionService(store SessionStore, provider TokenExchangeClient, metrics *Metrics, log zerolog.Logger) *SessionService {
	return &SessionService{
		store:    store,
		provider: provider,
		metrics:  metrics,
		log:      log.With().Str("component", "session_service").Logger(),
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *SessionService) WithClock(now func() time.Time) *SessionService {
	s.now = now
	return s
}

func (s *SessionService) GetLiveSession(ctx context.Context, sessionID string) (*SessionView, error) {
	session, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, ErrNotFound
	}

	now := s.now().UTC()
	expire := session.Expire.UTC()
	if !expire.After(now) {
		return nil, ErrExpired
	}

	return &SessionView{
		Name:          session.Name,
		Picture:       session.Picture,
		ShouldRefresh: expire.Sub(now) < RefreshThreshold,
		ExpireAt:      expire,
	}, nil
}

// RefreshSession renews the provider tokens of a session. Expired sessions
// may be refreshed: the refresh token usually outlives the access token.
func (s *SessionService) RefreshSession(ctx context.Context, sessionID string) error {
	err := s.refreshSession(ctx, sessionID)
	s.metrics.SessionRefreshed(err)
	if err != nil {
		s.log.Warn().Err(err).Msg("session refresh failed")
	}
	return err
}

func (s *SessionService) refreshSession(ctx context.Context, sessionID string) error {
	// 1. Load the stored refresh token
	session, err := s.store.GetSessionByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return ErrNotFound
	}

	// 2. Ask the provider for new tokens
	tokens, err := s.provider.RefreshToken(ctx, session.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to refresh provider token: %w", err)
	}

	// 3. Overwrite; concurrent refreshes are last-write-wins
	session.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		session.RefreshToken = tokens.RefreshToken
	}
	session.Expire = tokens.Expire.UTC()

	if err := s.store.UpdateSession(ctx, session); err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	s.log.Debug().Str("user_id", session.UserID).Time("expire", session.Expire).Msg("session refreshed")
	return nil
}
