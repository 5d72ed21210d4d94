package core

import (
	"context"
	"fmt"
)

// SealedStore encrypts provider tokens before they reach the wrapped store.
type SealedStore struct {
	SessionStore
	crypto *CryptoService
}

func NewSealedStore(inner SessionStore, crypto *CryptoService) *SealedStore {
	return &SealedStore{SessionStore: inner, crypto: crypto}
}

func (s *SealedStore) CreateSession(ctx context.Context, auth *AuthResult) (*Session, error) {
	sealed := *auth
	var err error
	if sealed.AccessToken, sealed.RefreshToken, err = s.seal(auth.AccessToken, auth.RefreshToken); err != nil {
		return nil, err
	}

	session, err := s.SessionStore.CreateSession(ctx, &sealed)
	if err != nil {
		return nil, err
	}

	session.AccessToken = auth.AccessToken
	session.RefreshToken = auth.RefreshToken
	return session, nil
}

func (s *SealedStore) GetSessionByID(ctx context.Context, id string) (*Session, error) {
	session, err := s.SessionStore.GetSessionByID(ctx, id)
	if err != nil || session == nil {
		return session, err
	}

	if session.AccessToken, err = s.crypto.DecryptToken(session.AccessToken); err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt access token: %w", ErrStorage, err)
	}
	if session.RefreshToken, err = s.crypto.DecryptToken(session.RefreshToken); err != nil {
		return nil, fmt.Errorf("%w: failed to decrypt refresh token: %w", ErrStorage, err)
	}
	return session, nil
}

func (s *SealedStore) UpdateSession(ctx context.Context, session *Session) error {
	sealed := *session
	var err error
	if sealed.AccessToken, sealed.RefreshToken, err = s.seal(session.AccessToken, session.RefreshToken); err != nil {
		return err
	}
	return s.SessionStore.UpdateSession(ctx, &sealed)
}

func (s *SealedStore) seal(accessToken, refreshToken string) (string, string, error) {
	sealedAccess, err := s.crypto.EncryptToken(accessToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt access token: %w", err)
	}
	sealedRefresh, err := s.crypto.EncryptToken(refreshToken)
	if err != nil {
		return "", "", fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return sealedAccess, sealedRefresh, nil
}
