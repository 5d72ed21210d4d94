package core

import (
	"context"
	"errors"
)

// ErrAuth matches every provider and identity-token failure.
var ErrAuth = errors.New("authentication failed")

var (
	ErrProviderTokenExchange = &authError{"provider token exchange failed"}
	ErrIDTokenInvalid        = &authError{"id token verification failed"}
	ErrProviderRefreshToken  = &authError{"provider token refresh failed"}
	// ErrRefreshRejected means the provider refused the refresh token; the user has to log in again.
	ErrRefreshRejected = &authError{"refresh token rejected by provider"}
)

type authError struct {
	msg string
}

func (e *authError) Error() string {
	return e.msg
}

func (e *authError) Is(target error) bool {
	return target == ErrAuth
}

// TokenExchangeClient talks to the identity provider.
type TokenExchangeClient interface {
	// AuthorizationURL builds the provider authorize URL. It performs no I/O.
	AuthorizationURL(redirectURL string, state string) string

	ExchangeCode(ctx context.Context, redirectURL string, code string) (*AuthResult, error)

	RefreshToken(ctx context.Context, refreshToken string) (*TokenRefreshResult, error)
}
