package providers

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"linerelay/core"
)

const mockAuthorizeURL = "https://mock.provider.test/oauth2/v2.1/authorize"

// Predefined test authorization codes
const (
	ValidCode1 = "validcode123"
	ValidCode2 = "mock_auth_code_2"
)

// MockGrant is what the mock provider returns for an authorization code.
type MockGrant struct {
	Subject      string
	Name         string
	Picture      *string
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// MockRefresh is what the mock provider returns for a refresh token.
type MockRefresh struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
}

// Predefined grants and refreshes
var (
	Grant1 = MockGrant{
		Subject:      "U1",
		Name:         "Alice",
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresIn:    3600 * time.Second,
	}

	Grant2 = MockGrant{
		Subject:      "U2",
		Name:         "Bob",
		Picture:      core.StringPtr("https://mock.provider.test/bob.png"),
		AccessToken:  "mock_access_token_2",
		RefreshToken: "mock_refresh_token_2",
		ExpiresIn:    3600 * time.Second,
	}

	Refresh1 = MockRefresh{
		AccessToken:  "a2",
		RefreshToken: "r2",
		ExpiresIn:    3600 * time.Second,
	}

	Refresh2 = MockRefresh{
		AccessToken:  "mock_access_token_2_refreshed",
		RefreshToken: "mock_refresh_token_2", // Same refresh token
		ExpiresIn:    3600 * time.Second,
	}
)

// MockProvider is a test implementation of core.TokenExchangeClient
type MockProvider struct {
	mu        sync.Mutex
	grants    map[string]MockGrant
	refreshes map[string]MockRefresh
	now       func() time.Time

	// Err, when set, is returned by every network operation
	Err error

	// track method calls for verification
	ExchangeCodeCalls int
	RefreshCalls      int
	LastRedirectURL   string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{
		grants: map[string]MockGrant{
			ValidCode1: Grant1,
			ValidCode2: Grant2,
		},
		refreshes: map[string]MockRefresh{
			Grant1.RefreshToken: Refresh1,
			Grant2.RefreshToken: Refresh2,
		},
		now: time.Now,
	}
}

// WithClock replaces the time source used to compute expiries.
func (m *MockProvider) WithClock(now func() time.Time) *MockProvider {
	m.now = now
	return m
}

// AddGrant registers an extra authorization code.
func (m *MockProvider) AddGrant(code string, grant MockGrant) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[code] = grant
}

func (m *MockProvider) AuthorizationURL(redirectURL string, state string) string {
	v := url.Values{
		"response_type": {"code"},
		"client_id":     {"mock_channel_id"},
		"redirect_uri":  {redirectURL},
		"state":         {state},
		"scope":         {"openid profile"},
	}
	return mockAuthorizeURL + "?" + v.Encode()
}

func (m *MockProvider) ExchangeCode(ctx context.Context, redirectURL string, code string) (*core.AuthResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ExchangeCodeCalls++
	m.LastRedirectURL = redirectURL

	if m.Err != nil {
		return nil, m.Err
	}

	grant, ok := m.grants[code]
	if !ok {
		return nil, fmt.Errorf("%w: unknown code", core.ErrProviderTokenExchange)
	}

	return &core.AuthResult{
		AccessToken:  grant.AccessToken,
		RefreshToken: grant.RefreshToken,
		UserID:       grant.Subject,
		Name:         grant.Name,
		Picture:      grant.Picture,
		Expire:       m.now().Add(grant.ExpiresIn).UTC(),
	}, nil
}

func (m *MockProvider) RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRefreshResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RefreshCalls++

	if m.Err != nil {
		return nil, m.Err
	}

	refresh, ok := m.refreshes[refreshToken]
	if !ok {
		return nil, fmt.Errorf("%w: invalid_grant", core.ErrRefreshRejected)
	}

	return &core.TokenRefreshResult{
		AccessToken:  refresh.AccessToken,
		RefreshToken: refresh.RefreshToken,
		Expire:       m.now().Add(refresh.ExpiresIn).UTC(),
	}, nil
}
