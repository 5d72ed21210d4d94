package providers_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"linerelay/core"
	"linerelay/core/providers"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	channelID     = "1234567890"
	channelSecret = "channel-secret-for-tests"
	callbackURL   = "https://relay.example/auth"
)

type tokenServer struct {
	*httptest.Server
	lastForm url.Values
	handler  func(w http.ResponseWriter, form url.Values)
}

func newTokenServer(t *testing.T) *tokenServer {
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		ts.lastForm = r.PostForm
		ts.handler(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func signIDToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func lineClaims(expire time.Time) jwt.MapClaims {
	return jwt.MapClaims{
		"iss":     providers.DefaultLineIssuer,
		"sub":     "U1",
		"aud":     channelID,
		"exp":     expire.Unix(),
		"iat":     time.Now().Unix(),
		"name":    "Alice",
		"picture": "https://profile.line-scdn.net/alice",
	}
}

func newLineProvider(ts *tokenServer, metrics *core.Metrics) *providers.LineProvider {
	return providers.NewLineProvider(&providers.LineConfig{
		ChannelID:     channelID,
		ChannelSecret: channelSecret,
		TokenURL:      ts.URL + "/oauth2/v2.1/token",
		Timeout:       2 * time.Second,
	}, metrics)
}

func TestLineConfig_ApplyDefaults(t *testing.T) {
	config := &providers.LineConfig{}
	config.ApplyDefaults()

	assert.Equal(t, providers.DefaultLineAuthorizeURL, config.AuthorizeURL)
	assert.Equal(t, providers.DefaultLineTokenURL, config.TokenURL)
	assert.Equal(t, providers.DefaultLineIssuer, config.Issuer)
	assert.Equal(t, []string{"openid", "profile"}, config.Scopes)
	assert.Equal(t, providers.DefaultTimeout, config.Timeout)
}

func TestLineProvider_AuthorizationURL(t *testing.T) {
	provider := providers.NewLineProvider(&providers.LineConfig{ChannelID: channelID, ChannelSecret: channelSecret}, nil)

	raw := provider.AuthorizationURL(callbackURL, "abc")

	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "access.line.me", u.Host)
	assert.Equal(t, "/oauth2/v2.1/authorize", u.Path)
	q := u.Query()
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, channelID, q.Get("client_id"))
	assert.Equal(t, callbackURL, q.Get("redirect_uri"))
	assert.Equal(t, "abc", q.Get("state"))
	assert.Equal(t, "openid profile", q.Get("scope"))

	assert.Equal(t, raw, provider.AuthorizationURL(callbackURL, "abc"))
}

func TestLineProvider_ExchangeCode(t *testing.T) {
	ts := newTokenServer(t)
	expire := time.Now().Add(time.Hour).Truncate(time.Second)
	ts.handler = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "a1",
			"token_type":    "Bearer",
			"refresh_token": "r1",
			"expires_in":    2592000,
			"scope":         "openid profile",
			"id_token":      signIDToken(t, channelSecret, lineClaims(expire)),
		})
	}
	registry := prometheus.NewRegistry()
	provider := newLineProvider(ts, core.NewMetrics(registry))

	result, err := provider.ExchangeCode(context.Background(), callbackURL, "code-1")
	require.NoError(t, err)

	assert.Equal(t, "authorization_code", ts.lastForm.Get("grant_type"))
	assert.Equal(t, "code-1", ts.lastForm.Get("code"))
	assert.Equal(t, callbackURL, ts.lastForm.Get("redirect_uri"))
	assert.Equal(t, channelID, ts.lastForm.Get("client_id"))
	assert.Equal(t, channelSecret, ts.lastForm.Get("client_secret"))

	assert.Equal(t, "a1", result.AccessToken)
	assert.Equal(t, "r1", result.RefreshToken)
	assert.Equal(t, "U1", result.UserID)
	assert.Equal(t, "Alice", result.Name)
	require.NotNil(t, result.Picture)
	assert.True(t, expire.Equal(result.Expire), "expire comes from the id token")

	count, err := testutil.GatherAndCount(registry, "linerelay_provider_request_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestLineProvider_ExchangeCodeFailures(t *testing.T) {
	expire := time.Now().Add(time.Hour)

	tests := []struct {
		name     string
		respond  func(t *testing.T, w http.ResponseWriter)
		expected error
	}{
		{
			name: "provider error",
			respond: func(t *testing.T, w http.ResponseWriter) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			},
			expected: core.ErrProviderTokenExchange,
		},
		{
			name: "missing id token",
			respond: func(t *testing.T, w http.ResponseWriter) {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token": "a1", "token_type": "Bearer", "refresh_token": "r1", "expires_in": 3600,
				})
			},
			expected: core.ErrProviderTokenExchange,
		},
		{
			name: "missing refresh token",
			respond: func(t *testing.T, w http.ResponseWriter) {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token": "a1", "token_type": "Bearer", "expires_in": 3600,
					"id_token": signIDToken(t, channelSecret, lineClaims(expire)),
				})
			},
			expected: core.ErrProviderTokenExchange,
		},
		{
			name: "id token signed with another secret",
			respond: func(t *testing.T, w http.ResponseWriter) {
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token": "a1", "token_type": "Bearer", "refresh_token": "r1", "expires_in": 3600,
					"id_token": signIDToken(t, "forged", lineClaims(expire)),
				})
			},
			expected: core.ErrIDTokenInvalid,
		},
		{
			name: "id token for another channel",
			respond: func(t *testing.T, w http.ResponseWriter) {
				claims := lineClaims(expire)
				claims["aud"] = "9999999999"
				writeJSON(w, http.StatusOK, map[string]interface{}{
					"access_token": "a1", "token_type": "Bearer", "refresh_token": "r1", "expires_in": 3600,
					"id_token": signIDToken(t, channelSecret, claims),
				})
			},
			expected: core.ErrIDTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t)
			ts.handler = func(w http.ResponseWriter, form url.Values) { tt.respond(t, w) }

			_, err := newLineProvider(ts, nil).ExchangeCode(context.Background(), callbackURL, "code-1")
			assert.ErrorIs(t, err, tt.expected)
			assert.ErrorIs(t, err, core.ErrAuth)
		})
	}
}

func TestLineProvider_RefreshToken(t *testing.T) {
	ts := newTokenServer(t)
	ts.handler = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"access_token":  "a2",
			"token_type":    "Bearer",
			"refresh_token": "r2",
			"expires_in":    3600,
		})
	}

	before := time.Now()
	result, err := newLineProvider(ts, nil).RefreshToken(context.Background(), "r1")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", ts.lastForm.Get("grant_type"))
	assert.Equal(t, "r1", ts.lastForm.Get("refresh_token"))
	assert.Equal(t, channelID, ts.lastForm.Get("client_id"))
	assert.Equal(t, channelSecret, ts.lastForm.Get("client_secret"))

	assert.Equal(t, "a2", result.AccessToken)
	assert.Equal(t, "r2", result.RefreshToken)
	assert.WithinDuration(t, before.Add(time.Hour), result.Expire, 5*time.Second)
}

func TestLineProvider_RefreshRejected(t *testing.T) {
	ts := newTokenServer(t)
	ts.handler = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "invalid refresh token",
		})
	}

	_, err := newLineProvider(ts, nil).RefreshToken(context.Background(), "revoked")
	assert.ErrorIs(t, err, core.ErrRefreshRejected)
	assert.ErrorIs(t, err, core.ErrAuth)
}

func TestLineProvider_RefreshProviderDown(t *testing.T) {
	ts := newTokenServer(t)
	ts.handler = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "temporarily_unavailable"})
	}

	_, err := newLineProvider(ts, nil).RefreshToken(context.Background(), "r1")
	assert.ErrorIs(t, err, core.ErrProviderRefreshToken)
	assert.NotErrorIs(t, err, core.ErrRefreshRejected)
}

func TestLineProvider_RefreshHonoursCancellation(t *testing.T) {
	ts := newTokenServer(t)
	ts.handler = func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"access_token": "a2", "token_type": "Bearer", "expires_in": 3600})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newLineProvider(ts, nil).RefreshToken(ctx, "r1")
	assert.ErrorIs(t, err, core.ErrProviderRefreshToken)
}
