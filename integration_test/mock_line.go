package integration_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	mockChannelID     = "1656000000"
	mockChannelSecret = "mock_channel_secret"
	mockIssuer        = "https://access.line.me"
)

type mockUser struct {
	Subject string
	Name    string
	Picture string
}

var mockUsers = map[string]mockUser{
	"valid_code_1": {
		Subject: "U1",
		Name:    "Alice",
		Picture: "https://profile.line-scdn.net/alice",
	},
	"valid_code_2": {
		Subject: "U2",
		Name:    "Bob",
	},
}

// MockLineServer stands in for access.line.me and api.line.me.
type MockLineServer struct {
	server *httptest.Server

	mu            sync.Mutex
	nextCode      string
	signingSecret string
	refreshTokens map[string]mockUser
	issued        int
	refreshCalls  int
}

func NewMockLineServer() *MockLineServer {
	m := &MockLineServer{
		nextCode:      "valid_code_1",
		signingSecret: mockChannelSecret,
		refreshTokens: make(map[string]mockUser),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth2/v2.1/authorize", m.handleAuthorize)
	mux.HandleFunc("/oauth2/v2.1/token", m.handleToken)

	m.server = httptest.NewServer(mux)
	return m
}

func (m *MockLineServer) URL() string {
	return m.server.URL
}

func (m *MockLineServer) Close() {
	m.server.Close()
}

// SetNextCode picks the authorization code the next authorize request yields.
func (m *MockLineServer) SetNextCode(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCode = code
}

// SetSigningSecret makes the server sign ID tokens with another key.
func (m *MockLineServer) SetSigningSecret(secret string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signingSecret = secret
}

// RevokeAll invalidates every refresh token issued so far.
func (m *MockLineServer) RevokeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refreshTokens = make(map[string]mockUser)
}

func (m *MockLineServer) RefreshCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshCalls
}

func (m *MockLineServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextCode = "valid_code_1"
	m.signingSecret = mockChannelSecret
	m.refreshTokens = make(map[string]mockUser)
	m.refreshCalls = 0
}

// handleAuthorize approves immediately and sends the user agent back to redirect_uri.
func (m *MockLineServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("client_id") != mockChannelID || q.Get("response_type") != "code" {
		http.Error(w, "bad authorize request", http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	code := m.nextCode
	m.mu.Unlock()

	target, err := url.Parse(q.Get("redirect_uri"))
	if err != nil {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}
	params := target.Query()
	params.Set("code", code)
	params.Set("state", q.Get("state"))
	target.RawQuery = params.Encode()

	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (m *MockLineServer) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		writeTokenError(w, "invalid_request")
		return
	}
	if r.PostForm.Get("client_id") != mockChannelID || r.PostForm.Get("client_secret") != mockChannelSecret {
		writeTokenError(w, "invalid_client")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch r.PostForm.Get("grant_type") {
	case "authorization_code":
		user, ok := mockUsers[r.PostForm.Get("code")]
		if !ok {
			writeTokenError(w, "invalid_grant")
			return
		}

		idToken, err := m.signIDToken(user)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		m.issued++
		access, refresh := m.newTokens()
		m.refreshTokens[refresh] = user

		writeJSON(w, map[string]interface{}{
			"access_token":  access,
			"token_type":    "Bearer",
			"refresh_token": refresh,
			"expires_in":    2592000,
			"scope":         "openid profile",
			"id_token":      idToken,
		})

	case "refresh_token":
		m.refreshCalls++
		user, ok := m.refreshTokens[r.PostForm.Get("refresh_token")]
		if !ok {
			writeTokenError(w, "invalid_grant")
			return
		}
		delete(m.refreshTokens, r.PostForm.Get("refresh_token"))

		m.issued++
		access, refresh := m.newTokens()
		m.refreshTokens[refresh] = user

		writeJSON(w, map[string]interface{}{
			"access_token":  access,
			"token_type":    "Bearer",
			"refresh_token": refresh,
			"expires_in":    2592000,
			"scope":         "openid profile",
		})

	default:
		writeTokenError(w, "unsupported_grant_type")
	}
}

func (m *MockLineServer) newTokens() (string, string) {
	suffix := strconv.Itoa(m.issued)
	return "access_" + suffix, "refresh_" + suffix
}

func (m *MockLineServer) signIDToken(user mockUser) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  mockIssuer,
		"sub":  user.Subject,
		"aud":  mockChannelID,
		"exp":  now.Add(time.Hour).Unix(),
		"iat":  now.Unix(),
		"amr":  []string{"linesso"},
		"name": user.Name,
	}
	if user.Picture != "" {
		claims["picture"] = user.Picture
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(m.signingSecret))
}

func writeJSON(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func writeTokenError(w http.ResponseWriter, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code})
}
