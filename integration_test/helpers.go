package integration_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	_ "modernc.org/sqlite"
)

const appHost = "app.example"

type CollectResponse struct {
	Session string `json:"session"`
}

type SessionResponse struct {
	Name               string  `json:"name"`
	Picture            *string `json:"picture"`
	ShouldRefreshToken bool    `json:"shouldRefreshToken"`
	ExpireAt           string  `json:"expireAt"`
}

type CallbackResponse struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
	Code    string `json:"code"`
	Session string `json:"session"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// browser follows redirects like a user agent but stops before leaving for
// the client application, which does not exist in tests.
func browser() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if req.URL.Host == appHost {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}

func noRedirect() *http.Client {
	return &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func startLogin(baseURL, nonce, redirectURL string) (*http.Response, error) {
	q := url.Values{}
	if nonce != "" {
		q.Set("nonce", nonce)
	}
	if redirectURL != "" {
		q.Set("redirect_url", redirectURL)
	}
	return browser().Get(baseURL + "/login?" + q.Encode())
}

func collect(baseURL, code string) (*http.Response, error) {
	jsonBody, _ := json.Marshal(map[string]string{"code": code})

	client := &http.Client{Timeout: 5 * time.Second}
	return client.Post(baseURL+"/api/auth/collect", "application/json", bytes.NewReader(jsonBody))
}

func getSession(baseURL, sessionID string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, _ := http.NewRequest(http.MethodGet, baseURL+"/api/session", nil)
	req.Header.Set("Authorization", "Bearer "+sessionID)
	return client.Do(req)
}

func refreshSession(baseURL, sessionID string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, _ := http.NewRequest(http.MethodPost, baseURL+"/api/session/refresh", nil)
	req.Header.Set("Authorization", "Bearer "+sessionID)
	return client.Do(req)
}

func abandonLogin(baseURL, nonce string) (*http.Response, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, _ := http.NewRequest(http.MethodDelete, baseURL+"/api/auth/login?nonce="+url.QueryEscape(nonce), nil)
	return client.Do(req)
}

func decodeBody(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

func countRows(dbPath, table string) (int, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return 0, err
	}
	defer db.Close()

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
	return count, err
}

func storedTokens(dbPath, sessionID string) (string, string, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", "", err
	}
	defer db.Close()

	var access, refresh string
	err = db.QueryRow("SELECT access_token, refresh_token FROM sessions WHERE id = ?", sessionID).Scan(&access, &refresh)
	return access, refresh, err
}

func cleanDatabase(dbPath string) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec("DELETE FROM login"); err != nil {
		return err
	}
	_, err = db.Exec("DELETE FROM sessions")
	return err
}
