package core

import (
	"time"
)

// DefaultNonce is used when a login is initiated without a caller nonce.
const DefaultNonce = "__none__"

// LoginNonce tracks one login attempt from initiation until its session is collected.
type LoginNonce struct {
	ID          string
	Nonce       string  // OAuth state value
	RedirectURL *string // Where the user agent goes after the callback, if anywhere
	Session     *string // Set once the provider callback succeeds
}

// Linked reports whether the provider callback has completed for this attempt.
func (n *LoginNonce) Linked() bool {
	return n.Session != nil && *n.Session != ""
}

// Session is a completed login holding provider tokens and a profile snapshot
type Session struct {
	ID           string
	AccessToken  string
	RefreshToken string
	UserID       string
	Name         string
	Picture      *string
	Expire       time.Time
}

// SessionView is what callers get back when asking about a live session.
type SessionView struct {
	Name          string
	Picture       *string
	ShouldRefresh bool
	ExpireAt      time.Time
}

// AuthResult is the outcome of a verified authorization-code exchange.
type AuthResult struct {
	AccessToken  string
	RefreshToken string
	UserID       string
	Name         string
	Picture      *string
	Expire       time.Time
}

// TokenRefreshResult is the outcome of a refresh_token grant.
type TokenRefreshResult struct {
	AccessToken  string
	RefreshToken string
	Expire       time.Time
}

// StringPtr returns nil for an empty string.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// StringValue returns the pointed-to string or "" for nil.
func StringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
