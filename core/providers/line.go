package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"linerelay/core"

	"golang.org/x/oauth2"
)

const (
	DefaultLineAuthorizeURL = "https://access.line.me/oauth2/v2.1/authorize"
	DefaultLineTokenURL     = "https://api.line.me/oauth2/v2.1/token"
	DefaultLineIssuer       = "https://access.line.me"
	DefaultTimeout          = 10 * time.Second
)

// Grant label values for provider latency metrics.
const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
)

type LineConfig struct {
	ChannelID     string        `yaml:"channel_id" env:"LINE_CHANNEL_ID"`
	ChannelSecret string        `yaml:"channel_secret" env:"LINE_CHANNEL_SECRET"`
	AuthorizeURL  string        `yaml:"authorize_url" env:"LINE_AUTHORIZE_URL"`
	TokenURL      string        `yaml:"token_url" env:"LINE_TOKEN_URL"`
	Issuer        string        `yaml:"issuer" env:"LINE_ISSUER"`
	Scopes        []string      `yaml:"scopes" env:"LINE_SCOPES"`
	Timeout       time.Duration `yaml:"timeout" env:"LINE_TIMEOUT"`
}

// ApplyDefaults fills the public LINE Login endpoints for unset fields.
func (c *LineConfig) ApplyDefaults() {
	if c.AuthorizeURL == "" {
		c.AuthorizeURL = DefaultLineAuthorizeURL
	}
	if c.TokenURL == "" {
		c.TokenURL = DefaultLineTokenURL
	}
	if c.Issuer == "" {
		c.Issuer = DefaultLineIssuer
	}
	if len(c.Scopes) == 0 {
		c.Scopes = []string{"openid", "profile"}
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
}

// LineProvider exchanges LINE Login codes and refresh tokens.
type LineProvider struct {
	oauth      oauth2.Config
	verifier   *core.IDTokenVerifier
	httpClient *http.Client
	metrics    *core.Metrics
}

func NewLineProvider(config *LineConfig, metrics *core.Metrics) *LineProvider {
	config.ApplyDefaults()
	return &LineProvider{
		oauth: oauth2.Config{
			ClientID:     config.ChannelID,
			ClientSecret: config.ChannelSecret,
			Endpoint: oauth2.Endpoint{
				AuthURL:   config.AuthorizeURL,
				TokenURL:  config.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
			Scopes: config.Scopes,
		},
		verifier: &core.IDTokenVerifier{
			Secret:   []byte(config.ChannelSecret),
			Audience: config.ChannelID,
			Issuer:   config.Issuer,
		},
		httpClient: &http.Client{Timeout: config.Timeout},
		metrics:    metrics,
	}
}

func (p *LineProvider) AuthorizationURL(redirectURL string, state string) string {
	cfg := p.oauthConfig(redirectURL)
	return cfg.AuthCodeURL(state)
}

func (p *LineProvider) ExchangeCode(ctx context.Context, redirectURL string, code string) (*core.AuthResult, error) {
	cfg := p.oauthConfig(redirectURL)

	start := time.Now()
	token, err := cfg.Exchange(p.clientContext(ctx), code)
	p.metrics.ObserveProvider(grantAuthorizationCode, start)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrProviderTokenExchange, err)
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok || rawIDToken == "" {
		return nil, fmt.Errorf("%w: response has no id_token", core.ErrProviderTokenExchange)
	}
	if token.RefreshToken == "" {
		return nil, fmt.Errorf("%w: response has no refresh_token", core.ErrProviderTokenExchange)
	}

	claims, err := p.verifier.Verify(rawIDToken)
	if err != nil {
		return nil, err
	}

	return claims.AuthResult(token.AccessToken, token.RefreshToken), nil
}

func (p *LineProvider) RefreshToken(ctx context.Context, refreshToken string) (*core.TokenRefreshResult, error) {
	cfg := p.oauthConfig("")

	start := time.Now()
	token, err := cfg.TokenSource(p.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	p.metrics.ObserveProvider(grantRefreshToken, start)
	if err != nil {
		return nil, classifyRefreshError(err)
	}

	// The refresh response carries expires_in only; oauth2 turns it into now+expires_in.
	if token.Expiry.IsZero() {
		return nil, fmt.Errorf("%w: response has no expires_in", core.ErrProviderRefreshToken)
	}

	return &core.TokenRefreshResult{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		Expire:       token.Expiry.UTC(),
	}, nil
}

func (p *LineProvider) oauthConfig(redirectURL string) oauth2.Config {
	cfg := p.oauth
	cfg.RedirectURL = redirectURL
	return cfg
}

func (p *LineProvider) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// classifyRefreshError separates "log in again" from "try again later".
func classifyRefreshError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
		status := retrieveErr.Response.StatusCode
		if retrieveErr.ErrorCode == "invalid_grant" || (status >= 400 && status < 500) {
			return fmt.Errorf("%w: %v", core.ErrRefreshRejected, err)
		}
	}
	return fmt.Errorf("%w: %v", core.ErrProviderRefreshToken, err)
}
