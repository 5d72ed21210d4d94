package core

import (
	"net/url"
	"strings"
)

type Config struct {
	Title           string   `yaml:"title" env:"APP_TITLE"`
	PublicBaseURL   string   `yaml:"public_base_url" env:"APP_PUBLIC_BASE_URL"` // Empty means derive from the request
	PageContextPath string   `yaml:"page_context_path" env:"APP_PAGE_CONTEXT_PATH"`
	APIContextPath  string   `yaml:"api_context_path" env:"APP_API_CONTEXT_PATH"`
	AllowOrigins    []string `yaml:"allow_origins" env:"APP_ALLOW_ORIGINS"`
	Production      bool     `yaml:"production" env:"PRODUCTION"`

	// TrustForwardedHeaders honours X-Forwarded-Proto when deriving the
	// callback URL. Only enable it behind a proxy that overwrites the header.
	TrustForwardedHeaders bool `yaml:"trust_forwarded_headers" env:"APP_TRUST_FORWARDED_HEADERS"`
}

// AllowsAnyOrigin reports whether the origin list contains the "*" wildcard.
func (c *Config) AllowsAnyOrigin() bool {
	for _, origin := range c.AllowOrigins {
		if origin == "*" {
			return true
		}
	}
	return false
}

// IsAllowedOrigin reports whether origin is explicitly listed.
func (c *Config) IsAllowedOrigin(origin string) bool {
	origin = strings.TrimRight(origin, "/")
	for _, allowed := range c.AllowOrigins {
		if strings.EqualFold(strings.TrimRight(allowed, "/"), origin) {
			return true
		}
	}
	return false
}

// IsAllowedRedirect reports whether a post-login redirect target is acceptable.
func (c *Config) IsAllowedRedirect(target string) bool {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}
	if c.AllowsAnyOrigin() {
		return true
	}
	return c.IsAllowedOrigin(u.Scheme + "://" + u.Host)
}
