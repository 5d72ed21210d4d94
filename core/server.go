package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Server struct {
	flow           *LoginFlow
	sessions       *SessionService
	config         *Config
	log            zerolog.Logger
	metricsHandler http.Handler
}

func NewServer(flow *LoginFlow, sessions *SessionService, config *Config, log zerolog.Logger) *Server {
	return &Server{
		flow:     flow,
		sessions: sessions,
		config:   config,
		log:      log,
	}
}

// WithMetricsHandler exposes h on /metrics.
func (s *Server) WithMetricsHandler(h http.Handler) *Server {
	s.metricsHandler = h
	return s
}

// Handler returns the routed and instrumented HTTP handler.
func (s *Server) Handler() http.Handler {
	page := strings.TrimRight(s.config.PageContextPath, "/")
	api := strings.TrimRight(s.config.APIContextPath, "/")

	mux := http.NewServeMux()
	mux.HandleFunc(page+"/login", s.HandleLogin)
	mux.HandleFunc(page+"/auth", s.HandleAuthCallback)
	mux.HandleFunc(api+"/auth/collect", s.CorsMiddleware(s.HandleCollect))
	mux.HandleFunc(api+"/auth/login", s.CorsMiddleware(s.HandleAbandonLogin))
	mux.HandleFunc(api+"/session", s.CorsMiddleware(s.HandleSession))
	mux.HandleFunc(api+"/session/refresh", s.CorsMiddleware(s.HandleRefresh))
	mux.HandleFunc("/health", s.HandleHealth)
	if s.metricsHandler != nil {
		mux.Handle("/metrics", s.metricsHandler)
	}

	return s.instrument(mux)
}

// HandleLogin starts a login and sends the user agent to the provider.
func (s *Server) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	redirectURL := StringPtr(query.Get("redirect_url"))
	if redirectURL != nil && !s.config.IsAllowedRedirect(*redirectURL) {
		respondError(w, http.StatusBadRequest, "invalid_redirect", "redirect_url is not an allowed origin")
		return
	}

	location, err := s.flow.StartLogin(r.Context(), s.callbackURL(r), query.Get("nonce"), redirectURL)
	if err != nil {
		s.respondFlowError(w, r, err)
		return
	}

	http.Redirect(w, r, location, http.StatusFound)
}

type callbackResponse struct {
	UserID  string  `json:"user_id"`
	Name    string  `json:"name"`
	Picture *string `json:"picture,omitempty"`
	Code    string  `json:"code"`
	Session string  `json:"session,omitempty"`
}

// HandleAuthCallback is the provider redirect target.
func (s *Server) HandleAuthCallback(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	if errorParam := query.Get("error"); errorParam != "" {
		respondError(w, http.StatusBadRequest, "authorization_denied",
			fmt.Sprintf("Authorization failed: %s %s", errorParam, query.Get("error_description")))
		return
	}

	code, state := query.Get("code"), query.Get("state")
	if code == "" || state == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	session, nonce, err := s.flow.CompleteLogin(r.Context(), s.callbackURL(r), code, state)
	if err != nil {
		s.respondFlowError(w, r, err)
		return
	}

	if nonce.RedirectURL != nil {
		location, err := withQueryParam(*nonce.RedirectURL, "code", nonce.ID)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_redirect", "stored redirect_url is malformed")
			return
		}
		http.Redirect(w, r, location, http.StatusFound)
		return
	}

	resp := callbackResponse{
		UserID:  session.UserID,
		Name:    session.Name,
		Picture: session.Picture,
		Code:    nonce.ID,
	}
	if !s.config.Production {
		resp.Session = session.ID
	}
	respondJSON(w, http.StatusOK, resp)
}

// HandleCollect exchanges a collectible code (nonce id) for a session id.
func (s *Server) HandleCollect(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	var req struct {
		Code string `json:"code"`
	}

	if !decodeJSON(w, r, &req) {
		return
	}

	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "code is required")
		return
	}

	sessionID, err := s.flow.CollectSession(r.Context(), req.Code)
	if err != nil {
		s.respondFlowError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"session": sessionID,
	})
}

type sessionResponse struct {
	Name               string  `json:"name"`
	Picture            *string `json:"picture,omitempty"`
	ShouldRefreshToken bool    `json:"shouldRefreshToken"`
	ExpireAt           string  `json:"expireAt"`
}

func (s *Server) HandleSession(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodGet) {
		return
	}

	sessionID, ok := requireSessionID(w, r)
	if !ok {
		return
	}

	view, err := s.sessions.GetLiveSession(r.Context(), sessionID)
	if err != nil {
		s.respondFlowError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, sessionResponse{
		Name:               view.Name,
		Picture:            view.Picture,
		ShouldRefreshToken: view.ShouldRefresh,
		ExpireAt:           view.ExpireAt.UTC().Format(time.RFC3339),
	})
}

func (s *Server) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodPost) {
		return
	}

	sessionID, ok := requireSessionID(w, r)
	if !ok {
		return
	}

	if err := s.sessions.RefreshSession(r.Context(), sessionID); err != nil {
		s.respondFlowError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleAbandonLogin discards an in-flight login for the given nonce.
func (s *Server) HandleAbandonLogin(w http.ResponseWriter, r *http.Request) {
	if !validateMethod(w, r, http.MethodDelete) {
		return
	}

	if err := s.flow.AbandonLogin(r.Context(), r.URL.Query().Get("nonce")); err != nil {
		s.respondFlowError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Helper functions

// callbackURL is the redirect_uri registered with the provider; it must be
// identical when building the authorization URL and when exchanging the code.
func (s *Server) callbackURL(r *http.Request) string {
	base := strings.TrimRight(s.config.PublicBaseURL, "/")
	if base == "" {
		base = s.getScheme(r) + "://" + r.Host
	}
	return base + strings.TrimRight(s.config.PageContextPath, "/") + "/auth"
}

func (s *Server) respondFlowError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		respondError(w, http.StatusBadRequest, "not_found", "Login or session not found")
	case errors.Is(err, ErrExpired):
		respondError(w, http.StatusBadRequest, "session_expired", "Session expired")
	case errors.Is(err, ErrRefreshRejected):
		respondError(w, http.StatusUnauthorized, "relogin_required", "Refresh token rejected, login again")
	case errors.Is(err, ErrAuth):
		respondError(w, http.StatusUnauthorized, "auth_failed", "Authentication failed")
	case errors.Is(err, ErrStorage):
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("storage failure")
		respondError(w, http.StatusBadRequest, "storage_error", "Storage unavailable")
	default:
		s.log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		respondError(w, http.StatusBadRequest, "request_failed", "Request failed")
	}
}

func requireSessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	sessionID, err := extractBearerToken(r)
	if err != nil {
		sessionID = r.URL.Query().Get("session")
	}
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "session is required")
		return "", false
	}
	return sessionID, true
}

// withQueryParam appends key=value and leaves the existing query as the caller wrote it.
func withQueryParam(target, key, value string) (string, error) {
	u, err := url.Parse(target)
	if err != nil {
		return "", err
	}
	param := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	if u.RawQuery == "" {
		u.RawQuery = param
	} else {
		u.RawQuery += "&" + param
	}
	u.ForceQuery = false
	return u.String(), nil
}

func (s *Server) getScheme(r *http.Request) string {
	if r.TLS != nil {
		return "https"
	}
	if s.config.TrustForwardedHeaders {
		if scheme := r.Header.Get("X-Forwarded-Proto"); scheme == "http" || scheme == "https" {
			return scheme
		}
	}
	return "http"
}

func validateMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "Invalid request body")
		return false
	}
	return true
}

func extractBearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", fmt.Errorf("missing authorization header")
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("invalid authorization header format")
	}

	return parts[1], nil
}

func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	respondJSON(w, statusCode, map[string]string{
		"error":   errorCode,
		"message": message,
	})
}
