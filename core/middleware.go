package core

import (
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"
)

const (
	corsAllowedMethods = "GET, POST, DELETE, OPTIONS"
	corsAllowedHeaders = "Authorization, Content-Type"
)

// instrument wraps h with request logging and panic recovery.
func (s *Server) instrument(h http.Handler) http.Handler {
	h = s.recoverMiddleware(h)
	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		// Only the path: query strings carry authorization codes and session ids.
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "X-Request-Id")(h)
	return hlog.NewHandler(s.log)(h)
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				hlog.FromRequest(r).Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("recovered from panic")
				respondError(w, http.StatusInternalServerError, "internal_error", "Internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// CorsMiddleware applies the allow_origins policy to API routes.
func (s *Server) CorsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		// No Origin header = same-origin request, no CORS headers needed
		if origin == "" {
			next(w, r)
			return
		}

		isAllowed := s.config.IsAllowedOrigin(origin)
		isWildcard := s.config.AllowsAnyOrigin()

		if isAllowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		} else if isWildcard {
			// Credentials are never allowed together with the wildcard
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == http.MethodOptions {
			if isAllowed || isWildcard {
				w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
