package httpserver

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Ugoplus/smartcvnaija/internal/domain"
	"github.com/Ugoplus/smartcvnaija/internal/service/ratelimiter"
	"github.com/Ugoplus/smartcvnaija/pkg/msisdn"
)

// BasicAuth guards the admin endpoints with the argon2id credentials from
// the environment. Both checks always run so a wrong username costs the
// same time as a wrong password.
func (s *Server) BasicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.Cfg.AdminEnabled() {
			writeError(w, r, fmt.Errorf("%w: admin endpoints disabled", domain.ErrNotFound), nil)
			return
		}
		user, pass, ok := r.BasicAuth()
		if !ok {
			s.unauthorized(w)
			return
		}
		userOK := subtle.ConstantTimeCompare([]byte(user), []byte(s.Cfg.AdminUsername)) == 1
		passOK := VerifyPassword(pass, s.Cfg.AdminPasswordHash)
		if !userOK || !passOK {
			LoggerFrom(r).Warn("admin auth rejected", slog.String("remote", r.RemoteAddr))
			s.unauthorized(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", `Basic realm="smartcvnaija admin"`)
	writeJSON(w, http.StatusUnauthorized, errorEnvelope{Error: apiError{
		Code:    "UNAUTHORIZED",
		Message: "credentials required",
	}})
}

// RateLimitStatusHandler shows one user's counters across every limited
// action, for support calls that start with "the bot stopped replying".
func (s *Server) RateLimitStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := msisdn.Normalize(chi.URLParam(r, "phone"))
		if identifier == "" {
			writeError(w, r, fmt.Errorf("%w: phone missing", domain.ErrInvalidArgument), nil)
			return
		}
		usages, err := s.Limits.Status(r.Context(), identifier)
		if err != nil {
			writeError(w, r, fmt.Errorf("rate limit status: %w", err), nil)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identifier": identifier,
			"limits":     usages,
		})
	}
}

// RateLimitResetHandler clears one action's counter, or every counter for
// the user when no action is given.
func (s *Server) RateLimitResetHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identifier := msisdn.Normalize(chi.URLParam(r, "phone"))
		if identifier == "" {
			writeError(w, r, fmt.Errorf("%w: phone missing", domain.ErrInvalidArgument), nil)
			return
		}
		action := ratelimiter.Action(r.URL.Query().Get("action"))
		if err := s.Limits.Reset(r.Context(), identifier, action); err != nil {
			writeError(w, r, fmt.Errorf("rate limit reset: %w", err), nil)
			return
		}
		scope := string(action)
		if scope == "" {
			scope = "all"
		}
		LoggerFrom(r).Info("rate limits cleared",
			slog.String("identifier", msisdn.Mask(identifier)),
			slog.String("action", scope))
		writeJSON(w, http.StatusOK, map[string]string{
			"status":     "cleared",
			"identifier": identifier,
			"action":     scope,
		})
	}
}
