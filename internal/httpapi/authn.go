package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"studyhub.org/internal/session"
	"studyhub.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "

	// SessionCookie carries the signed token between requests.
	SessionCookie = "studyhub_session"
)

// withSession resolves a presented token into a session and attaches
// it to the request context. A missing token passes through so each
// handler decides its own authentication requirement; a token that is
// present but unusable is rejected here.
func (a *API) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractToken(r)
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}
		sess, err := a.manager.Resolve(r.Context(), raw)
		if err != nil {
			switch {
			case errors.Is(err, token.ErrExpired):
				writeError(w, r, http.StatusUnauthorized, "session expired")
			case errors.Is(err, session.ErrRevoked):
				writeError(w, r, http.StatusUnauthorized, "session revoked")
			case errors.Is(err, token.ErrInvalidToken):
				writeError(w, r, http.StatusUnauthorized, "invalid token")
			default:
				writeError(w, r, http.StatusInternalServerError, "authentication error")
			}
			return
		}
		ctx := session.ContextWithSession(r.Context(), sess)
		ctx = session.ContextWithToken(ctx, raw)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken prefers the session cookie and falls back to a bearer
// Authorization header for non-browser clients.
func extractToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	header := strings.TrimSpace(r.Header.Get(authHeader))
	if header == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return ""
	}
	return strings.TrimSpace(header[len(bearer):])
}
