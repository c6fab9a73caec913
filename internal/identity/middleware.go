package identity

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/meridian-crm/meridian-crm/internal/platform/httpx"
)

// Middleware gates requests on a resolvable bearer token.
type Middleware struct {
	Provider Provider
	Logger   *slog.Logger
}

// RequireAuth rejects requests without a valid `Authorization: Bearer <token>`
// header and attaches the resolved user to the request context.
func (m Middleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			httpx.RespondError(w, httpx.Authentication("Authorization token required"))
			return
		}
		user, err := m.Provider.ResolveToken(r.Context(), token)
		if err != nil || user == nil {
			if m.Logger != nil && err != nil && !errors.Is(err, ErrTokenRejected) {
				m.Logger.Warn("resolve token", slog.Any("error", err))
			}
			httpx.RespondError(w, httpx.Authentication("Invalid or expired token"))
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func bearerToken(header string) (string, bool) {
	if header == "" {
		return "", false
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}
