// Package rbac gates HTTP handlers on role membership.
package rbac

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/meridian-crm/meridian-crm/internal/identity"
	"github.com/meridian-crm/meridian-crm/internal/platform/httpx"
)

// RoleSource looks up the role names assigned to a user. Implemented by the
// roles service.
type RoleSource interface {
	UserRoleNames(ctx context.Context, userID string) ([]string, error)
}

// Middleware wires role-based authorization helpers for HTTP handlers.
type Middleware struct {
	Roles  RoleSource
	Logger *slog.Logger
}

// RequireRole ensures the current user holds at least one of the named roles.
// Matching is exact and case sensitive; there is no hierarchy and no implicit
// admin bypass. Must run after identity.Middleware.RequireAuth.
func (m Middleware) RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := identity.UserFromContext(r.Context())
			if user == nil || user.ID == "" {
				httpx.RespondError(w, httpx.Authentication("Authentication required"))
				return
			}
			granted, err := m.Roles.UserRoleNames(r.Context(), user.ID)
			if err != nil {
				if m.Logger != nil {
					m.Logger.Error("verify permissions", slog.String("user_id", user.ID), slog.Any("error", err))
				}
				httpx.RespondError(w, httpx.Internal("Failed to verify permissions", err))
				return
			}
			if !hasAnyRole(granted, allowed) {
				httpx.RespondError(w, httpx.Authorization("Insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func hasAnyRole(granted, required []string) bool {
	set := make(map[string]struct{}, len(granted))
	for _, name := range granted {
		set[name] = struct{}{}
	}
	for _, name := range required {
		if _, ok := set[name]; ok {
			return true
		}
	}
	return false
}
