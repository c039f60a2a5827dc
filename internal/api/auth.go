package api

import (
	"context"
	"net/http"

	"github.com/sommos/sommos/internal/domain"
)

type contextKey string

const (
	userIDKey contextKey = "user_id"
	roleKey   contextKey = "role"
)

// RoleGuest is assumed when the gateway sends no identity headers
const RoleGuest = "guest"

// AuthContext extracts the caller identity set by the auth gateway and
// stores it on the request context. Authentication itself happens upstream;
// the core only trusts these headers.
func AuthContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get("X-User-ID")
		if userID == "" {
			userID = RoleGuest
		}
		role := r.Header.Get("X-User-Role")
		if role == "" {
			role = RoleGuest
		}

		ctx := context.WithValue(r.Context(), userIDKey, userID)
		ctx = context.WithValue(ctx, roleKey, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// UserID returns the caller identity, or "guest" outside AuthContext
func UserID(r *http.Request) string {
	if v, ok := r.Context().Value(userIDKey).(string); ok {
		return v
	}
	return RoleGuest
}

// Role returns the caller role, or "guest" outside AuthContext
func Role(r *http.Request) string {
	if v, ok := r.Context().Value(roleKey).(string); ok {
		return v
	}
	return RoleGuest
}

// RequireRole rejects callers whose role does not match
func RequireRole(r *http.Request, role string) error {
	if Role(r) != role {
		return domain.Errorf(domain.KindForbidden, "operation requires role %q", role)
	}
	return nil
}
