package httpx

import (
	"context"
	"net/http"
)

// Identity is what the fronting auth gateway vouches for. This service does no
// authentication of its own; it trusts these headers and only checks roles.
type Identity struct {
	UserID string
	Role   string
}

type ctxKey int

const identityKey ctxKey = 0

const (
	headerUserID = "X-User-Id"
	headerRole   = "X-User-Role"
	RoleAdmin    = "admin"
)

func IdentityFrom(ctx context.Context) Identity {
	id, _ := ctx.Value(identityKey).(Identity)
	return id
}

// RequireUser rejects requests the gateway didn't attach a user to.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing identity"})
			return
		}
		id := Identity{UserID: userID, Role: r.Header.Get(headerRole)}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
	})
}

func RequireAdmin(next http.Handler) http.Handler {
	return RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if IdentityFrom(r.Context()).Role != RoleAdmin {
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "admins only"})
			return
		}
		next.ServeHTTP(w, r)
	}))
}
