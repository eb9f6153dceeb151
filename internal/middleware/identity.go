package middleware

import (
	"context"
	"net/http"
	"strings"

	"worldforge/internal/domain"
)

const identityKey contextKey = "identity"

// Identity extracts the owner resolved by the upstream gateway. Token
// verification happens there; this service trusts the forwarded headers.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
		if userID == "" {
			next.ServeHTTP(w, r)
			return
		}
		owner := domain.Owner{
			ID:         userID,
			Privileged: strings.EqualFold(r.Header.Get("X-User-Privileged"), "true"),
		}
		ctx := context.WithValue(r.Context(), identityKey, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// OwnerFromContext returns the resolved owner, or false when the request
// carried no identity.
func OwnerFromContext(ctx context.Context) (domain.Owner, bool) {
	owner, ok := ctx.Value(identityKey).(domain.Owner)
	return owner, ok
}
