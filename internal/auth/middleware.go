package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

const (
	authHeaderKey = "Authorization"
	bearerPrefix  = "Bearer "
)

// Middleware validates the bearer token and stores the verified identity in
// the request context.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(authHeaderKey)
		if !strings.HasPrefix(header, bearerPrefix) {
			http.Error(w, "missing or invalid authorization header", http.StatusUnauthorized)
			return
		}

		sid, err := m.Verify(strings.TrimPrefix(header, bearerPrefix))
		if err != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), identityKey, sid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext returns the identity placed by Middleware.
func IdentityFromContext(ctx context.Context) (string, bool) {
	sid, ok := ctx.Value(identityKey).(string)
	return sid, ok
}
