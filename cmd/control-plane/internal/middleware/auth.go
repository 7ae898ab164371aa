// Package middleware holds the control plane's HTTP middleware chain.
// Grounded on the teacher's cmd/control-plane/internal/middleware/auth.go,
// reduced from its JWT/multi-tenant token model to the platform's single
// shared-secret bearer check (spec.md §4.6 step 1).
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// RequireAPIKey rejects any request whose X-API-Key header or Bearer
// token does not match secret, using a constant-time comparison so the
// check itself leaks no timing signal. /health and /test-db are mounted
// outside this middleware's scope by the router.
func RequireAPIKey(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !validCredential(r, secret) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validCredential(r *http.Request, secret string) bool {
	if secret == "" {
		return false
	}
	if key := r.Header.Get("X-API-Key"); key != "" {
		return subtle.ConstantTimeCompare([]byte(key), []byte(secret)) == 1
	}
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		token := strings.TrimPrefix(auth, "Bearer ")
		return subtle.ConstantTimeCompare([]byte(token), []byte(secret)) == 1
	}
	return false
}
