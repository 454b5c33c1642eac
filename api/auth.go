// auth.go - Admin bearer-token middleware.
//
// The grant and ledger endpoints are gated behind a single configured
// admin secret. Comparison is constant-time. An empty configured token
// disables the admin surface entirely rather than leaving it open.
package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/warp/credit-engine/metrics"
)

// RequireAdmin rejects requests whose Authorization header does not
// carry the configured bearer token.
func RequireAdmin(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			supplied, ok := bearerToken(r)
			if !ok || token == "" ||
				subtle.ConstantTimeCompare([]byte(supplied), []byte(token)) != 1 {
				metrics.AdminDenied.Inc()
				writeError(w, http.StatusUnauthorized, "unauthorized", "", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return "", false
	}
	return strings.TrimSpace(auth[len(prefix):]), true
}
