package httpx

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/authkit-dev/twostep/pkg/slogx"
)

// APIKeyMiddleware authenticates the calling host application with a
// static bearer token. The service trusts its caller to have already
// identified the end user; this guards the API surface itself.
func APIKeyMiddleware(apiKey string) Middleware {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log := slogx.FromContext(r.Context())

			authz := r.Header.Get("Authorization")
			if authz == "" || !strings.HasPrefix(authz, "Bearer ") {
				writeBearerError(w, "missing bearer token")
				return
			}
			raw := strings.TrimSpace(strings.TrimPrefix(authz, "Bearer"))

			if subtle.ConstantTimeCompare([]byte(raw), key) != 1 {
				log.Warn("api key rejected")
				writeBearerError(w, "invalid api key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RFC 6750-compliant error response for bearer auth.
func writeBearerError(w http.ResponseWriter, desc string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token", error_description="`+desc+`"`)
	w.WriteHeader(http.StatusUnauthorized)
}
