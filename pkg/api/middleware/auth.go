// Package middleware provides HTTP middleware for the engine ingress API.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/statorq/statorq/pkg/api/handlers"
	"github.com/statorq/statorq/pkg/torque"
)

// APIKey is a middleware that validates the X-Engine-Api-Key header against
// the configured key. An empty configured key disables authentication, for
// local development.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			presented := r.Header.Get(torque.APIKeyHeader)
			if presented == "" {
				handlers.Unauthorized(w, "API key required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				handlers.Unauthorized(w, "Invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
