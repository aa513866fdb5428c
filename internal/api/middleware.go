/**
 * @description
 * This file contains custom middleware for the HTTP router. The engine is an
 * internal service; mutating and read routes alike are guarded by a shared
 * internal API key rather than end-user authentication.
 */

package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// InternalAPIKeyMiddleware rejects requests that do not carry the configured
// internal API key. An empty configured key disables the check, which is
// only acceptable in local development.
func InternalAPIKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	expected := strings.TrimSpace(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if expected == "" {
				next.ServeHTTP(w, r)
				return
			}
			provided := strings.TrimSpace(r.Header.Get("X-Internal-Api-Key"))
			if provided == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) != 1 {
				http.Error(w, "Invalid or missing internal API key", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
