package httpx

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
)

const APIKeyHeader = "X-API-KEY"

// WithAPIKey rejects requests whose X-API-KEY header does not match key.
// Health endpoints stay open so probes keep working.
func WithAPIKey(key string, logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}
			got := r.Header.Get(APIKeyHeader)
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				logger.Warn("unauthorized request", "path", r.URL.Path)
				Problem(w, http.StatusUnauthorized, "Invalid API Key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
