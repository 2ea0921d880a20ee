package middleware

import (
	"crypto/subtle"
	"net/http"
)

// APIKey guards admin surfaces with a static key in X-API-Key. The compare
// is constant-time.
func APIKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get("X-API-Key")
			if presented == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing or invalid API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
