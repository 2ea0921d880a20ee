package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/glassbox/internal/trust"
)

// Trust resolves the anonymous client identity and runs the admission
// pipeline before any handler sees the request. The client presents its
// self-generated UUID as `Authorization: Bearer <uuid>` plus an optional
// X-Device-Fingerprint header.
func Trust(svc *trust.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractBearer(r)
			if token == "" {
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "missing client token")
				return
			}

			client, err := svc.Authenticate(r.Context(), trust.AccessRequest{
				ClientToken: token,
				Fingerprint: r.Header.Get("X-Device-Fingerprint"),
				IP:          r.RemoteAddr,
				UserAgent:   r.UserAgent(),
				Referrer:    r.Referer(),
			})
			if err != nil {
				writeTrustError(w, err)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClient(r.Context(), client)))
		})
	}
}

func extractBearer(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
		return auth[7:]
	}
	return ""
}

func writeTrustError(w http.ResponseWriter, err error) {
	var rle *trust.RateLimitError
	switch {
	case errors.As(err, &rle):
		retryAfter := int(time.Until(rle.ResetAt).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		writeProblem(w, http.StatusTooManyRequests, "Too Many Requests",
			fmt.Sprintf("rate limit exceeded (%s), retry after %ds", rle.LimitType, retryAfter))
	case errors.Is(err, trust.ErrInvalidClientID):
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "client token must be a valid UUID")
	case errors.Is(err, trust.ErrBlocked):
		writeProblem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, trust.ErrFingerprintMismatch):
		writeProblem(w, http.StatusForbidden, "Forbidden", "device fingerprint mismatch")
	default:
		log.Error().Err(err).Msg("trust check failed")
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "authentication failed")
	}
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"title":  title,
		"status": status,
		"detail": detail,
	})
}
