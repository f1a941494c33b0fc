package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gentlechase/api/internal/httpx"
)

const csrfHeader = "X-CSRF-Token"

// EnforceCSRF requires the session's token in X-CSRF-Token on unsafe
// methods. Must run after RequireAuth.
func EnforceCSRF(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || safeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			actor, ok := ActorFromContext(r.Context())
			if !ok {
				httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
				return
			}
			if !validCSRFToken(r.Header.Get(csrfHeader), actor.CSRFToken) {
				httpx.WriteError(w, r, http.StatusForbidden, "csrf_invalid", "Invalid CSRF token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validCSRFToken(got, want string) bool {
	got = strings.TrimSpace(got)
	if got == "" || want == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
