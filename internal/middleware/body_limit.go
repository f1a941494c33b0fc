package middleware

import (
	"net/http"
	"strings"

	"github.com/gentlechase/api/internal/httpx"
)

// BodyLimitOverride raises the limit for one route tree, such as uploads.
type BodyLimitOverride struct {
	PathPrefix string
	MaxBytes   int64
}

// LimitBodyBytesWithOverrides caps request bodies at defaultMax, or at the
// first override whose prefix matches the path with or without the /api
// mount. Bodies that declare a larger Content-Length are refused up front.
func LimitBodyBytesWithOverrides(defaultMax int64, overrides []BodyLimitOverride) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			maxBytes := bodyLimitFor(r.URL.Path, defaultMax, overrides)
			if maxBytes > 0 {
				if r.ContentLength > maxBytes {
					httpx.WriteError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large", "Request body is too large", nil)
					return
				}
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bodyLimitFor(path string, defaultMax int64, overrides []BodyLimitOverride) int64 {
	apiPath := strings.TrimPrefix(path, "/api")
	for _, o := range overrides {
		if o.PathPrefix == "" || o.MaxBytes <= 0 {
			continue
		}
		if hasPathPrefix(path, o.PathPrefix) || hasPathPrefix(apiPath, o.PathPrefix) {
			return o.MaxBytes
		}
	}
	return defaultMax
}

// hasPathPrefix matches whole segments, so /imports does not cover /importsx.
func hasPathPrefix(path, prefix string) bool {
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == '/'
}
