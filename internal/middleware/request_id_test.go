package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/gentlechase/api/internal/httpx"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = httpx.RequestIDFromContext(r.Context())
	}))

	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{"caller id kept", "edge-7f3a:01", true},
		{"missing", "", false},
		{"too long", strings.Repeat("a", 65), false},
		{"unsafe characters", "id\nforged=1", false},
		{"spaces", "two words", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tc.header != "" {
				req.Header.Set("X-Request-Id", tc.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Header().Get("X-Request-Id") != seen {
				t.Fatalf("response id %q differs from context id %q", rr.Header().Get("X-Request-Id"), seen)
			}
			if tc.keep {
				if seen != tc.header {
					t.Fatalf("expected %q to be kept, got %q", tc.header, seen)
				}
				return
			}
			if _, err := uuid.Parse(seen); err != nil {
				t.Fatalf("expected a generated uuid, got %q", seen)
			}
		})
	}
}
