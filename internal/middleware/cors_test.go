package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCORS(t *testing.T) {
	reached := false
	h := CORS([]string{" https://app.gentlechase.test/ ", ""})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/exports/invoices.csv", nil)
		req.Header.Set("Origin", "https://app.gentlechase.test")
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.gentlechase.test" {
			t.Fatalf("expected origin to be echoed, got %v", rr.Header())
		}
		if rr.Header().Get("Access-Control-Expose-Headers") != "Content-Disposition, X-Request-Id" {
			t.Fatalf("expected download headers to be exposed, got %q", rr.Header().Get("Access-Control-Expose-Headers"))
		}
	})

	t.Run("preflight", func(t *testing.T) {
		reached = false
		req := httptest.NewRequest(http.MethodOptions, "/api/imports", nil)
		req.Header.Set("Origin", "https://app.gentlechase.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent || reached {
			t.Fatalf("expected preflight to be answered here, got %d reached=%v", rr.Code, reached)
		}
		if rr.Header().Get("Access-Control-Max-Age") != "600" || rr.Header().Get("Access-Control-Allow-Methods") == "" {
			t.Fatalf("expected preflight headers, got %v", rr.Header())
		}
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/api/imports", nil)
		req.Header.Set("Origin", "https://evil.test")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Header().Get("Access-Control-Allow-Origin") != "" || rr.Header().Get("Access-Control-Allow-Methods") != "" {
			t.Fatalf("expected no CORS grant, got %v", rr.Header())
		}
		if rr.Header().Get("Vary") != "Origin" {
			t.Fatalf("expected Vary: Origin, got %q", rr.Header().Get("Vary"))
		}
	})

	t.Run("plain options reaches router", func(t *testing.T) {
		reached = false
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/health", nil))
		if !reached {
			t.Fatalf("expected non-preflight OPTIONS to pass through")
		}
	})
}
