package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serveWithCache(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	handler := Cache(DefaultCacheConfig())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestCachePublicEndpoints(t *testing.T) {
	tests := []struct {
		path     string
		expected string
	}{
		{"/api/v1/health", "public, max-age=30"},
		{"/api/v1/health-score", "private, max-age=300"},
		{"/api/v1/pricing/tiers", "public, max-age=300, stale-while-revalidate=60"},
		{"/healthz", "no-store"},
		{"/readyz", "no-store"},
		{"/api/v1/audits", "private, no-cache"},
		{"/api/v1/audits/abc123", "private, no-cache"},
		{"/api/v1/audits/abc123/stream", "private, no-cache"},
		{"/api/v1/schedules", "private, no-cache"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := serveWithCache(t, http.MethodGet, tt.path)
			if got := rec.Header().Get("Cache-Control"); got != tt.expected {
				t.Errorf("Cache-Control = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestCacheMutationsNeverCached(t *testing.T) {
	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		rec := serveWithCache(t, method, "/api/v1/pricing/tiers")
		if got := rec.Header().Get("Cache-Control"); got != "no-store" {
			t.Errorf("%s Cache-Control = %q, want no-store", method, got)
		}
	}
}

func TestMatchesPattern(t *testing.T) {
	tests := []struct {
		path     string
		pattern  string
		expected bool
	}{
		{"/api/v1/health", "/api/v1/health", true},
		{"/api/v1/health-score", "/api/v1/health-score", true},
		{"/api/v1/audits/xyz/stream", "/stream", true},
		{"/api/v1/issues/1", "/api/v1/audits", false},
	}

	for _, tt := range tests {
		if got := matchesPattern(tt.path, tt.pattern); got != tt.expected {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", tt.path, tt.pattern, got, tt.expected)
		}
	}
}
