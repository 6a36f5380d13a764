package mw

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/fortresshq/fortress-api/internal/constants"
)

// CachePolicy maps a route pattern to a Cache-Control value.
type CachePolicy struct {
	Pattern      string
	CacheControl string
}

// CacheConfig holds the cache middleware configuration.
type CacheConfig struct {
	// Policies are matched in order, first match wins.
	Policies []CachePolicy
	// DefaultPolicy is applied when no policy matches (empty = no header set).
	DefaultPolicy string
}

// DefaultCacheConfig returns cache defaults for the API. Public pricing and
// health data are CDN cacheable; audit state is always fresh.
func DefaultCacheConfig() CacheConfig {
	shortSecs := int(constants.CacheMaxAgeShort.Seconds())
	mediumSecs := int(constants.CacheMaxAgeMedium.Seconds())

	return CacheConfig{
		DefaultPolicy: "private, no-cache",
		Policies: []CachePolicy{
			// Health score history is private; listed before /api/v1/health,
			// which would otherwise prefix-match it.
			{Pattern: "/api/v1/health-score", CacheControl: fmt.Sprintf("private, max-age=%d", mediumSecs)},

			{Pattern: "/api/v1/health", CacheControl: fmt.Sprintf("public, max-age=%d", shortSecs)},
			{Pattern: "/api/v1/pricing/tiers", CacheControl: fmt.Sprintf("public, max-age=%d, stale-while-revalidate=60", mediumSecs)},

			// Probes must reflect real-time state
			{Pattern: "/healthz", CacheControl: "no-store"},
			{Pattern: "/readyz", CacheControl: "no-store"},

			// Run state is polled; never cache
			{Pattern: "/api/v1/audits", CacheControl: "private, no-cache"},

			// SSE streams set their own headers, belt and braces here
			{Pattern: "/stream", CacheControl: "no-cache"},
		},
	}
}

// Cache returns middleware that sets Cache-Control headers by route pattern.
// Mutations always get "no-store".
func Cache(cfg CacheConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet && r.Method != http.MethodHead {
				w.Header().Set("Cache-Control", "no-store")
				next.ServeHTTP(w, r)
				return
			}

			path := r.URL.Path
			for _, policy := range cfg.Policies {
				if matchesPattern(path, policy.Pattern) {
					w.Header().Set("Cache-Control", policy.CacheControl)
					next.ServeHTTP(w, r)
					return
				}
			}

			if cfg.DefaultPolicy != "" {
				w.Header().Set("Cache-Control", cfg.DefaultPolicy)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func matchesPattern(path, pattern string) bool {
	if path == pattern || strings.HasPrefix(path, pattern) {
		return true
	}
	// Patterns like "/stream" appear mid-path
	return strings.Contains(path, pattern)
}
