package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	"github.com/fortresshq/fortress-api/internal/constants"
)

// RateLimitConfig holds configuration for request rate limiting.
type RateLimitConfig struct {
	// TierLimits maps tier names to their requests per minute limit.
	// A value of 0 means unlimited.
	TierLimits map[string]int
	// IPRequestsPerMinute is the fallback limit for anonymous requests.
	IPRequestsPerMinute int
}

// DefaultRateLimitConfig returns defaults from the constants package.
func DefaultRateLimitConfig() RateLimitConfig {
	tierLimits := make(map[string]int)
	for _, tier := range []string{constants.TierFree, constants.TierPaid, constants.TierEnterprise} {
		tierLimits[tier] = constants.GetTierLimits(tier).RequestsPerMinute
	}
	return RateLimitConfig{
		TierLimits:          tierLimits,
		IPRequestsPerMinute: constants.GlobalIPRateLimitPerMinute,
	}
}

// RateLimitByCaller returns middleware that rate limits authenticated users
// by user ID at their tier's requests-per-minute, and everyone else by IP.
// Must run after Auth.
func RateLimitByCaller(cfg RateLimitConfig) func(http.Handler) http.Handler {
	tierLimiters := make(map[string]*httprate.RateLimiter)
	for tier, limit := range cfg.TierLimits {
		if limit > 0 {
			tierLimiters[tier] = httprate.NewRateLimiter(
				limit,
				time.Minute,
				httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
					caller := GetCaller(r.Context())
					if caller.IsAnonymous() {
						return httprate.KeyByIP(r)
					}
					return "user:" + caller.UserID, nil
				}),
			)
		}
	}

	fallbackLimiter := httprate.NewRateLimiter(
		cfg.IPRequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tier := GetCaller(r.Context()).Tier()

			if limit, ok := cfg.TierLimits[tier]; ok && limit == 0 {
				next.ServeHTTP(w, r)
				return
			}

			limiter, ok := tierLimiters[tier]
			if !ok {
				limiter = fallbackLimiter
			}
			limiter.Handler(next).ServeHTTP(w, r)
		})
	}
}

// RateLimitByIP returns middleware that rate limits by IP address. Used as a
// global outer guard.
func RateLimitByIP(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.LimitByIP(requestsPerMinute, time.Minute)
}
