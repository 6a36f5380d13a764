// Package constants defines centralized configuration for tier limits,
// rate limits, and user-facing messages. Change values here to update
// limits across the entire application.
package constants

import (
	"fmt"
	"sync"
	"time"
)

// tiersMu protects concurrent access to the Tiers map.
var tiersMu sync.RWMutex

// Tier names
const (
	TierFree       = "free"
	TierPaid       = "paid"
	TierEnterprise = "enterprise"
)

// TierLimits defines the numeric limits for a subscription tier.
type TierLimits struct {
	// DisplayName is the user-facing name for this tier, exposed via the pricing API.
	DisplayName string
	// Visible controls whether this tier appears in the public pricing API.
	Visible bool
	// Order controls the display order in pricing tables (lower = first).
	Order int
	// MaxPages is the max pages crawled and analyzed per audit.
	MaxPages int
	// MaxToolCalls is the per-audit budget of analysis tool invocations.
	MaxToolCalls int
	// QueuedPollLimit is how many status polls an audit may spend queued
	// upstream before the run is failed with a timeout.
	QueuedPollLimit int
	// RequestsPerMinute is the per-user API rate limit (0 = unlimited).
	RequestsPerMinute int
	// MaxDomains is the max distinct domains a user may audit (0 = unlimited).
	MaxDomains int
	// DailyAuditLimit is the max audits per (user, domain) per UTC day.
	DailyAuditLimit int
	// VisibleIssueLimit caps how many issues are shown per audit (0 = unlimited).
	// Issues beyond the cap are detected and stored but gated behind an upgrade.
	VisibleIssueLimit int
}

// Tiers defines limits for each subscription tier.
// To change tier limits, modify this map.
var Tiers = map[string]TierLimits{
	TierFree: {
		DisplayName:       "Free",
		Visible:           true,
		Order:             0,
		MaxPages:          5,
		MaxToolCalls:      8,
		QueuedPollLimit:   30,
		RequestsPerMinute: 10,
		MaxDomains:        1,
		DailyAuditLimit:   1,
		VisibleIssueLimit: 5,
	},
	TierPaid: {
		DisplayName:       "Pro",
		Visible:           true,
		Order:             1,
		MaxPages:          18,
		MaxToolCalls:      30,
		QueuedPollLimit:   60,
		RequestsPerMinute: 60,
		MaxDomains:        5,
		DailyAuditLimit:   1,
		VisibleIssueLimit: 0, // Unlimited
	},
	TierEnterprise: {
		DisplayName:       "Enterprise",
		Visible:           false, // Sales-led, not self-serve
		Order:             2,
		MaxPages:          50,
		MaxToolCalls:      60,
		QueuedPollLimit:   120,
		RequestsPerMinute: 120,
		MaxDomains:        0, // Unlimited
		DailyAuditLimit:   1,
		VisibleIssueLimit: 0, // Unlimited
	},
}

// GetTierLimits returns the limits for a tier, defaulting to free tier.
// Normalizes billing-plan slugs (e.g. "plan_v1_pro" -> "paid").
// Thread-safe for concurrent access.
func GetTierLimits(tier string) TierLimits {
	tiersMu.RLock()
	defer tiersMu.RUnlock()

	// Direct match first
	if limits, ok := Tiers[tier]; ok {
		return limits
	}

	normalized := NormalizeTierName(tier)
	if limits, ok := Tiers[normalized]; ok {
		return limits
	}

	return Tiers[TierFree]
}

// NormalizeTierName converts billing-plan slugs to internal tier names.
// Unknown plans map to the free tier, failing closed on limits.
// Examples:
//   - "pro" -> "paid"
//   - "plan_v1_pro" -> "paid"
//   - "enterprise" -> "enterprise"
//   - "" -> "free"
func NormalizeTierName(tier string) string {
	tierMappings := map[string]string{
		"":                   TierFree,
		"pro":                TierPaid,
		"plan_v1_free":       TierFree,
		"plan_v1_pro":        TierPaid,
		"plan_v1_enterprise": TierEnterprise,
	}

	if mapped, ok := tierMappings[tier]; ok {
		return mapped
	}
	if _, ok := Tiers[tier]; ok {
		return tier
	}

	return TierFree
}

// Anonymous preview limits. Anonymous sessions get a one-shot taste of the
// product: a single shallow audit with a trimmed issue list.
const (
	// AnonMaxPages is the page budget for anonymous preview audits.
	AnonMaxPages = 3
	// AnonVisibleIssueLimit caps issues shown to anonymous sessions.
	AnonVisibleIssueLimit = 7
	// AnonAuditLimit is the total audits per anonymous session (not per day).
	AnonAuditLimit = 1
)

// Global rate limiting defaults
const (
	// GlobalIPRateLimitPerMinute is the fallback rate limit for unauthenticated requests
	GlobalIPRateLimitPerMinute = 100
	// GlobalConcurrencyLimit is the max concurrent requests the server will handle
	GlobalConcurrencyLimit = 100
	// MaxRequestBodySize is the max request body size in bytes (1MB)
	MaxRequestBodySize = 1 * 1024 * 1024
)

// Audit processing defaults
const (
	// StatusPollInterval is how often a pending audit's upstream job is polled.
	StatusPollInterval = 3 * time.Second
	// StreamHeartbeatInterval is how often an SSE stream emits a keepalive
	// when nothing has changed.
	StreamHeartbeatInterval = 15 * time.Second
	// StreamMaxPolls is the hard ceiling on poll cycles within one SSE
	// connection before the server closes the stream.
	StreamMaxPolls = 1000
	// StaleAuditAge is how long an audit can be in progress before it's considered stale
	StaleAuditAge = 30 * time.Minute
	// DefaultWorkerConcurrency is the default number of schedule worker goroutines
	DefaultWorkerConcurrency = 1
)

// HTTP request timeouts
const (
	// DefaultRequestTimeout is the timeout for most API endpoints
	DefaultRequestTimeout = 60 * time.Second
	// AuditRequestTimeout is the extended timeout for audit starts, which may
	// block on synchronous analysis of small sites.
	AuditRequestTimeout = 5 * time.Minute
	// StreamRequestTimeout is the extended timeout for SSE audit streams,
	// sized to outlast the longest enterprise audit.
	StreamRequestTimeout = 20 * time.Minute
)

// Cache durations for Cache-Control headers
const (
	// CacheMaxAgeShort is for rapidly changing data (health checks, etc.)
	CacheMaxAgeShort = 30 * time.Second
	// CacheMaxAgeMedium is for semi-stable data (tier info, health scores)
	CacheMaxAgeMedium = 5 * time.Minute
)

// DailyLimitMessage returns a user-friendly message for the daily audit limit.
func DailyLimitMessage(tier string) string {
	normalized := NormalizeTierName(tier)
	limits := GetTierLimits(normalized)
	switch normalized {
	case TierFree:
		return fmt.Sprintf("You've used your %d audit for this domain today. Audits reset at midnight UTC, or upgrade to Pro for deeper %d-page audits.",
			limits.DailyAuditLimit, Tiers[TierPaid].MaxPages)
	default:
		return fmt.Sprintf("You've used your %d audit for this domain today. Audits reset at midnight UTC.",
			limits.DailyAuditLimit)
	}
}

// DomainLimitMessage returns a user-friendly message for the domain cap.
func DomainLimitMessage(tier string) string {
	normalized := NormalizeTierName(tier)
	limits := GetTierLimits(normalized)
	switch normalized {
	case TierFree:
		return fmt.Sprintf("The free tier covers %d domain. Upgrade to Pro to monitor up to %d domains.",
			limits.MaxDomains, Tiers[TierPaid].MaxDomains)
	case TierPaid:
		return fmt.Sprintf("You've reached your Pro plan limit of %d domains. Contact us about Enterprise for unlimited domains.",
			limits.MaxDomains)
	default:
		return fmt.Sprintf("You've reached your limit of %d domains.", limits.MaxDomains)
	}
}

// AnonLimitMessage is returned when an anonymous session has used its preview audit.
const AnonLimitMessage = "You've used your free preview audit. Create an account to run a full audit of your site."

// TierMetadata represents visibility and display info from the tier settings
// document.
type TierMetadata struct {
	Slug        string // Tier slug (e.g., "free", "paid")
	DisplayName string // Human-readable name, empty keeps the current one
	Visible     bool   // Whether publicly available
}

// UpdateTierMetadata updates tier display names and visibility. Applied when
// the settings document is (re)loaded. Thread-safe for concurrent access.
func UpdateTierMetadata(metadata []TierMetadata) {
	tiersMu.Lock()
	defer tiersMu.Unlock()

	for _, m := range metadata {
		tierName := NormalizeTierName(m.Slug)

		if tier, ok := Tiers[tierName]; ok {
			if m.DisplayName != "" {
				tier.DisplayName = m.DisplayName
			}
			tier.Visible = m.Visible
			Tiers[tierName] = tier
		}
	}
}

// GetVisibleTiers returns all tiers that are marked as visible.
// Thread-safe for concurrent access.
func GetVisibleTiers() map[string]TierLimits {
	tiersMu.RLock()
	defer tiersMu.RUnlock()

	visible := make(map[string]TierLimits)
	for name, tier := range Tiers {
		if tier.Visible {
			visible[name] = tier
		}
	}
	return visible
}
