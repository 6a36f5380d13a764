package constants

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fortresshq/fortress-api/internal/config"
)

// TierSettingsJSON represents the JSON structure for tier settings from S3.
type TierSettingsJSON struct {
	Tiers map[string]TierLimitsJSON `json:"tiers"`
}

// TierLimitsJSON represents tier limits in JSON format.
type TierLimitsJSON struct {
	DisplayName       string `json:"display_name,omitempty"`
	Visible           *bool  `json:"visible,omitempty"` // Pointer to detect explicit false vs missing
	Order             int    `json:"order,omitempty"`
	MaxPages          int    `json:"max_pages"`
	MaxToolCalls      int    `json:"max_tool_calls"`
	QueuedPollLimit   int    `json:"queued_poll_limit"`
	RequestsPerMinute int    `json:"requests_per_minute"`
	MaxDomains        int    `json:"max_domains"`
	DailyAuditLimit   int    `json:"daily_audit_limit"`
	VisibleIssueLimit int    `json:"visible_issue_limit"`
}

// TierSettingsLoader provides S3-backed tier settings with caching.
// Lets ops tune audit budgets without a redeploy.
type TierSettingsLoader struct {
	loader *config.S3Loader

	mu     sync.RWMutex
	tiers  map[string]TierLimits // overrides from S3
	logger *slog.Logger
}

// TierSettingsConfig holds configuration for the tier settings loader.
type TierSettingsConfig = config.S3LoaderConfig

// NewTierSettingsLoader creates a loader. Built once at startup and handed to
// every component that resolves tier envelopes; there is no package-level
// instance. A nil loader is valid and serves the compiled-in defaults.
func NewTierSettingsLoader(cfg TierSettingsConfig) *TierSettingsLoader {
	t := &TierSettingsLoader{
		loader: config.NewS3Loader(cfg),
		tiers:  make(map[string]TierLimits),
		logger: cfg.Logger,
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	return t
}

// IsEnabled returns true if S3 is configured.
func (t *TierSettingsLoader) IsEnabled() bool {
	return t.loader.IsEnabled()
}

// MaybeRefresh checks if we need to refresh tier settings from S3.
func (t *TierSettingsLoader) MaybeRefresh(ctx context.Context) {
	if !t.loader.NeedsRefresh() {
		return
	}

	// Refresh in background to not block requests
	go t.refresh(context.WithoutCancel(ctx))
}

// refresh fetches tier settings from S3 and parses them.
func (t *TierSettingsLoader) refresh(ctx context.Context) {
	result, err := t.loader.Fetch(ctx)
	if err != nil {
		// S3Loader already logged the error
		return
	}
	if result == nil || result.NotChanged {
		return
	}

	var settings TierSettingsJSON
	if err := json.Unmarshal(result.Data, &settings); err != nil {
		t.logger.Error("failed to parse tier settings JSON", "error", err)
		return
	}

	t.apply(settings)

	t.logger.Info("tier settings loaded from S3",
		"tier_count", len(settings.Tiers),
	)
}

// apply installs parsed settings as the override set and propagates display
// metadata to the base tier table, so the pricing surface follows the
// settings document too.
func (t *TierSettingsLoader) apply(settings TierSettingsJSON) {
	newTiers := make(map[string]TierLimits, len(settings.Tiers))
	metadata := make([]TierMetadata, 0, len(settings.Tiers))
	for name, limits := range settings.Tiers {
		// Visible pointer defaults to true when not specified
		visible := true
		if limits.Visible != nil {
			visible = *limits.Visible
		}

		newTiers[name] = TierLimits{
			DisplayName:       limits.DisplayName,
			Visible:           visible,
			Order:             limits.Order,
			MaxPages:          limits.MaxPages,
			MaxToolCalls:      limits.MaxToolCalls,
			QueuedPollLimit:   limits.QueuedPollLimit,
			RequestsPerMinute: limits.RequestsPerMinute,
			MaxDomains:        limits.MaxDomains,
			DailyAuditLimit:   limits.DailyAuditLimit,
			VisibleIssueLimit: limits.VisibleIssueLimit,
		}
		metadata = append(metadata, TierMetadata{
			Slug:        name,
			DisplayName: limits.DisplayName,
			Visible:     visible,
		})
	}

	t.mu.Lock()
	t.tiers = newTiers
	t.mu.Unlock()

	UpdateTierMetadata(metadata)
}

// GetLimits returns tier limits, checking S3 overrides first.
// Returns nil if no override exists for the tier.
func (t *TierSettingsLoader) GetLimits(tier string) *TierLimits {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if limits, ok := t.tiers[tier]; ok {
		return &limits
	}
	return nil
}

// Limits returns tier limits, checking S3 overrides first. It handles
// normalization and fallback, and is safe on a nil receiver so callers
// running without S3 keep the compiled-in defaults.
func (t *TierSettingsLoader) Limits(ctx context.Context, tier string) TierLimits {
	if t == nil {
		return GetTierLimits(tier)
	}
	if t.IsEnabled() {
		t.MaybeRefresh(ctx)
	}

	// Try normalized name first, then original
	if limits := t.GetLimits(NormalizeTierName(tier)); limits != nil {
		return *limits
	}
	if limits := t.GetLimits(tier); limits != nil {
		return *limits
	}

	// Fall back to hardcoded defaults
	return GetTierLimits(tier)
}
