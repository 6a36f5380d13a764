package handlers

import (
	"context"
	"sort"

	"github.com/fortresshq/fortress-api/internal/constants"
)

// TierLimitsResponse is the enforced numeric envelope for a single tier.
// Only includes limits the API actually enforces.
type TierLimitsResponse struct {
	Name              string `json:"name" doc:"Tier name (free, paid, enterprise)"`
	DisplayName       string `json:"display_name" doc:"Human-readable tier name"`
	MaxPages          int    `json:"max_pages" doc:"Max pages analyzed per audit"`
	MaxDomains        int    `json:"max_domains" doc:"Max distinct domains (0 = unlimited)"`
	DailyAuditLimit   int    `json:"daily_audit_limit" doc:"Audits per domain per UTC day"`
	RequestsPerMinute int    `json:"requests_per_minute" doc:"API requests per minute (0 = unlimited)"`
	VisibleIssueLimit int    `json:"visible_issue_limit" doc:"Issues shown per audit (0 = all)"`
}

// ListTiersOutput is the response for the pricing endpoint.
type ListTiersOutput struct {
	Body struct {
		Tiers []TierLimitsResponse `json:"tiers" doc:"Visible tiers and their limits"`
	}
}

// ListTiers returns the limits of every publicly visible tier, for pricing
// pages. Sales-led tiers are omitted.
func (h *Handlers) ListTiers(ctx context.Context, _ *struct{}) (*ListTiersOutput, error) {
	visible := constants.GetVisibleTiers()

	type tierWithOrder struct {
		response TierLimitsResponse
		order    int
	}
	tiers := make([]tierWithOrder, 0, len(visible))
	for name, limits := range visible {
		// Refresh from remote settings when available.
		limits = h.tiers.Limits(ctx, name)
		tiers = append(tiers, tierWithOrder{
			order: limits.Order,
			response: TierLimitsResponse{
				Name:              name,
				DisplayName:       limits.DisplayName,
				MaxPages:          limits.MaxPages,
				MaxDomains:        limits.MaxDomains,
				DailyAuditLimit:   limits.DailyAuditLimit,
				RequestsPerMinute: limits.RequestsPerMinute,
				VisibleIssueLimit: limits.VisibleIssueLimit,
			},
		})
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].order < tiers[j].order })

	out := &ListTiersOutput{}
	out.Body.Tiers = make([]TierLimitsResponse, 0, len(tiers))
	for _, t := range tiers {
		out.Body.Tiers = append(out.Body.Tiers, t.response)
	}
	return out, nil
}
