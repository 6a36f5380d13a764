package handlers

import (
	"context"

	"github.com/fortresshq/fortress-api/internal/service"
	"github.com/fortresshq/fortress-api/internal/signature"
)

// HealthScoreInput selects a domain's score history.
type HealthScoreInput struct {
	Domain string `query:"domain" minLength:"1" doc:"Domain to report on"`
	Days   int    `query:"days" default:"30" enum:"30,60,90" doc:"History window in days"`
}

// HealthScoreOutput is the score history response.
type HealthScoreOutput struct {
	Body service.HealthReport
}

// GetHealthScore returns a domain's daily score history over the requested
// window, the current score, and any milestones the latest score newly
// crossed.
func (h *Handlers) GetHealthScore(ctx context.Context, input *HealthScoreInput) (*HealthScoreOutput, error) {
	c := caller(ctx)

	domain, err := signature.NormalizeDomain(input.Domain)
	if err != nil {
		return nil, errNotFound("unknown domain")
	}

	report, err := h.Health.GetTimeSeries(ctx, c.UserID, domain, input.Days)
	if err != nil {
		h.logger.Error("health score", "domain", domain, "error", err)
		return nil, humaError(err)
	}
	return &HealthScoreOutput{Body: *report}, nil
}
