package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

// ScheduleResponse is a weekly re-audit setting.
type ScheduleResponse struct {
	Domain    string     `json:"domain" doc:"Normalized domain"`
	Enabled   bool       `json:"enabled" doc:"Whether weekly re-audits are on"`
	NextRunAt *time.Time `json:"next_run_at,omitempty" doc:"When the next audit is due"`
}

// GetScheduleInput selects a domain's schedule.
type GetScheduleInput struct {
	Domain string `query:"domain" minLength:"1" doc:"Domain to look up"`
}

// GetScheduleOutput is the schedule lookup response.
type GetScheduleOutput struct {
	Body ScheduleResponse
}

// GetSchedule returns the weekly re-audit setting for a domain. A domain with
// no setting reports disabled.
func (h *Handlers) GetSchedule(ctx context.Context, input *GetScheduleInput) (*GetScheduleOutput, error) {
	c := caller(ctx)

	setting, err := h.Schedule.Get(ctx, c.UserID, input.Domain)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid domain")
	}

	out := &GetScheduleOutput{}
	if setting == nil {
		out.Body = ScheduleResponse{Domain: input.Domain, Enabled: false}
		return out, nil
	}
	out.Body = scheduleResponse(setting.Domain, setting.Enabled, setting.NextRunAt)
	return out, nil
}

// SetScheduleInput enables or disables weekly re-audits for a domain.
type SetScheduleInput struct {
	Body struct {
		Domain  string `json:"domain" minLength:"1" doc:"Domain to schedule"`
		Enabled bool   `json:"enabled" doc:"Turn weekly re-audits on or off"`
	}
}

// SetScheduleOutput is the updated schedule.
type SetScheduleOutput struct {
	Body ScheduleResponse
}

// SetSchedule enables or disables weekly re-audits for a domain. Enabling
// schedules the first run one week out.
func (h *Handlers) SetSchedule(ctx context.Context, input *SetScheduleInput) (*SetScheduleOutput, error) {
	c := caller(ctx)

	setting, err := h.Schedule.Set(ctx, c.UserID, input.Body.Domain, input.Body.Enabled)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid domain")
	}
	return &SetScheduleOutput{Body: scheduleResponse(setting.Domain, setting.Enabled, setting.NextRunAt)}, nil
}

func scheduleResponse(domain string, enabled bool, nextRunAt time.Time) ScheduleResponse {
	resp := ScheduleResponse{Domain: domain, Enabled: enabled}
	if enabled && !nextRunAt.IsZero() {
		resp.NextRunAt = &nextRunAt
	}
	return resp
}
