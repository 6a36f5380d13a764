// Package handlers contains HTTP handlers for the API.
package handlers

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/http/mw"
	"github.com/fortresshq/fortress-api/internal/service"
	"github.com/fortresshq/fortress-api/internal/version"
)

// Handlers bundles the services behind every endpoint.
type Handlers struct {
	Audit    *service.AuditService
	Issue    *service.IssueService
	Health   *service.HealthService
	Schedule *service.ScheduleService

	tiers  *constants.TierSettingsLoader
	db     *sql.DB
	logger *slog.Logger
}

func NewHandlers(audit *service.AuditService, issue *service.IssueService, health *service.HealthService, schedule *service.ScheduleService, tiers *constants.TierSettingsLoader, db *sql.DB, logger *slog.Logger) *Handlers {
	return &Handlers{
		Audit:    audit,
		Issue:    issue,
		Health:   health,
		Schedule: schedule,
		tiers:    tiers,
		db:       db,
		logger:   logger,
	}
}

// HealthCheckOutput represents the health check response.
type HealthCheckOutput struct {
	Body struct {
		Status  string `json:"status"`
		Version string `json:"version"`
	}
}

// HealthCheck returns the health status of the API.
func (h *Handlers) HealthCheck(ctx context.Context, _ *struct{}) (*HealthCheckOutput, error) {
	out := &HealthCheckOutput{}
	out.Body.Status = "healthy"
	out.Body.Version = version.Version
	return out, nil
}

// ProbeOutput is the response for Kubernetes probes.
type ProbeOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// Livez reports process liveness.
func (h *Handlers) Livez(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// Readyz reports readiness: the process is up and the database answers.
func (h *Handlers) Readyz(ctx context.Context, _ *struct{}) (*ProbeOutput, error) {
	if err := h.db.PingContext(ctx); err != nil {
		return nil, errServiceUnavailable("database not ready")
	}
	out := &ProbeOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// caller extracts the resolved caller from context. The auth middleware runs
// on every route, so a nil caller means a wiring bug; treat it as anonymous.
func caller(ctx context.Context) *mw.Caller {
	if c := mw.GetCaller(ctx); c != nil {
		return c
	}
	return &mw.Caller{}
}
