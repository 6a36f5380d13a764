package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/repository"
	"github.com/fortresshq/fortress-api/internal/signature"
)

// ScheduleInterval is how often an enabled schedule re-audits its domain.
const ScheduleInterval = 7 * 24 * time.Hour

// ScheduleService manages weekly re-audit schedules per (user, domain).
type ScheduleService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

func NewScheduleService(repos *repository.Repositories, logger *slog.Logger) *ScheduleService {
	return &ScheduleService{repos: repos, logger: logger.With("service", "schedule")}
}

// Set enables or disables the weekly schedule for a domain. Enabling sets the
// first run one interval out; re-enabling resets the clock.
func (s *ScheduleService) Set(ctx context.Context, userID, rawDomain string, enabled bool) (*models.ScheduledAuditSetting, error) {
	domain, err := signature.NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}

	setting := &models.ScheduledAuditSetting{
		UserID:  userID,
		Domain:  domain,
		Enabled: enabled,
	}
	if enabled {
		setting.NextRunAt = time.Now().UTC().Add(ScheduleInterval)
	}
	if err := s.repos.Schedule.Upsert(ctx, setting); err != nil {
		return nil, err
	}
	s.logger.Info("schedule updated", "user_id", userID, "domain", domain, "enabled", enabled)
	return setting, nil
}

// Get returns the schedule for a domain, nil when none is configured.
func (s *ScheduleService) Get(ctx context.Context, userID, rawDomain string) (*models.ScheduledAuditSetting, error) {
	domain, err := signature.NormalizeDomain(rawDomain)
	if err != nil {
		return nil, err
	}
	return s.repos.Schedule.Get(ctx, userID, domain)
}
