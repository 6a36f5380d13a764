// Package service contains the application's business logic, between the
// HTTP handlers and the repositories.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/repository"
)

// LimitCheck is the structured result of a rate limit evaluation. It carries
// everything the caller needs to render an exact rejection message.
type LimitCheck struct {
	Allowed bool       `json:"allowed"`
	Used    int        `json:"used"`
	Limit   int        `json:"limit"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// RateLimitService gates audit starts: per-day audit counts per domain and
// the tier's distinct-domain cap. It never throws for an exceeded limit;
// callers branch on LimitCheck.Allowed.
type RateLimitService struct {
	repos  *repository.Repositories
	tiers  *constants.TierSettingsLoader
	logger *slog.Logger
}

// NewRateLimitService creates a rate limit service. tiers may be nil, in
// which case the compiled-in tier envelopes apply.
func NewRateLimitService(repos *repository.Repositories, tiers *constants.TierSettingsLoader, logger *slog.Logger) *RateLimitService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimitService{repos: repos, tiers: tiers, logger: logger}
}

// utcDay formats a time as the UTC calendar day used for usage keys.
func utcDay(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// nextUTCMidnight is when daily counters reset.
func nextUTCMidnight(now time.Time) time.Time {
	t := now.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
}

// CheckDailyLimit evaluates today's audit count for (user, domain) against
// the tier's daily cap.
func (s *RateLimitService) CheckDailyLimit(ctx context.Context, userID, domain, tier string) (*LimitCheck, error) {
	limits := s.tiers.Limits(ctx, tier)
	now := time.Now()

	used, err := s.repos.Usage.GetCount(ctx, userID, domain, utcDay(now))
	if err != nil {
		return nil, fmt.Errorf("daily limit check: %w", err)
	}

	resetAt := nextUTCMidnight(now)
	return &LimitCheck{
		Allowed: used < limits.DailyAuditLimit,
		Used:    used,
		Limit:   limits.DailyAuditLimit,
		ResetAt: &resetAt,
	}, nil
}

// CheckDomainLimit evaluates the tier's distinct-domain cap. The cap is only
// consulted when the domain is new to the user: re-auditing an existing
// domain never consumes capacity, so the check is idempotent per domain.
func (s *RateLimitService) CheckDomainLimit(ctx context.Context, userID, domain, tier string) (*LimitCheck, error) {
	limits := s.tiers.Limits(ctx, tier)
	if limits.MaxDomains == 0 {
		return &LimitCheck{Allowed: true, Limit: 0}, nil
	}

	known, err := s.repos.AuditRun.HasDomain(ctx, userID, domain)
	if err != nil {
		return nil, fmt.Errorf("domain limit check: %w", err)
	}

	used, err := s.repos.AuditRun.CountDistinctDomains(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("domain limit check: %w", err)
	}

	if known {
		return &LimitCheck{Allowed: true, Used: used, Limit: limits.MaxDomains}, nil
	}

	return &LimitCheck{
		Allowed: used < limits.MaxDomains,
		Used:    used,
		Limit:   limits.MaxDomains,
	}, nil
}

// CheckAnonLimit evaluates the one-shot preview budget for an anonymous session.
func (s *RateLimitService) CheckAnonLimit(ctx context.Context, sessionToken string) (*LimitCheck, error) {
	used, err := s.repos.AuditRun.CountBySession(ctx, sessionToken)
	if err != nil {
		return nil, fmt.Errorf("anon limit check: %w", err)
	}
	return &LimitCheck{
		Allowed: used < constants.AnonAuditLimit,
		Used:    used,
		Limit:   constants.AnonAuditLimit,
	}, nil
}

// RecordAuditStarted increments the daily counter for (user, domain, today).
// Called exactly once per audit, only after the audit is confirmed started,
// so failed starts are never penalized.
func (s *RateLimitService) RecordAuditStarted(ctx context.Context, userID, domain string) error {
	if userID == "" {
		// Anonymous sessions are capped by run count, not daily usage
		return nil
	}
	if err := s.repos.Usage.Increment(ctx, userID, domain, utcDay(time.Now())); err != nil {
		return fmt.Errorf("record audit started: %w", err)
	}
	return nil
}
