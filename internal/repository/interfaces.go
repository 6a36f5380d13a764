// Package repository defines repository interfaces for data access.
// Note: user accounts, sessions, and billing are handled by the hosted auth
// provider; user_id values reference its user IDs.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
)

// AuditRunRepository defines methods for audit run data access.
type AuditRunRepository interface {
	Create(ctx context.Context, run *models.AuditRun) error
	GetByID(ctx context.Context, id string) (*models.AuditRun, error)
	GetByOwner(ctx context.Context, userID, sessionToken string, limit, offset int) ([]*models.AuditRun, error)
	Update(ctx context.Context, run *models.AuditRun) error
	// CountDistinctDomains returns how many distinct domains a user has audited.
	CountDistinctDomains(ctx context.Context, userID string) (int, error)
	// HasDomain reports whether the user has any prior run for the domain.
	HasDomain(ctx context.Context, userID, domain string) (bool, error)
	// CountBySession counts runs owned by an anonymous session.
	CountBySession(ctx context.Context, sessionToken string) (int, error)
	// MarkStaleInProgressFailed fails runs stuck in progress longer than maxAge.
	// Returns the number of runs marked failed.
	MarkStaleInProgressFailed(ctx context.Context, maxAge time.Duration) (int64, error)
	// ListCompletedDays returns the distinct UTC days (YYYY-MM-DD) on which
	// the user's runs for a domain completed since the given time, ascending.
	ListCompletedDays(ctx context.Context, userID, domain string, since time.Time) ([]string, error)
}

// IssueRepository defines methods for issue data access.
type IssueRepository interface {
	// CreateBatch inserts all issues for a run in one transaction.
	CreateBatch(ctx context.Context, issues []*models.Issue) error
	GetByID(ctx context.Context, id string) (*models.Issue, error)
	GetByRunID(ctx context.Context, runID string) ([]*models.Issue, error)
	// GetAfterID returns a run's issues with ID greater than afterID
	// (works with ULIDs which are time-ordered). Pass empty string for all.
	GetAfterID(ctx context.Context, runID, afterID string) ([]*models.Issue, error)
	UpdateStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error)
	UpdateStatusBulk(ctx context.Context, ids []string, status models.IssueStatus) ([]*models.Issue, error)
	// ListForDomainSince returns issues from the user's completed runs of a
	// domain since the given time, each tagged with the run's completion day.
	ListForDomainSince(ctx context.Context, userID, domain string, since time.Time) ([]*DatedIssue, error)
}

// DatedIssue pairs an issue with the UTC day (YYYY-MM-DD) its run completed.
type DatedIssue struct {
	models.Issue
	Day string
}

// IssueStateRepository defines methods for cross-run issue state data access.
type IssueStateRepository interface {
	// Upsert writes the state for (user, domain, signature), idempotent on
	// the composite key. Repeated identical updates produce no duplicates.
	Upsert(ctx context.Context, state *models.IssueState) error
	Get(ctx context.Context, userID, domain, signature string) (*models.IssueState, error)
	// GetByDomain returns all states for (user, domain) keyed by signature.
	GetByDomain(ctx context.Context, userID, domain string) (map[string]*models.IssueState, error)
}

// UsageRepository defines methods for daily audit usage counters.
type UsageRepository interface {
	// GetCount returns today's counter for (user, domain, date), 0 if absent.
	GetCount(ctx context.Context, userID, domain, date string) (int, error)
	// Increment atomically bumps the counter, inserting the row when missing.
	Increment(ctx context.Context, userID, domain, date string) error
}

// ScheduleRepository defines methods for scheduled audit settings.
type ScheduleRepository interface {
	Upsert(ctx context.Context, setting *models.ScheduledAuditSetting) error
	Get(ctx context.Context, userID, domain string) (*models.ScheduledAuditSetting, error)
	// ClaimDue atomically claims the next enabled setting whose next_run_at
	// has passed, advancing it by interval. Returns nil when nothing is due.
	ClaimDue(ctx context.Context, now time.Time, interval time.Duration) (*models.ScheduledAuditSetting, error)
}

// MilestoneRepository defines methods for celebrated health milestones.
type MilestoneRepository interface {
	GetCelebrated(ctx context.Context, userID, domain string) ([]int, error)
	RecordCelebrated(ctx context.Context, userID, domain string, milestones []int) error
}

// Repositories holds all repository instances.
type Repositories struct {
	AuditRun   AuditRunRepository
	Issue      IssueRepository
	IssueState IssueStateRepository
	Usage      UsageRepository
	Schedule   ScheduleRepository
	Milestone  MilestoneRepository
}

// NewRepositories creates all repository instances.
func NewRepositories(db *sql.DB) *Repositories {
	return &Repositories{
		AuditRun:   NewSQLiteAuditRunRepository(db),
		Issue:      NewSQLiteIssueRepository(db),
		IssueState: NewSQLiteIssueStateRepository(db),
		Usage:      NewSQLiteUsageRepository(db),
		Schedule:   NewSQLiteScheduleRepository(db),
		Milestone:  NewSQLiteMilestoneRepository(db),
	}
}
