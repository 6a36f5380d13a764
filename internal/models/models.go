// Package models defines the domain models for the audit orchestration core.
// User identity is external: UserID fields reference the hosted auth provider's
// user ids. Anonymous visitors are tracked by an opaque session token instead.
package models

import (
	"time"
)

// AuditStatus represents the lifecycle state of an audit run.
type AuditStatus string

const (
	AuditStatusPending    AuditStatus = "pending"
	AuditStatusInProgress AuditStatus = "in_progress"
	AuditStatusCompleted  AuditStatus = "completed"
	AuditStatusFailed     AuditStatus = "failed"
)

// IsTerminal reports whether the status is a terminal state.
func (s AuditStatus) IsTerminal() bool {
	return s == AuditStatusCompleted || s == AuditStatusFailed
}

// Severity classifies how serious an issue is. Ordered for sorting and scoring.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordering value for severity comparison (higher = more severe).
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	return s.Rank() > 0
}

// IssueStatus represents the user-facing state of a detected issue.
// Active is the default; ignored and resolved are user decisions and
// are reversible (a user can set an issue back to active).
type IssueStatus string

const (
	IssueStatusActive   IssueStatus = "active"
	IssueStatusIgnored  IssueStatus = "ignored"
	IssueStatusResolved IssueStatus = "resolved"
)

// Valid reports whether the status is a known value.
func (s IssueStatus) Valid() bool {
	switch s {
	case IssueStatusActive, IssueStatusIgnored, IssueStatusResolved:
		return true
	}
	return false
}

// AuditRun represents one crawl+analysis execution of a domain.
// Exactly one of UserID and SessionToken is set: authenticated audits
// belong to a user, anonymous preview audits to a browser session.
type AuditRun struct {
	ID           string      `json:"id"` // UUID
	UserID       string      `json:"user_id,omitempty"`
	SessionToken string      `json:"-"`
	Domain       string      `json:"domain"` // normalized origin: scheme+host, no path/query
	Tier         string      `json:"tier"`   // tier slug fixed at creation time
	Status       AuditStatus `json:"status"`
	// JobHandle is the opaque reference to the underlying analysis job.
	// Present only while the run is pending or in progress.
	JobHandle     string     `json:"job_handle,omitempty"`
	PagesAudited  int        `json:"pages_audited"`
	AuditedURLs   []string   `json:"audited_urls"` // distinct, in audit order
	ErrorKind     string     `json:"error_kind,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// IsAnonymous reports whether the run belongs to an anonymous session.
func (r *AuditRun) IsAnonymous() bool {
	return r.UserID == ""
}

// Issue is one detected content problem, scoped to a single AuditRun.
type Issue struct {
	ID           string      `json:"id"` // ULID - time-ordered, used for streaming reads
	AuditRunID   string      `json:"audit_run_id"`
	PageURL      string      `json:"page_url"`
	Category     string      `json:"category"` // e.g. "grammar", "broken-link", "brand-voice"
	Description  string      `json:"description"`
	SuggestedFix string      `json:"suggested_fix,omitempty"`
	Severity     Severity    `json:"severity"`
	Status       IssueStatus `json:"status"`
	// Signature is the content-based fingerprint joining this issue to
	// cross-run IssueState records. Computed at creation, never updated.
	Signature string    `json:"signature"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IssueState is the persistent, cross-run memory of a user's decision about a
// recurring issue, keyed by (user, domain, signature). The signature is derived
// from issue content rather than any run-scoped id, so the same real-world
// problem detected on different days maps to the same row.
type IssueState struct {
	UserID    string      `json:"user_id"`
	Domain    string      `json:"domain"`
	Signature string      `json:"signature"`
	State     IssueStatus `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// AuditUsage is a daily audit counter per (user, domain, date), maintained by
// the rate limiter. Date is a UTC calendar day in YYYY-MM-DD form.
type AuditUsage struct {
	UserID    string    `json:"user_id"`
	Domain    string    `json:"domain"`
	Date      string    `json:"date"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduledAuditSetting is the per (user, domain) toggle for unattended weekly
// re-audits, consumed by the schedule worker.
type ScheduledAuditSetting struct {
	UserID    string    `json:"user_id"`
	Domain    string    `json:"domain"`
	Enabled   bool      `json:"enabled"`
	NextRunAt time.Time `json:"next_run_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HealthSnapshot is the scored view of a domain's active issues for one UTC day.
type HealthSnapshot struct {
	Date            string `json:"date"` // YYYY-MM-DD
	Score           int    `json:"score"`
	ActiveCount     int    `json:"active_count"`
	CriticalCount   int    `json:"critical_count"`
	PagesWithIssues int    `json:"pages_with_issues"`
}
