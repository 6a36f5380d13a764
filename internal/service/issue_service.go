package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/repository"
)

// IssueService handles user decisions on issues and prepares issue lists for
// display: it applies remembered per-signature states across runs and
// enforces tier visibility caps.
type IssueService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

func NewIssueService(repos *repository.Repositories, logger *slog.Logger) *IssueService {
	return &IssueService{repos: repos, logger: logger.With("service", "issue")}
}

// ErrNotOwner is returned when a caller tries to modify an issue belonging
// to someone else's run.
var ErrNotOwner = fmt.Errorf("issue does not belong to caller")

// UpdateStatus sets an issue's status and remembers the decision against the
// issue's signature, so the same finding in future runs of the domain carries
// it forward. Returns nil when the issue does not exist.
func (s *IssueService) UpdateStatus(ctx context.Context, userID, issueID string, status models.IssueStatus) (*models.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid issue status %q", status)
	}

	issue, err := s.repos.Issue.GetByID(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue == nil {
		return nil, nil
	}

	run, err := s.repos.AuditRun.GetByID(ctx, issue.AuditRunID)
	if err != nil {
		return nil, err
	}
	if run == nil || run.UserID != userID {
		return nil, ErrNotOwner
	}

	updated, err := s.repos.Issue.UpdateStatus(ctx, issueID, status)
	if err != nil {
		return nil, err
	}

	if err := s.repos.IssueState.Upsert(ctx, &models.IssueState{
		UserID:    userID,
		Domain:    run.Domain,
		Signature: issue.Signature,
		State:     status,
	}); err != nil {
		return nil, fmt.Errorf("remembering issue decision: %w", err)
	}
	return updated, nil
}

// UpdateStatusBulk applies one status to many issues. All issues must belong
// to the caller; the whole request is refused otherwise.
func (s *IssueService) UpdateStatusBulk(ctx context.Context, userID string, issueIDs []string, status models.IssueStatus) ([]*models.Issue, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("invalid issue status %q", status)
	}
	if len(issueIDs) == 0 {
		return nil, nil
	}

	// Verify ownership and collect signatures per domain before writing.
	type decision struct {
		domain    string
		signature string
	}
	decisions := make([]decision, 0, len(issueIDs))
	runs := make(map[string]*models.AuditRun)
	for _, id := range issueIDs {
		issue, err := s.repos.Issue.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if issue == nil {
			return nil, fmt.Errorf("issue %s not found", id)
		}
		run, ok := runs[issue.AuditRunID]
		if !ok {
			run, err = s.repos.AuditRun.GetByID(ctx, issue.AuditRunID)
			if err != nil {
				return nil, err
			}
			runs[issue.AuditRunID] = run
		}
		if run == nil || run.UserID != userID {
			return nil, ErrNotOwner
		}
		decisions = append(decisions, decision{domain: run.Domain, signature: issue.Signature})
	}

	updated, err := s.repos.Issue.UpdateStatusBulk(ctx, issueIDs, status)
	if err != nil {
		return nil, err
	}

	for _, d := range decisions {
		if err := s.repos.IssueState.Upsert(ctx, &models.IssueState{
			UserID:    userID,
			Domain:    d.domain,
			Signature: d.signature,
			State:     status,
		}); err != nil {
			return nil, fmt.Errorf("remembering issue decision: %w", err)
		}
	}
	return updated, nil
}

// Reconcile applies remembered per-signature decisions to a fresh run's
// issues. Ignored findings are removed from the returned set, resolved ones
// are shown as resolved. Anonymous runs have no remembered state.
func (s *IssueService) Reconcile(ctx context.Context, run *models.AuditRun, issues []*models.Issue) ([]*models.Issue, error) {
	if run.IsAnonymous() || len(issues) == 0 {
		return issues, nil
	}

	states, err := s.repos.IssueState.GetByDomain(ctx, run.UserID, run.Domain)
	if err != nil {
		return nil, err
	}
	if len(states) == 0 {
		return issues, nil
	}

	out := make([]*models.Issue, 0, len(issues))
	for _, issue := range issues {
		state, ok := states[issue.Signature]
		if !ok || state.State == models.IssueStatusActive {
			out = append(out, issue)
			continue
		}
		if state.State == models.IssueStatusIgnored {
			continue
		}
		shown := *issue
		shown.Status = state.State
		out = append(out, &shown)
	}
	return out, nil
}

// GatedIssues is an issue list capped by the viewer's tier, with the real
// total preserved so clients can show what an upgrade unlocks.
type GatedIssues struct {
	Issues     []*models.Issue `json:"issues"`
	TotalCount int             `json:"total_count"`
	Truncated  bool            `json:"truncated"`
}

// Gate caps the visible issues at the viewer's tier limit. The total always
// reflects the full detected count.
func (s *IssueService) Gate(issues []*models.Issue, tier string, anonymous bool) *GatedIssues {
	limit := constants.GetTierLimits(tier).VisibleIssueLimit
	if anonymous {
		limit = constants.AnonVisibleIssueLimit
	}

	g := &GatedIssues{Issues: issues, TotalCount: len(issues)}
	if limit > 0 && len(issues) > limit {
		g.Issues = issues[:limit]
		g.Truncated = true
	}
	return g
}
