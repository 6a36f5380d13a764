package service

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/repository"
)

// Milestones are the score thresholds worth celebrating, each at most once
// per (user, domain).
var Milestones = []int{75, 85, 95}

// severityWeights are the score penalties per distinct active issue.
var severityWeights = map[models.Severity]int{
	models.SeverityCritical: 15,
	models.SeverityHigh:     10,
	models.SeverityMedium:   5,
	models.SeverityLow:      2,
}

// HealthReport is a domain's score history plus any milestones newly crossed
// by the latest score.
type HealthReport struct {
	Series        []models.HealthSnapshot `json:"series"`
	CurrentScore  int                     `json:"current_score"`
	NewMilestones []int                   `json:"new_milestones,omitempty"`
}

// HealthService derives a 0-100 score per domain from active issue severity
// and tracks it over time.
type HealthService struct {
	repos  *repository.Repositories
	logger *slog.Logger
}

func NewHealthService(repos *repository.Repositories, logger *slog.Logger) *HealthService {
	return &HealthService{repos: repos, logger: logger.With("service", "health")}
}

// ComputeScore scores a set of issues: 100 minus the summed severity weight
// of each distinct active signature, floored at zero. Ignored and resolved
// issues carry no penalty.
func ComputeScore(issues []*models.Issue) int {
	score := 100
	seen := make(map[string]bool, len(issues))
	for _, issue := range issues {
		if issue.Status != models.IssueStatusActive || seen[issue.Signature] {
			continue
		}
		seen[issue.Signature] = true
		score -= severityWeights[issue.Severity]
	}
	if score < 0 {
		return 0
	}
	return score
}

// DetectMilestoneCrossings returns the milestones crossed upward from prev to
// current, excluding ones already celebrated. A nil prev means no history, so
// every milestone at or below current is a crossing. Downward movement never
// crosses anything.
func DetectMilestoneCrossings(prev *int, current int, celebrated []int) []int {
	baseline := 0
	if prev != nil {
		baseline = *prev
	}
	if current <= baseline {
		return nil
	}

	done := make(map[int]bool, len(celebrated))
	for _, m := range celebrated {
		done[m] = true
	}

	var crossed []int
	for _, m := range Milestones {
		if baseline < m && current >= m && !done[m] {
			crossed = append(crossed, m)
		}
	}
	return crossed
}

// GetTimeSeries builds the daily score history for a domain over the given
// window (30, 60, or 90 days; anything else falls back to 30). Issues from
// all completed runs of a day are unioned by signature, so two runs on the
// same UTC day yield one snapshot without double-counted penalties. Newly
// crossed milestones are recorded so they celebrate only once.
func (s *HealthService) GetTimeSeries(ctx context.Context, userID, domain string, days int) (*HealthReport, error) {
	if days != 30 && days != 60 && days != 90 {
		days = 30
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	completedDays, err := s.repos.AuditRun.ListCompletedDays(ctx, userID, domain, since)
	if err != nil {
		return nil, err
	}
	dated, err := s.repos.Issue.ListForDomainSince(ctx, userID, domain, since)
	if err != nil {
		return nil, err
	}
	states, err := s.repos.IssueState.GetByDomain(ctx, userID, domain)
	if err != nil {
		return nil, err
	}

	// Every day with a completed run gets a snapshot, so a clean run shows
	// up as a 100 rather than a gap.
	byDay := make(map[string]map[string]*models.Issue, len(completedDays))
	for _, day := range completedDays {
		byDay[day] = make(map[string]*models.Issue)
	}

	// Union by signature per day. When the same signature is reported with
	// different severities, the worst one wins.
	for _, d := range dated {
		if state, ok := states[d.Signature]; ok && state.State != models.IssueStatusActive {
			continue
		}
		day := byDay[d.Day]
		if day == nil {
			day = make(map[string]*models.Issue)
			byDay[d.Day] = day
		}
		cur, ok := day[d.Signature]
		if !ok || d.Severity.Rank() > cur.Severity.Rank() {
			issue := d.Issue
			day[d.Signature] = &issue
		}
	}

	dayKeys := make([]string, 0, len(byDay))
	for day := range byDay {
		dayKeys = append(dayKeys, day)
	}
	sort.Strings(dayKeys)

	report := &HealthReport{CurrentScore: 100}
	for _, day := range dayKeys {
		report.Series = append(report.Series, snapshotFor(day, byDay[day]))
	}

	if len(report.Series) == 0 {
		return report, nil
	}
	latest := report.Series[len(report.Series)-1]
	report.CurrentScore = latest.Score

	var prev *int
	if len(report.Series) > 1 {
		p := report.Series[len(report.Series)-2].Score
		prev = &p
	}

	celebrated, err := s.repos.Milestone.GetCelebrated(ctx, userID, domain)
	if err != nil {
		return nil, err
	}
	report.NewMilestones = DetectMilestoneCrossings(prev, report.CurrentScore, celebrated)
	if len(report.NewMilestones) > 0 {
		if err := s.repos.Milestone.RecordCelebrated(ctx, userID, domain, report.NewMilestones); err != nil {
			return nil, err
		}
		s.logger.Info("health milestones crossed", "user_id", userID, "domain", domain,
			"milestones", report.NewMilestones)
	}
	return report, nil
}

func snapshotFor(day string, issues map[string]*models.Issue) models.HealthSnapshot {
	snap := models.HealthSnapshot{Date: day, Score: 100}
	pages := make(map[string]bool)
	for _, issue := range issues {
		snap.Score -= severityWeights[issue.Severity]
		snap.ActiveCount++
		if issue.Severity == models.SeverityCritical {
			snap.CriticalCount++
		}
		pages[issue.PageURL] = true
	}
	if snap.Score < 0 {
		snap.Score = 0
	}
	snap.PagesWithIssues = len(pages)
	return snap
}
