package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/metrics"
	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/repository"
	"github.com/fortresshq/fortress-api/internal/signature"
)

// Rejection reasons returned by StartAudit for expected limit conditions.
const (
	RejectInvalidDomain   = "invalid_domain"
	RejectDailyLimit      = "daily_limit"
	RejectDomainLimit     = "domain_limit"
	RejectUpgradeRequired = "upgrade_required"
)

// StartAuditInput identifies the caller and the domain to audit. Exactly one
// of UserID or SessionToken is set: authenticated callers carry a UserID and
// a Plan, anonymous callers carry only a SessionToken.
type StartAuditInput struct {
	UserID       string
	SessionToken string
	Plan         string
	Domain       string
}

// StartRejection describes why an audit was not started. These are expected
// outcomes, not errors.
type StartRejection struct {
	Reason  string     `json:"reason"`
	Message string     `json:"message"`
	Limit   int        `json:"limit,omitempty"`
	Used    int        `json:"used,omitempty"`
	ResetAt *time.Time `json:"reset_at,omitempty"`
}

// StartAuditResult is the outcome of a start request. Exactly one of Run or
// Rejection is set. Issues is populated only when the run completed
// synchronously.
type StartAuditResult struct {
	Run       *models.AuditRun
	Issues    []*models.Issue
	Rejection *StartRejection
}

// PollOutcome is the state of a run as seen by a status poll.
type PollOutcome struct {
	Run    *models.AuditRun
	State  analyzer.PollState
	Issues []*models.Issue
}

// AuditService orchestrates the full audit lifecycle: validation, rate
// limiting, page discovery and analysis, and persistence of results.
type AuditService struct {
	repos   *repository.Repositories
	client  analyzer.Client
	limiter *RateLimitService
	tiers   *constants.TierSettingsLoader
	logger  *slog.Logger
}

func NewAuditService(repos *repository.Repositories, client analyzer.Client, limiter *RateLimitService, tiers *constants.TierSettingsLoader, logger *slog.Logger) *AuditService {
	return &AuditService{
		repos:   repos,
		client:  client,
		limiter: limiter,
		tiers:   tiers,
		logger:  logger.With("service", "audit"),
	}
}

// StartAudit validates the domain, enforces tier limits, creates the run
// record, and kicks off analysis. Small sites complete synchronously; larger
// sites return a run that must be polled for completion.
func (s *AuditService) StartAudit(ctx context.Context, in StartAuditInput) (*StartAuditResult, error) {
	domain, err := signature.NormalizeDomain(in.Domain)
	if err != nil {
		metrics.AuditRejections.WithLabelValues(RejectInvalidDomain).Inc()
		return &StartAuditResult{Rejection: &StartRejection{
			Reason:  RejectInvalidDomain,
			Message: fmt.Sprintf("%q is not a valid domain", in.Domain),
		}}, nil
	}

	anonymous := in.UserID == ""
	tier := constants.NormalizeTierName(in.Plan)
	limits := s.tiers.Limits(ctx, tier)

	if rej, err := s.checkLimits(ctx, in, domain, tier, anonymous); err != nil {
		return nil, err
	} else if rej != nil {
		metrics.AuditRejections.WithLabelValues(rej.Reason).Inc()
		return &StartAuditResult{Rejection: rej}, nil
	}

	now := time.Now().UTC()
	run := &models.AuditRun{
		ID:           uuid.NewString(),
		UserID:       in.UserID,
		SessionToken: in.SessionToken,
		Domain:       domain,
		Tier:         tier,
		Status:       models.AuditStatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repos.AuditRun.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("creating audit run: %w", err)
	}

	budget := analyzer.Budget{MaxPages: limits.MaxPages, MaxToolCalls: limits.MaxToolCalls}
	if anonymous {
		budget.MaxPages = constants.AnonMaxPages
	}

	result, err := s.client.Analyze(ctx, domain, budget)
	if err != nil {
		s.failRun(ctx, run, err)
		return &StartAuditResult{Run: run}, nil
	}

	// Usage is recorded only once analysis has confirmably started, so a
	// rejected or immediately failed request never burns the daily quota.
	if err := s.limiter.RecordAuditStarted(ctx, in.UserID, domain); err != nil {
		s.logger.Error("recording audit usage", "run_id", run.ID, "error", err)
	}
	metrics.AuditsStarted.WithLabelValues(tier).Inc()

	if result.IsPending() {
		run.JobHandle = result.JobHandle
		// The batch result only references pages by submission index, so the
		// submitted URL list must survive until the job completes.
		run.AuditedURLs = result.SubmittedURLs
		started := time.Now().UTC()
		run.StartedAt = &started
		if err := s.repos.AuditRun.Update(ctx, run); err != nil {
			return nil, fmt.Errorf("storing job handle: %w", err)
		}
		s.logger.Info("audit submitted for async analysis", "run_id", run.ID, "domain", domain)
		return &StartAuditResult{Run: run}, nil
	}

	issues, err := s.finalize(ctx, run, result.Completed)
	if err != nil {
		return nil, err
	}
	return &StartAuditResult{Run: run, Issues: issues}, nil
}

func (s *AuditService) checkLimits(ctx context.Context, in StartAuditInput, domain, tier string, anonymous bool) (*StartRejection, error) {
	if anonymous {
		check, err := s.limiter.CheckAnonLimit(ctx, in.SessionToken)
		if err != nil {
			return nil, err
		}
		if !check.Allowed {
			return &StartRejection{
				Reason:  RejectUpgradeRequired,
				Message: constants.AnonLimitMessage,
				Limit:   check.Limit,
				Used:    check.Used,
			}, nil
		}
		return nil, nil
	}

	check, err := s.limiter.CheckDomainLimit(ctx, in.UserID, domain, tier)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return &StartRejection{
			Reason:  RejectDomainLimit,
			Message: constants.DomainLimitMessage(tier),
			Limit:   check.Limit,
			Used:    check.Used,
		}, nil
	}

	check, err = s.limiter.CheckDailyLimit(ctx, in.UserID, domain, tier)
	if err != nil {
		return nil, err
	}
	if !check.Allowed {
		return &StartRejection{
			Reason:  RejectDailyLimit,
			Message: constants.DailyLimitMessage(tier),
			Limit:   check.Limit,
			Used:    check.Used,
			ResetAt: check.ResetAt,
		}, nil
	}
	return nil, nil
}

// PollRun reports the current state of a run, advancing it when the upstream
// job has progressed. Terminal runs answer from the database without an
// upstream call.
func (s *AuditService) PollRun(ctx context.Context, runID string) (*PollOutcome, error) {
	run, err := s.repos.AuditRun.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, nil
	}

	if run.Status.IsTerminal() {
		outcome := &PollOutcome{Run: run}
		if run.Status == models.AuditStatusCompleted {
			outcome.State = analyzer.PollStateCompleted
			outcome.Issues, err = s.repos.Issue.GetByRunID(ctx, run.ID)
			if err != nil {
				return nil, err
			}
		} else {
			outcome.State = analyzer.PollStateFailed
		}
		return outcome, nil
	}

	if run.JobHandle == "" {
		// A non-terminal run without a handle is still being set up.
		return &PollOutcome{Run: run, State: analyzer.PollStateQueued}, nil
	}

	update, err := s.client.Poll(ctx, run.JobHandle)
	if err != nil {
		return nil, err
	}
	metrics.StreamPolls.Inc()

	switch update.State {
	case analyzer.PollStateQueued:
		return &PollOutcome{Run: run, State: analyzer.PollStateQueued}, nil

	case analyzer.PollStateInProgress:
		if run.Status == models.AuditStatusPending {
			run.Status = models.AuditStatusInProgress
			if err := s.repos.AuditRun.Update(ctx, run); err != nil {
				return nil, err
			}
		}
		return &PollOutcome{Run: run, State: analyzer.PollStateInProgress}, nil

	case analyzer.PollStateCompleted:
		issues, err := s.finalize(ctx, run, update.Analysis)
		if err != nil {
			return nil, err
		}
		return &PollOutcome{Run: run, State: analyzer.PollStateCompleted, Issues: issues}, nil

	case analyzer.PollStateFailed:
		s.failRun(ctx, run, update.Err)
		return &PollOutcome{Run: run, State: analyzer.PollStateFailed}, nil

	default:
		return nil, fmt.Errorf("unexpected poll state %q for run %s", update.State, run.ID)
	}
}

// FailQueuedTimeout marks a run failed because its upstream job never left
// the queue within the caller's poll budget.
func (s *AuditService) FailQueuedTimeout(ctx context.Context, runID string, polls int) error {
	run, err := s.repos.AuditRun.GetByID(ctx, runID)
	if err != nil {
		return err
	}
	if run == nil || run.Status.IsTerminal() {
		return nil
	}
	s.failRun(ctx, run, analyzer.NewQueuedTimeoutError(polls))
	return nil
}

// GetRun loads a run and its issues if completed. Ownership is the caller's
// concern; see CanView.
func (s *AuditService) GetRun(ctx context.Context, runID string) (*models.AuditRun, []*models.Issue, error) {
	run, err := s.repos.AuditRun.GetByID(ctx, runID)
	if err != nil || run == nil {
		return nil, nil, err
	}
	var issues []*models.Issue
	if run.Status == models.AuditStatusCompleted {
		issues, err = s.repos.Issue.GetByRunID(ctx, run.ID)
		if err != nil {
			return nil, nil, err
		}
	}
	return run, issues, nil
}

// ListRuns returns the caller's recent runs, newest first.
func (s *AuditService) ListRuns(ctx context.Context, userID, sessionToken string, limit, offset int) ([]*models.AuditRun, error) {
	return s.repos.AuditRun.GetByOwner(ctx, userID, sessionToken, limit, offset)
}

// CanView reports whether the given caller owns the run. Anonymous runs are
// bound to their session token.
func CanView(run *models.AuditRun, userID, sessionToken string) bool {
	if run.IsAnonymous() {
		return sessionToken != "" && run.SessionToken == sessionToken
	}
	return run.UserID == userID
}

// finalize persists a completed analysis: issues get ULID identifiers and
// content signatures, and the run transitions to completed.
func (s *AuditService) finalize(ctx context.Context, run *models.AuditRun, analysis *analyzer.Analysis) ([]*models.Issue, error) {
	now := time.Now().UTC()
	audited := analysis.AuditedURLs
	if len(analysis.SucceededPages) > 0 {
		// Async results carry submission indexes; resolve them against the
		// URL list stored on the run when the batch went out. Pages that
		// came back clean still count.
		audited = analyzer.ResolveSubmittedURLs(run.AuditedURLs, analysis.SucceededPages)
	}
	urls := analyzer.DedupeURLs(audited)

	issues := make([]*models.Issue, 0, len(analysis.Issues))
	for _, d := range analysis.Issues {
		issues = append(issues, &models.Issue{
			ID:           ulid.Make().String(),
			AuditRunID:   run.ID,
			PageURL:      d.PageURL,
			Category:     d.Category,
			Description:  d.Description,
			SuggestedFix: d.SuggestedFix,
			Severity:     models.Severity(d.Severity),
			Status:       models.IssueStatusActive,
			Signature:    signature.Compute(d.Category, d.Description, d.PageURL),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	if err := s.repos.Issue.CreateBatch(ctx, issues); err != nil {
		return nil, fmt.Errorf("persisting issues: %w", err)
	}

	run.Status = models.AuditStatusCompleted
	run.PagesAudited = len(urls)
	run.AuditedURLs = urls
	run.CompletedAt = &now
	if run.StartedAt == nil {
		run.StartedAt = &now
	}
	if err := s.repos.AuditRun.Update(ctx, run); err != nil {
		return nil, fmt.Errorf("completing audit run: %w", err)
	}

	metrics.AuditsCompleted.WithLabelValues(run.Tier, string(models.AuditStatusCompleted)).Inc()
	metrics.PagesAudited.Observe(float64(len(urls)))
	metrics.IssuesDetected.Observe(float64(len(issues)))
	s.logger.Info("audit completed", "run_id", run.ID, "domain", run.Domain,
		"pages", len(urls), "issues", len(issues))
	return issues, nil
}

// failRun records a terminal failure with its classified kind. An audit that
// found nothing wrong completes with zero issues; only real errors land here.
func (s *AuditService) failRun(ctx context.Context, run *models.AuditRun, cause error) {
	if cause == nil {
		cause = fmt.Errorf("analysis job failed")
	}
	audErr := analyzer.Classify(cause)

	now := time.Now().UTC()
	run.Status = models.AuditStatusFailed
	run.ErrorKind = audErr.Kind
	run.ErrorMessage = audErr.UserMessage
	run.CompletedAt = &now
	if err := s.repos.AuditRun.Update(ctx, run); err != nil {
		s.logger.Error("recording audit failure", "run_id", run.ID, "error", err)
	}

	metrics.AuditsCompleted.WithLabelValues(run.Tier, string(models.AuditStatusFailed)).Inc()
	s.logger.Warn("audit failed", "run_id", run.ID, "domain", run.Domain,
		"kind", audErr.Kind, "error", cause)
}
