package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/service"
)

// IssueResponse is one issue as shown to the caller.
type IssueResponse struct {
	ID           string `json:"id" doc:"Issue ID"`
	PageURL      string `json:"page_url" doc:"Page the issue was found on"`
	Category     string `json:"category" doc:"Issue category"`
	Description  string `json:"description" doc:"What is wrong"`
	SuggestedFix string `json:"suggested_fix,omitempty" doc:"How to fix it"`
	Severity     string `json:"severity" doc:"low, medium, high or critical"`
	Status       string `json:"status" doc:"active, ignored or resolved"`
	Signature    string `json:"signature" doc:"Stable content fingerprint across runs"`
}

// AuditRunResponse is an audit run as shown to the caller. Issues are
// reconciled against remembered decisions and capped by tier; TotalIssues
// always reflects the full detected count.
type AuditRunResponse struct {
	ID           string          `json:"id" doc:"Audit run ID"`
	Domain       string          `json:"domain" doc:"Normalized domain"`
	Status       string          `json:"status" doc:"pending, in_progress, completed or failed"`
	State        string          `json:"state,omitempty" doc:"Job sub-state while pending (queued or in_progress)"`
	PagesAudited int             `json:"pages_audited" doc:"Distinct pages analyzed"`
	AuditedURLs  []string        `json:"audited_urls,omitempty" doc:"Pages that were analyzed"`
	ErrorKind    string          `json:"error_kind,omitempty" doc:"Failure classification"`
	ErrorMessage string          `json:"error_message,omitempty" doc:"User-facing failure message"`
	HealthScore  *int            `json:"health_score,omitempty" doc:"Score derived from the visible issue set"`
	Issues       []IssueResponse `json:"issues,omitempty" doc:"Visible issues, capped by tier"`
	TotalIssues  int             `json:"total_issues" doc:"Full detected issue count, before gating"`
	Truncated    bool            `json:"truncated,omitempty" doc:"True when issues were gated by tier"`
	CreatedAt    time.Time       `json:"created_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// StartAuditInput is the request to start an audit.
type StartAuditInput struct {
	Body struct {
		Domain string `json:"domain" minLength:"1" maxLength:"253" doc:"Domain to audit, e.g. example.com"`
	}
}

// StartAuditOutput is the response to a start request. Exactly one of Run or
// Rejection is set; rejections use 4xx statuses.
type StartAuditOutput struct {
	Status int
	Body   struct {
		Run       *AuditRunResponse       `json:"run,omitempty"`
		Rejection *service.StartRejection `json:"rejection,omitempty"`
	}
}

// StartAudit kicks off an audit for the caller.
func (h *Handlers) StartAudit(ctx context.Context, input *StartAuditInput) (*StartAuditOutput, error) {
	c := caller(ctx)
	if c.IsAnonymous() && c.SessionToken == "" {
		return nil, huma.Error401Unauthorized("a session token or bearer token is required")
	}

	result, err := h.Audit.StartAudit(ctx, service.StartAuditInput{
		UserID:       c.UserID,
		SessionToken: c.SessionToken,
		Plan:         c.Plan,
		Domain:       input.Body.Domain,
	})
	if err != nil {
		h.logger.Error("start audit", "error", err)
		return nil, humaError(err)
	}

	out := &StartAuditOutput{}
	if result.Rejection != nil {
		out.Status = rejectionStatus(result.Rejection.Reason)
		out.Body.Rejection = result.Rejection
		return out, nil
	}

	resp, err := h.buildRunResponse(ctx, result.Run, result.Issues, "")
	if err != nil {
		return nil, humaError(err)
	}
	out.Status = 201
	out.Body.Run = resp
	return out, nil
}

func rejectionStatus(reason string) int {
	if reason == service.RejectInvalidDomain {
		return 422
	}
	return 429
}

// GetAuditInput identifies a run to poll.
type GetAuditInput struct {
	ID string `path:"id" doc:"Audit run ID"`
}

// GetAuditOutput is the poll response.
type GetAuditOutput struct {
	Body AuditRunResponse
}

// GetAudit returns the current state of a run, polling the upstream job for
// non-terminal runs. Runs stuck queued past the tier's poll budget are failed
// with a queued timeout.
func (h *Handlers) GetAudit(ctx context.Context, input *GetAuditInput) (*GetAuditOutput, error) {
	c := caller(ctx)
	run, issues, err := h.Audit.GetRun(ctx, input.ID)
	if err != nil {
		h.logger.Error("get audit", "run_id", input.ID, "error", err)
		return nil, humaError(err)
	}
	if run == nil || !service.CanView(run, c.UserID, c.SessionToken) {
		return nil, errNotFound("audit not found")
	}

	state := ""
	if !run.Status.IsTerminal() {
		outcome, err := h.Audit.PollRun(ctx, run.ID)
		if err != nil {
			h.logger.Error("poll audit", "run_id", run.ID, "error", err)
			return nil, humaError(err)
		}
		run, issues, state = outcome.Run, outcome.Issues, string(outcome.State)

		if outcome.State == analyzer.PollStateQueued && queuedPollsSpent(run) >= constants.GetTierLimits(run.Tier).QueuedPollLimit {
			if err := h.Audit.FailQueuedTimeout(ctx, run.ID, queuedPollsSpent(run)); err != nil {
				return nil, humaError(err)
			}
			run, issues, err = h.Audit.GetRun(ctx, run.ID)
			if err != nil || run == nil {
				return nil, humaError(err)
			}
			state = ""
		}
	}

	resp, err := h.buildRunResponse(ctx, run, issues, state)
	if err != nil {
		return nil, humaError(err)
	}
	return &GetAuditOutput{Body: *resp}, nil
}

// queuedPollsSpent converts the run's age into an equivalent number of
// client polls at the standard interval.
func queuedPollsSpent(run *models.AuditRun) int {
	since := run.CreatedAt
	if run.StartedAt != nil {
		since = *run.StartedAt
	}
	return int(time.Since(since) / constants.StatusPollInterval)
}

// ListAuditsInput is the paging input for the run list.
type ListAuditsInput struct {
	Limit  int `query:"limit" default:"20" minimum:"1" maximum:"100" doc:"Page size"`
	Offset int `query:"offset" default:"0" minimum:"0" doc:"Page offset"`
}

// ListAuditsOutput is the run list response. Issues are not included; fetch
// individual runs for their issue sets.
type ListAuditsOutput struct {
	Body struct {
		Audits []AuditRunResponse `json:"audits"`
	}
}

// ListAudits returns the caller's runs, newest first.
func (h *Handlers) ListAudits(ctx context.Context, input *ListAuditsInput) (*ListAuditsOutput, error) {
	c := caller(ctx)
	if c.IsAnonymous() && c.SessionToken == "" {
		return nil, huma.Error401Unauthorized("a session token or bearer token is required")
	}

	runs, err := h.Audit.ListRuns(ctx, c.UserID, c.SessionToken, input.Limit, input.Offset)
	if err != nil {
		h.logger.Error("list audits", "error", err)
		return nil, humaError(err)
	}

	out := &ListAuditsOutput{}
	out.Body.Audits = make([]AuditRunResponse, 0, len(runs))
	for _, run := range runs {
		out.Body.Audits = append(out.Body.Audits, AuditRunResponse{
			ID:           run.ID,
			Domain:       run.Domain,
			Status:       string(run.Status),
			PagesAudited: run.PagesAudited,
			ErrorKind:    run.ErrorKind,
			ErrorMessage: run.ErrorMessage,
			CreatedAt:    run.CreatedAt,
			CompletedAt:  run.CompletedAt,
		})
	}
	return out, nil
}

// buildRunResponse assembles the caller-facing view of a run: decisions
// applied, issue list gated, score derived from what survives reconciliation.
func (h *Handlers) buildRunResponse(ctx context.Context, run *models.AuditRun, issues []*models.Issue, state string) (*AuditRunResponse, error) {
	resp := &AuditRunResponse{
		ID:           run.ID,
		Domain:       run.Domain,
		Status:       string(run.Status),
		State:        state,
		PagesAudited: run.PagesAudited,
		AuditedURLs:  run.AuditedURLs,
		ErrorKind:    run.ErrorKind,
		ErrorMessage: run.ErrorMessage,
		CreatedAt:    run.CreatedAt,
		CompletedAt:  run.CompletedAt,
	}
	if run.Status != models.AuditStatusCompleted {
		return resp, nil
	}

	reconciled, err := h.Issue.Reconcile(ctx, run, issues)
	if err != nil {
		return nil, err
	}
	score := service.ComputeScore(reconciled)
	resp.HealthScore = &score

	gated := h.Issue.Gate(reconciled, run.Tier, run.IsAnonymous())
	resp.TotalIssues = len(issues)
	resp.Truncated = gated.Truncated
	resp.Issues = make([]IssueResponse, 0, len(gated.Issues))
	for _, issue := range gated.Issues {
		resp.Issues = append(resp.Issues, IssueResponse{
			ID:           issue.ID,
			PageURL:      issue.PageURL,
			Category:     issue.Category,
			Description:  issue.Description,
			SuggestedFix: issue.SuggestedFix,
			Severity:     string(issue.Severity),
			Status:       string(issue.Status),
			Signature:    issue.Signature,
		})
	}
	return resp, nil
}
