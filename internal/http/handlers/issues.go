package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/service"
)

// UpdateIssueInput sets one issue's status.
type UpdateIssueInput struct {
	ID   string `path:"id" doc:"Issue ID"`
	Body struct {
		Status string `json:"status" enum:"active,ignored,resolved" doc:"New status"`
	}
}

// UpdateIssueOutput returns the updated issue.
type UpdateIssueOutput struct {
	Body IssueResponse
}

// UpdateIssue sets an issue's status. The decision is remembered against the
// issue's signature, so it carries forward to future runs of the domain.
func (h *Handlers) UpdateIssue(ctx context.Context, input *UpdateIssueInput) (*UpdateIssueOutput, error) {
	c := caller(ctx)

	issue, err := h.Issue.UpdateStatus(ctx, c.UserID, input.ID, models.IssueStatus(input.Body.Status))
	if err != nil {
		if errors.Is(err, service.ErrNotOwner) {
			return nil, errNotFound("issue not found")
		}
		h.logger.Error("update issue", "issue_id", input.ID, "error", err)
		return nil, humaError(err)
	}
	if issue == nil {
		return nil, errNotFound("issue not found")
	}

	return &UpdateIssueOutput{Body: issueResponse(issue)}, nil
}

// BulkUpdateIssuesInput sets one status on many issues.
type BulkUpdateIssuesInput struct {
	Body struct {
		IssueIDs []string `json:"issue_ids" minItems:"1" maxItems:"100" doc:"Issues to update"`
		Status   string   `json:"status" enum:"active,ignored,resolved" doc:"New status for all of them"`
	}
}

// BulkUpdateIssuesOutput returns the updated issues.
type BulkUpdateIssuesOutput struct {
	Body struct {
		Issues []IssueResponse `json:"issues"`
	}
}

// BulkUpdateIssues applies one status to many issues at once. Every issue
// must belong to the caller or the whole request is refused.
func (h *Handlers) BulkUpdateIssues(ctx context.Context, input *BulkUpdateIssuesInput) (*BulkUpdateIssuesOutput, error) {
	c := caller(ctx)

	issues, err := h.Issue.UpdateStatusBulk(ctx, c.UserID, input.Body.IssueIDs, models.IssueStatus(input.Body.Status))
	if err != nil {
		if errors.Is(err, service.ErrNotOwner) {
			return nil, huma.Error403Forbidden("one or more issues do not belong to you")
		}
		h.logger.Error("bulk update issues", "error", err)
		return nil, humaError(err)
	}

	out := &BulkUpdateIssuesOutput{}
	out.Body.Issues = make([]IssueResponse, 0, len(issues))
	for _, issue := range issues {
		out.Body.Issues = append(out.Body.Issues, issueResponse(issue))
	}
	return out, nil
}

func issueResponse(issue *models.Issue) IssueResponse {
	return IssueResponse{
		ID:           issue.ID,
		PageURL:      issue.PageURL,
		Category:     issue.Category,
		Description:  issue.Description,
		SuggestedFix: issue.SuggestedFix,
		Severity:     string(issue.Severity),
		Status:       string(issue.Status),
		Signature:    issue.Signature,
	}
}
