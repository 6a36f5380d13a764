package repository

import (
	"context"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fortresshq/fortress-api/internal/models"
)

func newTestIssue(runID, category, description string) *models.Issue {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Issue{
		ID:          ulid.Make().String(),
		AuditRunID:  runID,
		PageURL:     "https://example.com/about",
		Category:    category,
		Description: description,
		Severity:    models.SeverityHigh,
		Status:      models.IssueStatusActive,
		Signature:   "sig-" + category,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestIssueCreateBatchAndGetAfterID(t *testing.T) {
	db := setupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	insertTestRun(t, db, "run_1", "user_1", "https://example.com", "completed")

	issues := []*models.Issue{
		newTestIssue("run_1", "grammar", "Typo on about page"),
		newTestIssue("run_1", "broken-link", "Dead link in footer"),
		newTestIssue("run_1", "brand-voice", "Tone mismatch on pricing"),
	}
	if err := repos.Issue.CreateBatch(ctx, issues); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	all, err := repos.Issue.GetByRunID(ctx, "run_1")
	if err != nil {
		t.Fatalf("GetByRunID failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 issues, got %d", len(all))
	}

	// ULID ordering means "after first" returns the remaining two
	tail, err := repos.Issue.GetAfterID(ctx, "run_1", all[0].ID)
	if err != nil {
		t.Fatalf("GetAfterID failed: %v", err)
	}
	if len(tail) != 2 {
		t.Errorf("expected 2 issues after first, got %d", len(tail))
	}

	tail, err = repos.Issue.GetAfterID(ctx, "run_1", all[2].ID)
	if err != nil {
		t.Fatalf("GetAfterID failed: %v", err)
	}
	if len(tail) != 0 {
		t.Errorf("expected no issues after last, got %d", len(tail))
	}
}

func TestIssueUpdateStatus(t *testing.T) {
	db := setupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	insertTestRun(t, db, "run_1", "user_1", "https://example.com", "completed")
	issue := newTestIssue("run_1", "grammar", "Typo on about page")
	if err := repos.Issue.CreateBatch(ctx, []*models.Issue{issue}); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	updated, err := repos.Issue.UpdateStatus(ctx, issue.ID, models.IssueStatusResolved)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if updated == nil || updated.Status != models.IssueStatusResolved {
		t.Errorf("expected resolved issue back, got %+v", updated)
	}

	missing, err := repos.Issue.UpdateStatus(ctx, "nonexistent", models.IssueStatusResolved)
	if err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing issue, got %+v", missing)
	}
}

func TestIssueUpdateStatusBulk(t *testing.T) {
	db := setupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	insertTestRun(t, db, "run_1", "user_1", "https://example.com", "completed")
	issues := []*models.Issue{
		newTestIssue("run_1", "grammar", "Typo one"),
		newTestIssue("run_1", "grammar", "Typo two"),
	}
	if err := repos.Issue.CreateBatch(ctx, issues); err != nil {
		t.Fatalf("CreateBatch failed: %v", err)
	}

	updated, err := repos.Issue.UpdateStatusBulk(ctx,
		[]string{issues[0].ID, issues[1].ID}, models.IssueStatusIgnored)
	if err != nil {
		t.Fatalf("UpdateStatusBulk failed: %v", err)
	}
	if len(updated) != 2 {
		t.Fatalf("expected 2 updated issues, got %d", len(updated))
	}
	for _, u := range updated {
		if u.Status != models.IssueStatusIgnored {
			t.Errorf("expected ignored, got %s", u.Status)
		}
	}
}

func TestIssueListForDomainSince(t *testing.T) {
	db := setupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	insertTestRun(t, db, "run_1", "user_1", "https://example.com", "completed")
	insertTestRun(t, db, "run_2", "user_1", "https://example.com", "failed")
	insertTestRun(t, db, "run_3", "user_1", "https://other.com", "completed")

	insertTestIssue(t, db, ulid.Make().String(), "run_1", "sig-a", "high")
	insertTestIssue(t, db, ulid.Make().String(), "run_2", "sig-b", "high")
	insertTestIssue(t, db, ulid.Make().String(), "run_3", "sig-c", "high")

	since := time.Now().UTC().Add(-24 * time.Hour)
	dated, err := repos.Issue.ListForDomainSince(ctx, "user_1", "https://example.com", since)
	if err != nil {
		t.Fatalf("ListForDomainSince failed: %v", err)
	}

	// Only the completed run for the requested domain contributes
	if len(dated) != 1 {
		t.Fatalf("expected 1 dated issue, got %d", len(dated))
	}
	if dated[0].Signature != "sig-a" {
		t.Errorf("expected sig-a, got %s", dated[0].Signature)
	}
	if dated[0].Day != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("expected today's date tag, got %s", dated[0].Day)
	}
}
