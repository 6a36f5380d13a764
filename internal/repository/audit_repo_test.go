package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/fortresshq/fortress-api/internal/models"
)

func TestAuditRunCreateAndGet(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	run := &models.AuditRun{
		ID:          uuid.NewString(),
		UserID:      "user_1",
		Domain:      "https://example.com",
		Tier:        "free",
		Status:      models.AuditStatusPending,
		AuditedURLs: []string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repos.AuditRun.Create(ctx, run); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := repos.AuditRun.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected run, got nil")
	}
	if got.Domain != run.Domain || got.Tier != run.Tier || got.Status != models.AuditStatusPending {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if got.StartedAt != nil || got.CompletedAt != nil {
		t.Errorf("expected nil timestamps on pending run")
	}
}

func TestAuditRunUpdate(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	run := &models.AuditRun{
		ID:        uuid.NewString(),
		UserID:    "user_1",
		Domain:    "https://example.com",
		Tier:      "paid",
		Status:    models.AuditStatusInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.AuditRun.Create(ctx, run); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	completed := now.Add(time.Minute)
	run.Status = models.AuditStatusCompleted
	run.PagesAudited = 3
	run.AuditedURLs = []string{"https://example.com/", "https://example.com/about", "https://example.com/pricing"}
	run.CompletedAt = &completed
	if err := repos.AuditRun.Update(ctx, run); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := repos.AuditRun.GetByID(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.Status != models.AuditStatusCompleted {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.PagesAudited != 3 || len(got.AuditedURLs) != 3 {
		t.Errorf("audited urls did not round trip: %+v", got)
	}
	if got.CompletedAt == nil {
		t.Error("expected completed_at to be set")
	}
}

func TestAuditRunGetByIDMissing(t *testing.T) {
	repos := setupTestRepos(t)

	got, err := repos.AuditRun.GetByID(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing run, got %+v", got)
	}
}

func TestAuditRunDomainCounting(t *testing.T) {
	db := setupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	insertTestRun(t, db, "run_1", "user_1", "https://a.com", "completed")
	insertTestRun(t, db, "run_2", "user_1", "https://a.com", "completed")
	insertTestRun(t, db, "run_3", "user_1", "https://b.com", "failed")
	insertTestRun(t, db, "run_4", "user_2", "https://c.com", "completed")

	// Repeated audits of the same domain never inflate the count
	count, err := repos.AuditRun.CountDistinctDomains(ctx, "user_1")
	if err != nil {
		t.Fatalf("CountDistinctDomains failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 distinct domains, got %d", count)
	}

	has, err := repos.AuditRun.HasDomain(ctx, "user_1", "https://a.com")
	if err != nil {
		t.Fatalf("HasDomain failed: %v", err)
	}
	if !has {
		t.Error("expected user_1 to have https://a.com")
	}

	has, err = repos.AuditRun.HasDomain(ctx, "user_1", "https://c.com")
	if err != nil {
		t.Fatalf("HasDomain failed: %v", err)
	}
	if has {
		t.Error("expected user_1 not to have https://c.com")
	}
}

func TestAuditRunListCompletedDays(t *testing.T) {
	db := setupTestDB(t)
	repos := NewRepositories(db)
	ctx := context.Background()

	insertTestRun(t, db, "run_1", "user_1", "https://a.com", "completed")
	insertTestRun(t, db, "run_2", "user_1", "https://a.com", "completed")
	insertTestRun(t, db, "run_3", "user_1", "https://a.com", "failed")
	insertTestRun(t, db, "run_4", "user_1", "https://b.com", "completed")

	since := time.Now().UTC().Add(-24 * time.Hour)
	days, err := repos.AuditRun.ListCompletedDays(ctx, "user_1", "https://a.com", since)
	if err != nil {
		t.Fatalf("ListCompletedDays failed: %v", err)
	}
	// Two completed runs today collapse to one day; the failed run and the
	// other domain are excluded.
	if len(days) != 1 {
		t.Fatalf("expected 1 day, got %d: %v", len(days), days)
	}
	if days[0] != time.Now().UTC().Format("2006-01-02") {
		t.Errorf("unexpected day %q", days[0])
	}

	days, err = repos.AuditRun.ListCompletedDays(ctx, "user_1", "https://a.com", time.Now().UTC().Add(time.Hour))
	if err != nil {
		t.Fatalf("ListCompletedDays failed: %v", err)
	}
	if len(days) != 0 {
		t.Errorf("expected no days after the window, got %v", days)
	}
}
