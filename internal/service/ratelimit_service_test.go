package service

import (
	"context"
	"testing"
	"time"
)

func TestCheckDailyLimitBoundary(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewRateLimitService(repos, nil, testLogger())
	ctx := context.Background()

	check, err := svc.CheckDailyLimit(ctx, "user_1", "https://example.com", "free")
	if err != nil {
		t.Fatalf("CheckDailyLimit failed: %v", err)
	}
	if !check.Allowed || check.Used != 0 || check.Limit != 1 {
		t.Errorf("fresh day should allow: %+v", check)
	}

	if err := svc.RecordAuditStarted(ctx, "user_1", "https://example.com"); err != nil {
		t.Fatalf("RecordAuditStarted failed: %v", err)
	}

	check, err = svc.CheckDailyLimit(ctx, "user_1", "https://example.com", "free")
	if err != nil {
		t.Fatalf("CheckDailyLimit failed: %v", err)
	}
	if check.Allowed || check.Used != 1 || check.Limit != 1 {
		t.Errorf("expected {allowed:false used:1 limit:1}, got %+v", check)
	}
	if check.ResetAt == nil {
		t.Fatal("expected a reset time")
	}
	reset := check.ResetAt.UTC()
	if reset.Hour() != 0 || reset.Minute() != 0 || !reset.After(time.Now().UTC()) {
		t.Errorf("reset should be next UTC midnight, got %v", reset)
	}

	// Another domain is unaffected.
	check, err = svc.CheckDailyLimit(ctx, "user_1", "https://other.com", "free")
	if err != nil {
		t.Fatalf("CheckDailyLimit failed: %v", err)
	}
	if !check.Allowed {
		t.Errorf("other domain should be allowed: %+v", check)
	}
}

func TestCheckDomainLimitUnlimitedTier(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewRateLimitService(repos, nil, testLogger())

	check, err := svc.CheckDomainLimit(context.Background(), "user_1", "https://example.com", "enterprise")
	if err != nil {
		t.Fatalf("CheckDomainLimit failed: %v", err)
	}
	if !check.Allowed {
		t.Errorf("enterprise has no domain cap: %+v", check)
	}
}

func TestRecordAuditStartedAnonymousNoop(t *testing.T) {
	repos := setupTestRepos(t)
	svc := NewRateLimitService(repos, nil, testLogger())
	ctx := context.Background()

	if err := svc.RecordAuditStarted(ctx, "", "https://example.com"); err != nil {
		t.Fatalf("RecordAuditStarted failed: %v", err)
	}
	used, err := repos.Usage.GetCount(ctx, "", "https://example.com", time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("GetCount failed: %v", err)
	}
	if used != 0 {
		t.Errorf("anonymous starts must not write usage, got %d", used)
	}
}
