package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/models"
)

func TestStartAuditRejectsInvalidDomain(t *testing.T) {
	client := &fakeAnalyzer{}
	svc, _ := newTestServices(t, client)

	result, err := svc.StartAudit(context.Background(), StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "not a url at all",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectInvalidDomain {
		t.Fatalf("expected invalid_domain rejection, got %+v", result.Rejection)
	}
	if client.analyzeCalls != 0 {
		t.Error("analyzer should not run for an invalid domain")
	}
}

func TestStartAuditSyncCompletion(t *testing.T) {
	issues := []analyzer.DetectedIssue{
		{PageURL: "https://example.com/about", Category: "SEO", Description: "Missing meta description", Severity: "high"},
		{PageURL: "https://example.com/", Category: "Accessibility", Description: "Images lack alt text", Severity: "medium"},
	}
	// The analyzer may report the same page twice under cosmetic URL variants.
	urls := []string{"https://example.com/", "https://example.com/about", "https://example.com/about/"}
	client := &fakeAnalyzer{result: syncResult(issues, urls)}
	svc, repos := newTestServices(t, client)
	ctx := context.Background()

	result, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "Example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	if result.Rejection != nil {
		t.Fatalf("unexpected rejection: %+v", result.Rejection)
	}

	run := result.Run
	if run.Status != models.AuditStatusCompleted {
		t.Errorf("expected completed run, got %s", run.Status)
	}
	if run.Domain != "https://example.com" {
		t.Errorf("domain not normalized: %s", run.Domain)
	}
	if run.PagesAudited != 2 {
		t.Errorf("expected 2 deduped pages, got %d", run.PagesAudited)
	}
	if len(result.Issues) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(result.Issues))
	}
	for _, issue := range result.Issues {
		if len(issue.Signature) != 64 {
			t.Errorf("issue %s missing signature", issue.ID)
		}
		if issue.Status != models.IssueStatusActive {
			t.Errorf("new issue should be active, got %s", issue.Status)
		}
	}

	used, err := repos.Usage.GetCount(ctx, "user_1", run.Domain, time.Now().UTC().Format("2006-01-02"))
	if err != nil {
		t.Fatalf("GetCount failed: %v", err)
	}
	if used != 1 {
		t.Errorf("expected usage recorded once, got %d", used)
	}
}

func TestStartAuditDailyLimitRejected(t *testing.T) {
	client := &fakeAnalyzer{result: syncResult(nil, []string{"https://example.com/"})}
	svc, repos := newTestServices(t, client)
	ctx := context.Background()

	if _, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "example.com",
	}); err != nil {
		t.Fatalf("first StartAudit failed: %v", err)
	}

	result, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("second StartAudit failed: %v", err)
	}
	rej := result.Rejection
	if rej == nil || rej.Reason != RejectDailyLimit {
		t.Fatalf("expected daily_limit rejection, got %+v", rej)
	}
	if rej.Used != 1 || rej.Limit != 1 {
		t.Errorf("expected used=1 limit=1, got used=%d limit=%d", rej.Used, rej.Limit)
	}
	if rej.ResetAt == nil || !rej.ResetAt.After(time.Now().UTC()) {
		t.Errorf("expected a future reset time, got %v", rej.ResetAt)
	}
	if client.analyzeCalls != 1 {
		t.Errorf("analyzer should not run for a rejected request, got %d calls", client.analyzeCalls)
	}

	// The rejected request must not burn quota.
	used, _ := repos.Usage.GetCount(ctx, "user_1", "https://example.com", time.Now().UTC().Format("2006-01-02"))
	if used != 1 {
		t.Errorf("rejection incremented usage: %d", used)
	}
}

func TestStartAuditDomainLimitRejected(t *testing.T) {
	client := &fakeAnalyzer{result: syncResult(nil, []string{"https://a.com/"})}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	if _, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "a.com",
	}); err != nil {
		t.Fatalf("first StartAudit failed: %v", err)
	}

	// Free tier allows one domain; a second domain is refused.
	result, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "b.com",
	})
	if err != nil {
		t.Fatalf("second StartAudit failed: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectDomainLimit {
		t.Fatalf("expected domain_limit rejection, got %+v", result.Rejection)
	}

	// Re-auditing the known domain passes the domain check. It hits the
	// daily limit instead, which proves the domain gate is idempotent.
	result, err = svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "a.com",
	})
	if err != nil {
		t.Fatalf("third StartAudit failed: %v", err)
	}
	if result.Rejection == nil || result.Rejection.Reason != RejectDailyLimit {
		t.Fatalf("expected daily_limit for known domain, got %+v", result.Rejection)
	}
}

func TestStartAuditAnonPreviewLimit(t *testing.T) {
	client := &fakeAnalyzer{result: syncResult(nil, []string{"https://example.com/"})}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	first, err := svc.StartAudit(ctx, StartAuditInput{
		SessionToken: "sess_abc", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("first StartAudit failed: %v", err)
	}
	if first.Rejection != nil {
		t.Fatalf("first anonymous audit should be allowed: %+v", first.Rejection)
	}

	second, err := svc.StartAudit(ctx, StartAuditInput{
		SessionToken: "sess_abc", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("second StartAudit failed: %v", err)
	}
	if second.Rejection == nil || second.Rejection.Reason != RejectUpgradeRequired {
		t.Fatalf("expected upgrade_required rejection, got %+v", second.Rejection)
	}

	// A different session is unaffected.
	third, err := svc.StartAudit(ctx, StartAuditInput{
		SessionToken: "sess_other", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("third StartAudit failed: %v", err)
	}
	if third.Rejection != nil {
		t.Errorf("unrelated session was rejected: %+v", third.Rejection)
	}
}

func TestStartAuditAsyncPending(t *testing.T) {
	client := &fakeAnalyzer{result: &analyzer.Result{JobHandle: "batch_123"}}
	svc, repos := newTestServices(t, client)
	ctx := context.Background()

	result, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "pro", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	run := result.Run
	if run.Status != models.AuditStatusPending {
		t.Errorf("expected pending run, got %s", run.Status)
	}
	if run.JobHandle != "batch_123" {
		t.Errorf("job handle not stored: %q", run.JobHandle)
	}
	if len(result.Issues) != 0 {
		t.Errorf("pending run should have no issues yet")
	}

	// Submission counts as a started audit.
	used, _ := repos.Usage.GetCount(ctx, "user_1", run.Domain, time.Now().UTC().Format("2006-01-02"))
	if used != 1 {
		t.Errorf("expected usage 1 after submission, got %d", used)
	}
}

func TestPollRunBatchCountsCleanPages(t *testing.T) {
	submitted := []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/pricing",
		"https://example.com/blog",
		"https://example.com/contact",
		"https://example.com/careers",
	}
	// Issues on two pages only; every submitted page still completed.
	detected := []analyzer.DetectedIssue{
		{PageURL: "https://example.com/about", Category: "grammar", Description: "Typo in hero copy", Severity: "medium"},
		{PageURL: "https://example.com/pricing", Category: "cta", Description: "No call to action", Severity: "high"},
	}
	client := &fakeAnalyzer{
		result: &analyzer.Result{JobHandle: "batch_123", SubmittedURLs: submitted},
		updates: []*analyzer.PollUpdate{
			{State: analyzer.PollStateCompleted, Analysis: &analyzer.Analysis{
				Issues:         detected,
				PagesAudited:   len(submitted),
				SucceededPages: []int{0, 1, 2, 3, 4, 5},
			}},
		},
	}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	started, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "pro", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	if got := started.Run.AuditedURLs; len(got) != len(submitted) {
		t.Fatalf("submitted URLs not stored on the pending run: got %d, want %d", len(got), len(submitted))
	}

	outcome, err := svc.PollRun(ctx, started.Run.ID)
	if err != nil {
		t.Fatalf("PollRun failed: %v", err)
	}
	if outcome.State != analyzer.PollStateCompleted {
		t.Fatalf("expected completed, got %s", outcome.State)
	}

	run, _, err := svc.GetRun(ctx, started.Run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	// Clean pages count. The page tally comes from the submission, not from
	// which pages happened to have issues.
	if run.PagesAudited != len(submitted) {
		t.Errorf("expected %d pages audited, got %d", len(submitted), run.PagesAudited)
	}
	if len(run.AuditedURLs) != len(submitted) {
		t.Errorf("expected %d audited URLs, got %v", len(submitted), run.AuditedURLs)
	}
	if len(outcome.Issues) != 2 {
		t.Errorf("expected 2 issues, got %d", len(outcome.Issues))
	}
}

func TestPollRunBatchPartialSuccess(t *testing.T) {
	submitted := []string{
		"https://example.com/",
		"https://example.com/about",
		"https://example.com/pricing",
	}
	client := &fakeAnalyzer{
		result: &analyzer.Result{JobHandle: "batch_123", SubmittedURLs: submitted},
		updates: []*analyzer.PollUpdate{
			{State: analyzer.PollStateCompleted, Analysis: &analyzer.Analysis{
				PagesAudited:   2,
				SucceededPages: []int{0, 2},
			}},
		},
	}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	started, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "pro", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}

	if _, err := svc.PollRun(ctx, started.Run.ID); err != nil {
		t.Fatalf("PollRun failed: %v", err)
	}
	run, _, err := svc.GetRun(ctx, started.Run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.PagesAudited != 2 {
		t.Errorf("expected 2 pages audited, got %d", run.PagesAudited)
	}
	want := []string{"https://example.com/", "https://example.com/pricing"}
	if len(run.AuditedURLs) != len(want) || run.AuditedURLs[0] != want[0] || run.AuditedURLs[1] != want[1] {
		t.Errorf("expected %v, got %v", want, run.AuditedURLs)
	}
}

func TestStartAuditFailureClassified(t *testing.T) {
	client := &fakeAnalyzer{analyzeErr: errors.New("dial tcp: connection refused")}
	svc, repos := newTestServices(t, client)
	ctx := context.Background()

	result, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	run := result.Run
	if run.Status != models.AuditStatusFailed {
		t.Fatalf("expected failed run, got %s", run.Status)
	}
	if run.ErrorKind != analyzer.KindNetworkError {
		t.Errorf("expected network_error, got %s", run.ErrorKind)
	}
	if run.ErrorMessage == "" {
		t.Error("failed run should carry a user-facing message")
	}

	// A run that never started does not burn quota.
	used, _ := repos.Usage.GetCount(ctx, "user_1", run.Domain, time.Now().UTC().Format("2006-01-02"))
	if used != 0 {
		t.Errorf("failed start incremented usage: %d", used)
	}
}

func TestPollRunLifecycle(t *testing.T) {
	detected := []analyzer.DetectedIssue{
		{PageURL: "https://example.com/pricing", Category: "Content", Description: "Stale pricing table", Severity: "low"},
	}
	client := &fakeAnalyzer{
		result: &analyzer.Result{JobHandle: "batch_123"},
		updates: []*analyzer.PollUpdate{
			{State: analyzer.PollStateQueued},
			{State: analyzer.PollStateInProgress},
			{State: analyzer.PollStateCompleted, Analysis: &analyzer.Analysis{
				Issues:      detected,
				AuditedURLs: []string{"https://example.com/pricing"},
			}},
		},
	}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	started, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "pro", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	runID := started.Run.ID

	outcome, err := svc.PollRun(ctx, runID)
	if err != nil {
		t.Fatalf("poll 1 failed: %v", err)
	}
	if outcome.State != analyzer.PollStateQueued {
		t.Errorf("expected queued, got %s", outcome.State)
	}
	if outcome.Run.Status != models.AuditStatusPending {
		t.Errorf("queued job must leave the run pending, got %s", outcome.Run.Status)
	}

	outcome, err = svc.PollRun(ctx, runID)
	if err != nil {
		t.Fatalf("poll 2 failed: %v", err)
	}
	if outcome.State != analyzer.PollStateInProgress {
		t.Errorf("expected in_progress, got %s", outcome.State)
	}
	if outcome.Run.Status != models.AuditStatusInProgress {
		t.Errorf("run not advanced to in_progress: %s", outcome.Run.Status)
	}

	outcome, err = svc.PollRun(ctx, runID)
	if err != nil {
		t.Fatalf("poll 3 failed: %v", err)
	}
	if outcome.State != analyzer.PollStateCompleted {
		t.Fatalf("expected completed, got %s", outcome.State)
	}
	if len(outcome.Issues) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(outcome.Issues))
	}

	// Terminal runs answer from the database without touching the job.
	pollsBefore := client.pollCalls
	outcome, err = svc.PollRun(ctx, runID)
	if err != nil {
		t.Fatalf("poll 4 failed: %v", err)
	}
	if outcome.State != analyzer.PollStateCompleted {
		t.Errorf("expected completed, got %s", outcome.State)
	}
	if client.pollCalls != pollsBefore {
		t.Error("terminal run should not poll upstream")
	}
}

func TestPollRunFailure(t *testing.T) {
	client := &fakeAnalyzer{
		result: &analyzer.Result{JobHandle: "batch_123"},
		updates: []*analyzer.PollUpdate{
			{State: analyzer.PollStateFailed, Err: errors.New("upstream returned 429 too many requests")},
		},
	}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	started, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "pro", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}

	outcome, err := svc.PollRun(ctx, started.Run.ID)
	if err != nil {
		t.Fatalf("PollRun failed: %v", err)
	}
	if outcome.State != analyzer.PollStateFailed {
		t.Fatalf("expected failed, got %s", outcome.State)
	}
	if outcome.Run.ErrorKind != analyzer.KindRateLimited {
		t.Errorf("expected rate_limited kind, got %s", outcome.Run.ErrorKind)
	}
}

func TestFailQueuedTimeout(t *testing.T) {
	client := &fakeAnalyzer{result: &analyzer.Result{JobHandle: "batch_123"}}
	svc, _ := newTestServices(t, client)
	ctx := context.Background()

	started, err := svc.StartAudit(ctx, StartAuditInput{
		UserID: "user_1", Plan: "free", Domain: "example.com",
	})
	if err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}

	if err := svc.FailQueuedTimeout(ctx, started.Run.ID, 30); err != nil {
		t.Fatalf("FailQueuedTimeout failed: %v", err)
	}

	run, _, err := svc.GetRun(ctx, started.Run.ID)
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if run.Status != models.AuditStatusFailed {
		t.Errorf("expected failed, got %s", run.Status)
	}
	if run.ErrorKind != analyzer.KindQueuedTimeout {
		t.Errorf("expected queued_timeout, got %s", run.ErrorKind)
	}

	// Idempotent on terminal runs.
	if err := svc.FailQueuedTimeout(ctx, started.Run.ID, 30); err != nil {
		t.Fatalf("second FailQueuedTimeout failed: %v", err)
	}
}

func TestCanView(t *testing.T) {
	authRun := &models.AuditRun{UserID: "user_1"}
	anonRun := &models.AuditRun{SessionToken: "sess_abc"}

	if !CanView(authRun, "user_1", "") {
		t.Error("owner should view their run")
	}
	if CanView(authRun, "user_2", "") {
		t.Error("other users should not view the run")
	}
	if !CanView(anonRun, "", "sess_abc") {
		t.Error("session owner should view an anonymous run")
	}
	if CanView(anonRun, "", "sess_other") {
		t.Error("other sessions should not view an anonymous run")
	}
	if CanView(anonRun, "", "") {
		t.Error("empty session token must never match")
	}
}
