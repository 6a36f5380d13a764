package worker

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/database/migrations"
	"github.com/fortresshq/fortress-api/internal/models"
	"github.com/fortresshq/fortress-api/internal/repository"
	"github.com/fortresshq/fortress-api/internal/service"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRepos(t *testing.T) *repository.Repositories {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("enabling foreign keys: %v", err)
	}
	if err := migrations.Run(db, testLogger()); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	return repository.NewRepositories(db)
}

type stubAnalyzer struct {
	calls int
}

func (s *stubAnalyzer) Analyze(ctx context.Context, domain string, budget analyzer.Budget) (*analyzer.Result, error) {
	s.calls++
	return &analyzer.Result{Completed: &analyzer.Analysis{
		PagesAudited: 1,
		AuditedURLs:  []string{domain},
	}}, nil
}

func (s *stubAnalyzer) Poll(ctx context.Context, jobHandle string) (*analyzer.PollUpdate, error) {
	return &analyzer.PollUpdate{State: analyzer.PollStateQueued}, nil
}

func TestWorkerRunsDueSchedules(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	stub := &stubAnalyzer{}
	limiter := service.NewRateLimitService(repos, nil, testLogger())
	audits := service.NewAuditService(repos, stub, limiter, nil, testLogger())

	due := &models.ScheduledAuditSetting{
		UserID:    "user_sched",
		Domain:    "https://example.com",
		Enabled:   true,
		NextRunAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := repos.Schedule.Upsert(ctx, due); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	w := New(repos.Schedule, audits, Config{}, testLogger())
	w.processDue(ctx, 0)

	if stub.calls != 1 {
		t.Fatalf("expected 1 audit started, got %d", stub.calls)
	}

	runs, err := repos.AuditRun.GetByOwner(ctx, "user_sched", "", 10, 0)
	if err != nil {
		t.Fatalf("GetByOwner failed: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(runs))
	}
	if runs[0].Domain != "https://example.com" {
		t.Errorf("expected domain https://example.com, got %s", runs[0].Domain)
	}

	// The schedule advanced a week, so a second sweep is a no-op.
	w.processDue(ctx, 0)
	if stub.calls != 1 {
		t.Errorf("expected no further audits, got %d calls", stub.calls)
	}

	setting, err := repos.Schedule.Get(ctx, "user_sched", "https://example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !setting.NextRunAt.After(time.Now().UTC().Add(6 * 24 * time.Hour)) {
		t.Errorf("expected next_run_at roughly a week out, got %s", setting.NextRunAt)
	}
}

func TestWorkerSkipsRejectedAudits(t *testing.T) {
	repos := setupTestRepos(t)
	ctx := context.Background()

	stub := &stubAnalyzer{}
	limiter := service.NewRateLimitService(repos, nil, testLogger())
	audits := service.NewAuditService(repos, stub, limiter, nil, testLogger())

	// A manual audit earlier today already spent the daily quota.
	if _, err := audits.StartAudit(ctx, service.StartAuditInput{
		UserID: "user_sched",
		Domain: "example.com",
	}); err != nil {
		t.Fatalf("StartAudit failed: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 analyze call, got %d", stub.calls)
	}

	due := &models.ScheduledAuditSetting{
		UserID:    "user_sched",
		Domain:    "https://example.com",
		Enabled:   true,
		NextRunAt: time.Now().UTC().Add(-time.Hour),
	}
	if err := repos.Schedule.Upsert(ctx, due); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	w := New(repos.Schedule, audits, Config{}, testLogger())
	w.processDue(ctx, 0)

	// The rejection is logged, not retried, and the schedule still advanced.
	if stub.calls != 1 {
		t.Errorf("expected rejected schedule not to reach the analyzer, got %d calls", stub.calls)
	}
	setting, err := repos.Schedule.Get(ctx, "user_sched", "https://example.com")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !setting.NextRunAt.After(time.Now().UTC()) {
		t.Errorf("expected next_run_at advanced, got %s", setting.NextRunAt)
	}
}

func TestWorkerStartStop(t *testing.T) {
	repos := setupTestRepos(t)

	stub := &stubAnalyzer{}
	limiter := service.NewRateLimitService(repos, nil, testLogger())
	audits := service.NewAuditService(repos, stub, limiter, nil, testLogger())

	w := New(repos.Schedule, audits, Config{PollInterval: 10 * time.Millisecond, Concurrency: 2}, testLogger())
	w.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	w.Stop()

	if w.Busy() {
		t.Error("expected no active sweeps after Stop")
	}
}
