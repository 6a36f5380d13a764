package service

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"testing"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/database/migrations"
	"github.com/fortresshq/fortress-api/internal/repository"
)

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

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeAnalyzer is a scripted analyzer.Client. Each Poll call consumes the
// next queued update, so tests can walk a job through its states.
type fakeAnalyzer struct {
	result     *analyzer.Result
	analyzeErr error
	updates    []*analyzer.PollUpdate
	pollErr    error

	analyzeCalls int
	pollCalls    int
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, domain string, budget analyzer.Budget) (*analyzer.Result, error) {
	f.analyzeCalls++
	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}
	return f.result, nil
}

func (f *fakeAnalyzer) Poll(ctx context.Context, jobHandle string) (*analyzer.PollUpdate, error) {
	f.pollCalls++
	if f.pollErr != nil {
		return nil, f.pollErr
	}
	update := f.updates[0]
	if len(f.updates) > 1 {
		f.updates = f.updates[1:]
	}
	return update, nil
}

func syncResult(issues []analyzer.DetectedIssue, urls []string) *analyzer.Result {
	return &analyzer.Result{Completed: &analyzer.Analysis{
		Issues:       issues,
		PagesAudited: len(urls),
		AuditedURLs:  urls,
	}}
}

func newTestServices(t *testing.T, client analyzer.Client) (*AuditService, *repository.Repositories) {
	t.Helper()
	repos := setupTestRepos(t)
	limiter := NewRateLimitService(repos, nil, testLogger())
	return NewAuditService(repos, client, limiter, nil, testLogger()), repos
}
