package repository

import (
	"database/sql"
	"testing"

	"github.com/fortresshq/fortress-api/internal/database/migrations"
	_ "github.com/tursodatabase/go-libsql"
)

// setupTestDB creates an in-memory SQLite database for testing.
// It runs migrations and returns a database connection that will be cleaned up
// when the test completes.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("libsql", ":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("failed to enable foreign keys: %v", err)
	}

	if err := migrations.Run(db, nil); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

// setupTestRepos creates all repositories using a test database.
func setupTestRepos(t *testing.T) *Repositories {
	t.Helper()
	db := setupTestDB(t)
	return NewRepositories(db)
}

// insertTestRun is a helper to insert an audit run directly.
func insertTestRun(t *testing.T, db *sql.DB, id, userID, domain, status string) {
	t.Helper()
	query := `
		INSERT INTO audit_runs (id, user_id, domain, tier, status, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, 'free', ?,
			strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
			strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
			strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	`
	if _, err := db.Exec(query, id, userID, domain, status); err != nil {
		t.Fatalf("failed to insert test run: %v", err)
	}
}

// insertTestIssue is a helper to insert an issue directly.
func insertTestIssue(t *testing.T, db *sql.DB, id, runID, signature, severity string) {
	t.Helper()
	query := `
		INSERT INTO issues (id, audit_run_id, page_url, category, description, severity, status, signature, created_at, updated_at)
		VALUES (?, ?, 'https://example.com/about', 'grammar', 'Test issue', ?, 'active', ?,
			strftime('%Y-%m-%dT%H:%M:%SZ', 'now'),
			strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
	`
	if _, err := db.Exec(query, id, runID, severity, signature); err != nil {
		t.Fatalf("failed to insert test issue: %v", err)
	}
}
