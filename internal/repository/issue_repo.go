package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
)

// SQLiteIssueRepository implements IssueRepository for SQLite.
type SQLiteIssueRepository struct {
	db *sql.DB
}

// NewSQLiteIssueRepository creates a new SQLite issue repository.
func NewSQLiteIssueRepository(db *sql.DB) *SQLiteIssueRepository {
	return &SQLiteIssueRepository{db: db}
}

const issueColumns = `id, audit_run_id, page_url, category, description, suggested_fix,
	severity, status, signature, created_at, updated_at`

func (r *SQLiteIssueRepository) CreateBatch(ctx context.Context, issues []*models.Issue) error {
	if len(issues) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO issues (`+issueColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare issue insert: %w", err)
	}
	defer stmt.Close()

	for _, issue := range issues {
		if _, err := stmt.ExecContext(ctx,
			issue.ID,
			issue.AuditRunID,
			issue.PageURL,
			issue.Category,
			issue.Description,
			issue.SuggestedFix,
			issue.Severity,
			issue.Status,
			issue.Signature,
			issue.CreatedAt.Format(time.RFC3339),
			issue.UpdatedAt.Format(time.RFC3339),
		); err != nil {
			return fmt.Errorf("failed to insert issue: %w", err)
		}
	}

	return tx.Commit()
}

func (r *SQLiteIssueRepository) GetByID(ctx context.Context, id string) (*models.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id = ?`
	issue, err := scanIssue(r.db.QueryRowContext(ctx, query, id).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return issue, err
}

func (r *SQLiteIssueRepository) GetByRunID(ctx context.Context, runID string) ([]*models.Issue, error) {
	return r.GetAfterID(ctx, runID, "")
}

func (r *SQLiteIssueRepository) GetAfterID(ctx context.Context, runID, afterID string) ([]*models.Issue, error) {
	// ULIDs sort lexicographically by creation time, so "id > afterID"
	// gives the incremental tail without a separate cursor column.
	query := `SELECT ` + issueColumns + ` FROM issues
		WHERE audit_run_id = ? AND id > ? ORDER BY id ASC`
	rows, err := r.db.QueryContext(ctx, query, runID, afterID)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	return collectIssues(rows)
}

func (r *SQLiteIssueRepository) UpdateStatus(ctx context.Context, id string, status models.IssueStatus) (*models.Issue, error) {
	query := `
		UPDATE issues SET status = ?, updated_at = ?
		WHERE id = ?
		RETURNING ` + issueColumns
	issue, err := scanIssue(r.db.QueryRowContext(ctx, query,
		status, time.Now().UTC().Format(time.RFC3339), id,
	).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update issue status: %w", err)
	}
	return issue, nil
}

func (r *SQLiteIssueRepository) UpdateStatusBulk(ctx context.Context, ids []string, status models.IssueStatus) ([]*models.Issue, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(ids)+2)
	args = append(args, status, time.Now().UTC().Format(time.RFC3339))
	for _, id := range ids {
		args = append(args, id)
	}

	query := `
		UPDATE issues SET status = ?, updated_at = ?
		WHERE id IN (` + placeholders + `)
		RETURNING ` + issueColumns
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk update issues: %w", err)
	}
	defer rows.Close()

	return collectIssues(rows)
}

func (r *SQLiteIssueRepository) ListForDomainSince(ctx context.Context, userID, domain string, since time.Time) ([]*DatedIssue, error) {
	query := `
		SELECT ` + prefixColumns("i", issueColumns) + `, substr(r.completed_at, 1, 10)
		FROM issues i
		JOIN audit_runs r ON r.id = i.audit_run_id
		WHERE r.user_id = ? AND r.domain = ? AND r.status = 'completed'
			AND r.completed_at >= ?
		ORDER BY r.completed_at ASC, i.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID, domain, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query domain issues: %w", err)
	}
	defer rows.Close()

	var dated []*DatedIssue
	for rows.Next() {
		var d DatedIssue
		var createdAt, updatedAt string
		if err := rows.Scan(
			&d.ID, &d.AuditRunID, &d.PageURL, &d.Category, &d.Description, &d.SuggestedFix,
			&d.Severity, &d.Status, &d.Signature, &createdAt, &updatedAt, &d.Day,
		); err != nil {
			return nil, fmt.Errorf("failed to scan dated issue: %w", err)
		}
		d.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		d.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		dated = append(dated, &d)
	}
	return dated, rows.Err()
}

func scanIssue(scan func(...any) error) (*models.Issue, error) {
	var issue models.Issue
	var createdAt, updatedAt string

	err := scan(
		&issue.ID, &issue.AuditRunID, &issue.PageURL, &issue.Category, &issue.Description,
		&issue.SuggestedFix, &issue.Severity, &issue.Status, &issue.Signature,
		&createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan issue: %w", err)
	}

	issue.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	issue.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &issue, nil
}

func collectIssues(rows *sql.Rows) ([]*models.Issue, error) {
	var issues []*models.Issue
	for rows.Next() {
		issue, err := scanIssue(rows.Scan)
		if err != nil {
			return nil, err
		}
		issues = append(issues, issue)
	}
	return issues, rows.Err()
}

// prefixColumns qualifies every column in a comma-separated list with a table alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
