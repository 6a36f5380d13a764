package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
)

// SQLiteAuditRunRepository implements AuditRunRepository for SQLite.
type SQLiteAuditRunRepository struct {
	db *sql.DB
}

// NewSQLiteAuditRunRepository creates a new SQLite audit run repository.
func NewSQLiteAuditRunRepository(db *sql.DB) *SQLiteAuditRunRepository {
	return &SQLiteAuditRunRepository{db: db}
}

const auditRunColumns = `id, user_id, session_token, domain, tier, status, job_handle,
	pages_audited, audited_urls_json, error_kind, error_message,
	started_at, completed_at, created_at, updated_at`

func (r *SQLiteAuditRunRepository) Create(ctx context.Context, run *models.AuditRun) error {
	urlsJSON, err := json.Marshal(run.AuditedURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal audited urls: %w", err)
	}

	query := `
		INSERT INTO audit_runs (` + auditRunColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.UserID,
		run.SessionToken,
		run.Domain,
		run.Tier,
		run.Status,
		run.JobHandle,
		run.PagesAudited,
		string(urlsJSON),
		run.ErrorKind,
		run.ErrorMessage,
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
		run.CreatedAt.Format(time.RFC3339),
		run.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to create audit run: %w", err)
	}
	return nil
}

func (r *SQLiteAuditRunRepository) GetByID(ctx context.Context, id string) (*models.AuditRun, error) {
	query := `SELECT ` + auditRunColumns + ` FROM audit_runs WHERE id = ?`
	return r.scanRun(r.db.QueryRowContext(ctx, query, id))
}

func (r *SQLiteAuditRunRepository) GetByOwner(ctx context.Context, userID, sessionToken string, limit, offset int) ([]*models.AuditRun, error) {
	var query string
	var owner string
	if userID != "" {
		query = `SELECT ` + auditRunColumns + ` FROM audit_runs
			WHERE user_id = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		owner = userID
	} else {
		query = `SELECT ` + auditRunColumns + ` FROM audit_runs
			WHERE session_token = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`
		owner = sessionToken
	}

	rows, err := r.db.QueryContext(ctx, query, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit runs: %w", err)
	}
	defer rows.Close()

	var runs []*models.AuditRun
	for rows.Next() {
		run, err := r.scanRunFromRows(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func (r *SQLiteAuditRunRepository) Update(ctx context.Context, run *models.AuditRun) error {
	urlsJSON, err := json.Marshal(run.AuditedURLs)
	if err != nil {
		return fmt.Errorf("failed to marshal audited urls: %w", err)
	}

	query := `
		UPDATE audit_runs SET status = ?, job_handle = ?, pages_audited = ?,
			audited_urls_json = ?, error_kind = ?, error_message = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`
	_, err = r.db.ExecContext(ctx, query,
		run.Status,
		run.JobHandle,
		run.PagesAudited,
		string(urlsJSON),
		run.ErrorKind,
		run.ErrorMessage,
		nullTime(run.StartedAt),
		nullTime(run.CompletedAt),
		time.Now().UTC().Format(time.RFC3339),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update audit run: %w", err)
	}
	return nil
}

func (r *SQLiteAuditRunRepository) CountDistinctDomains(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT domain) FROM audit_runs WHERE user_id = ?", userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count domains: %w", err)
	}
	return count, nil
}

func (r *SQLiteAuditRunRepository) HasDomain(ctx context.Context, userID, domain string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		"SELECT 1 FROM audit_runs WHERE user_id = ? AND domain = ? LIMIT 1", userID, domain,
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check domain: %w", err)
	}
	return true, nil
}

func (r *SQLiteAuditRunRepository) CountBySession(ctx context.Context, sessionToken string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_runs WHERE session_token = ?", sessionToken,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count session runs: %w", err)
	}
	return count, nil
}

// MarkStaleInProgressFailed fails runs left in progress longer than maxAge.
// Used on startup to recover from a crashed process.
func (r *SQLiteAuditRunRepository) MarkStaleInProgressFailed(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-maxAge).Format(time.RFC3339)
	result, err := r.db.ExecContext(ctx, `
		UPDATE audit_runs
		SET status = 'failed', error_kind = 'timeout',
			error_message = 'Audit did not complete before the server restarted',
			completed_at = ?, updated_at = ?
		WHERE status IN ('pending', 'in_progress') AND created_at < ?
	`, time.Now().UTC().Format(time.RFC3339), time.Now().UTC().Format(time.RFC3339), cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to mark stale runs failed: %w", err)
	}
	return result.RowsAffected()
}

func (r *SQLiteAuditRunRepository) ListCompletedDays(ctx context.Context, userID, domain string, since time.Time) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT DISTINCT substr(completed_at, 1, 10) FROM audit_runs
		WHERE user_id = ? AND domain = ? AND status = 'completed' AND completed_at >= ?
		ORDER BY 1
	`, userID, domain, since.UTC().Format(time.RFC3339))
	if err != nil {
		return nil, fmt.Errorf("failed to query completed days: %w", err)
	}
	defer rows.Close()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, fmt.Errorf("failed to scan completed day: %w", err)
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

func (r *SQLiteAuditRunRepository) scanRun(row *sql.Row) (*models.AuditRun, error) {
	run, err := scanAuditRun(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

func (r *SQLiteAuditRunRepository) scanRunFromRows(rows *sql.Rows) (*models.AuditRun, error) {
	return scanAuditRun(rows.Scan)
}

func scanAuditRun(scan func(...any) error) (*models.AuditRun, error) {
	var run models.AuditRun
	var urlsJSON, createdAt, updatedAt string
	var startedAt, completedAt sql.NullString

	err := scan(
		&run.ID, &run.UserID, &run.SessionToken, &run.Domain, &run.Tier, &run.Status,
		&run.JobHandle, &run.PagesAudited, &urlsJSON, &run.ErrorKind, &run.ErrorMessage,
		&startedAt, &completedAt, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit run: %w", err)
	}

	if urlsJSON != "" {
		if err := json.Unmarshal([]byte(urlsJSON), &run.AuditedURLs); err != nil {
			return nil, fmt.Errorf("failed to parse audited urls: %w", err)
		}
	}
	run.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	run.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if startedAt.Valid {
		t, _ := time.Parse(time.RFC3339, startedAt.String)
		run.StartedAt = &t
	}
	if completedAt.Valid {
		t, _ := time.Parse(time.RFC3339, completedAt.String)
		run.CompletedAt = &t
	}

	return &run, nil
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(time.RFC3339), Valid: true}
}
