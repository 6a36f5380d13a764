package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
)

// SQLiteScheduleRepository implements ScheduleRepository for SQLite.
type SQLiteScheduleRepository struct {
	db *sql.DB
}

// NewSQLiteScheduleRepository creates a new SQLite schedule repository.
func NewSQLiteScheduleRepository(db *sql.DB) *SQLiteScheduleRepository {
	return &SQLiteScheduleRepository{db: db}
}

func (r *SQLiteScheduleRepository) Upsert(ctx context.Context, setting *models.ScheduledAuditSetting) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO scheduled_audits (user_id, domain, enabled, next_run_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, domain)
		DO UPDATE SET enabled = excluded.enabled, next_run_at = excluded.next_run_at,
			updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		setting.UserID, setting.Domain, boolToInt(setting.Enabled),
		setting.NextRunAt.UTC().Format(time.RFC3339), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert schedule: %w", err)
	}
	return nil
}

func (r *SQLiteScheduleRepository) Get(ctx context.Context, userID, domain string) (*models.ScheduledAuditSetting, error) {
	query := `
		SELECT user_id, domain, enabled, next_run_at, created_at, updated_at
		FROM scheduled_audits
		WHERE user_id = ? AND domain = ?
	`
	setting, err := scanSchedule(r.db.QueryRowContext(ctx, query, userID, domain).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return setting, err
}

// ClaimDue atomically picks the most overdue enabled setting and advances its
// next_run_at by interval, so two worker instances never claim the same row.
func (r *SQLiteScheduleRepository) ClaimDue(ctx context.Context, now time.Time, interval time.Duration) (*models.ScheduledAuditSetting, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	nowStr := now.UTC().Format(time.RFC3339)
	nextStr := now.UTC().Add(interval).Format(time.RFC3339)
	query := `
		UPDATE scheduled_audits
		SET next_run_at = ?, updated_at = ?
		WHERE (user_id, domain) = (
			SELECT user_id, domain FROM scheduled_audits
			WHERE enabled = 1 AND next_run_at <= ?
			ORDER BY next_run_at ASC
			LIMIT 1
		)
		RETURNING user_id, domain, enabled, next_run_at, created_at, updated_at
	`
	setting, err := scanSchedule(tx.QueryRowContext(ctx, query, nextStr, nowStr, nowStr).Scan)
	if err == sql.ErrNoRows {
		// Nothing due - this is normal, not an error
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim due schedule: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	return setting, nil
}

func scanSchedule(scan func(...any) error) (*models.ScheduledAuditSetting, error) {
	var setting models.ScheduledAuditSetting
	var enabled int
	var nextRunAt, createdAt, updatedAt string

	err := scan(&setting.UserID, &setting.Domain, &enabled, &nextRunAt, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	setting.Enabled = enabled != 0
	setting.NextRunAt, _ = time.Parse(time.RFC3339, nextRunAt)
	setting.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	setting.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &setting, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
