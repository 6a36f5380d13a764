package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteUsageRepository implements UsageRepository for SQLite.
type SQLiteUsageRepository struct {
	db *sql.DB
}

// NewSQLiteUsageRepository creates a new SQLite usage repository.
func NewSQLiteUsageRepository(db *sql.DB) *SQLiteUsageRepository {
	return &SQLiteUsageRepository{db: db}
}

func (r *SQLiteUsageRepository) GetCount(ctx context.Context, userID, domain, date string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		"SELECT count FROM audit_usage WHERE user_id = ? AND domain = ? AND date = ?",
		userID, domain, date,
	).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get usage count: %w", err)
	}
	return count, nil
}

// Increment bumps the daily counter atomically. The insert-or-increment on
// the (user_id, domain, date) primary key keeps concurrent audit starts from
// racing a read-then-write.
func (r *SQLiteUsageRepository) Increment(ctx context.Context, userID, domain, date string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO audit_usage (user_id, domain, date, count, updated_at)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(user_id, domain, date)
		DO UPDATE SET count = count + 1, updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query, userID, domain, date, now)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", err)
	}
	return nil
}
