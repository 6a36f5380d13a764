package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLiteMilestoneRepository implements MilestoneRepository for SQLite.
type SQLiteMilestoneRepository struct {
	db *sql.DB
}

// NewSQLiteMilestoneRepository creates a new SQLite milestone repository.
func NewSQLiteMilestoneRepository(db *sql.DB) *SQLiteMilestoneRepository {
	return &SQLiteMilestoneRepository{db: db}
}

func (r *SQLiteMilestoneRepository) GetCelebrated(ctx context.Context, userID, domain string) ([]int, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT milestone FROM health_milestones WHERE user_id = ? AND domain = ? ORDER BY milestone",
		userID, domain,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query milestones: %w", err)
	}
	defer rows.Close()

	var milestones []int
	for rows.Next() {
		var m int
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan milestone: %w", err)
		}
		milestones = append(milestones, m)
	}
	return milestones, rows.Err()
}

// RecordCelebrated marks milestones as celebrated. Re-recording an already
// celebrated milestone is a no-op on the composite primary key.
func (r *SQLiteMilestoneRepository) RecordCelebrated(ctx context.Context, userID, domain string, milestones []int) error {
	if len(milestones) == 0 {
		return nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	for _, m := range milestones {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO health_milestones (user_id, domain, milestone, celebrated_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id, domain, milestone) DO NOTHING
		`, userID, domain, m, now); err != nil {
			return fmt.Errorf("failed to record milestone: %w", err)
		}
	}
	return nil
}
