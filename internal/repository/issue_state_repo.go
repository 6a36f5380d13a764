package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fortresshq/fortress-api/internal/models"
)

// SQLiteIssueStateRepository implements IssueStateRepository for SQLite.
type SQLiteIssueStateRepository struct {
	db *sql.DB
}

// NewSQLiteIssueStateRepository creates a new SQLite issue state repository.
func NewSQLiteIssueStateRepository(db *sql.DB) *SQLiteIssueStateRepository {
	return &SQLiteIssueStateRepository{db: db}
}

// Upsert writes the user's decision for a signature. The ON CONFLICT target
// is the (user_id, domain, signature) primary key, so repeated identical
// updates touch the same row and never create duplicates.
func (r *SQLiteIssueStateRepository) Upsert(ctx context.Context, state *models.IssueState) error {
	now := time.Now().UTC().Format(time.RFC3339)
	query := `
		INSERT INTO issue_states (user_id, domain, signature, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, domain, signature)
		DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at
	`
	_, err := r.db.ExecContext(ctx, query,
		state.UserID, state.Domain, state.Signature, state.State, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert issue state: %w", err)
	}
	return nil
}

func (r *SQLiteIssueStateRepository) Get(ctx context.Context, userID, domain, signature string) (*models.IssueState, error) {
	query := `
		SELECT user_id, domain, signature, state, created_at, updated_at
		FROM issue_states
		WHERE user_id = ? AND domain = ? AND signature = ?
	`
	state, err := scanIssueState(r.db.QueryRowContext(ctx, query, userID, domain, signature).Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return state, err
}

func (r *SQLiteIssueStateRepository) GetByDomain(ctx context.Context, userID, domain string) (map[string]*models.IssueState, error) {
	query := `
		SELECT user_id, domain, signature, state, created_at, updated_at
		FROM issue_states
		WHERE user_id = ? AND domain = ?
	`
	rows, err := r.db.QueryContext(ctx, query, userID, domain)
	if err != nil {
		return nil, fmt.Errorf("failed to query issue states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]*models.IssueState)
	for rows.Next() {
		state, err := scanIssueState(rows.Scan)
		if err != nil {
			return nil, err
		}
		states[state.Signature] = state
	}
	return states, rows.Err()
}

func scanIssueState(scan func(...any) error) (*models.IssueState, error) {
	var state models.IssueState
	var createdAt, updatedAt string

	err := scan(&state.UserID, &state.Domain, &state.Signature, &state.State, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan issue state: %w", err)
	}

	state.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	state.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &state, nil
}
