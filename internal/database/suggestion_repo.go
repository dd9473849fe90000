package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/cinesuggest/internal/models"
)

type SuggestionRepo struct {
	db *DB
}

func NewSuggestionRepo(db *DB) *SuggestionRepo {
	return &SuggestionRepo{db: db}
}

const suggestionColumns = `id, user_id, title, reason, created_at`

// Append inserts one suggestion and fills in its ID.
func (r *SuggestionRepo) Append(ctx context.Context, s *models.Suggestion) error {
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO movie_suggestions (user_id, title, reason, created_at)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := r.db.conn.QueryRowContext(ctx, query,
		s.UserID,
		s.Title,
		s.Reason,
		s.CreatedAt,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("failed to save suggestion: %w", err)
	}
	return nil
}

func (r *SuggestionRepo) First(ctx context.Context, userID string) (*models.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + `
		FROM movie_suggestions
		WHERE user_id = $1
		ORDER BY id ASC
		LIMIT 1`

	var s models.Suggestion
	err := r.db.conn.QueryRowContext(ctx, query, userID).Scan(
		&s.ID, &s.UserID, &s.Title, &s.Reason, &s.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get first suggestion: %w", err)
	}
	return &s, nil
}

// List returns every suggestion of the user in insertion order.
func (r *SuggestionRepo) List(ctx context.Context, userID string) ([]models.Suggestion, error) {
	query := `SELECT ` + suggestionColumns + `
		FROM movie_suggestions
		WHERE user_id = $1
		ORDER BY id ASC`

	rows, err := r.db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggestions: %w", err)
	}
	defer rows.Close()

	suggestions := []models.Suggestion{}
	for rows.Next() {
		var s models.Suggestion
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &s.Reason, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan suggestion: %w", err)
		}
		suggestions = append(suggestions, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return suggestions, nil
}
