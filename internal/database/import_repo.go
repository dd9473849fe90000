package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/cinesuggest/internal/models"
)

type ImportRepo struct {
	db *DB
}

func NewImportRepo(db *DB) *ImportRepo {
	return &ImportRepo{db: db}
}

// Save stores the latest import for (user, provider), overwriting the last one.
func (r *ImportRepo) Save(ctx context.Context, imp *models.RawImport) error {
	if len(imp.Data) == 0 {
		return errors.New("raw import data is empty")
	}
	if imp.ImportedAt.IsZero() {
		imp.ImportedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO raw_imports (user_id, provider, data, imported_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET
			data = EXCLUDED.data,
			imported_at = EXCLUDED.imported_at`

	_, err := r.db.conn.ExecContext(ctx, query,
		imp.UserID,
		imp.Provider,
		string(imp.Data),
		imp.ImportedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save raw import: %w", err)
	}
	return nil
}

func (r *ImportRepo) Get(ctx context.Context, userID, provider string) (*models.RawImport, error) {
	query := `
		SELECT user_id, provider, data, imported_at
		FROM raw_imports
		WHERE user_id = $1 AND provider = $2`

	var imp models.RawImport
	var data []byte
	err := r.db.conn.QueryRowContext(ctx, query, userID, provider).Scan(
		&imp.UserID,
		&imp.Provider,
		&data,
		&imp.ImportedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get raw import: %w", err)
	}
	imp.Data = data
	return &imp, nil
}
