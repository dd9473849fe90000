package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/cinesuggest/internal/models"
)

type AccountRepo struct {
	db *DB
}

func NewAccountRepo(db *DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// Save links an external account to the user, replacing any previous link
// for the same provider.
func (r *AccountRepo) Save(ctx context.Context, account *models.ConnectedAccount) error {
	if account.ConnectedAt.IsZero() {
		account.ConnectedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO connected_accounts (user_id, provider, provider_uid, connected_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, provider)
		DO UPDATE SET
			provider_uid = EXCLUDED.provider_uid,
			connected_at = EXCLUDED.connected_at`

	_, err := r.db.conn.ExecContext(ctx, query,
		account.UserID,
		account.Provider,
		account.ProviderUID,
		account.ConnectedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save connected account: %w", err)
	}
	return nil
}

func (r *AccountRepo) Get(ctx context.Context, userID, provider string) (*models.ConnectedAccount, error) {
	query := `
		SELECT user_id, provider, provider_uid, connected_at
		FROM connected_accounts
		WHERE user_id = $1 AND provider = $2`

	var a models.ConnectedAccount
	err := r.db.conn.QueryRowContext(ctx, query, userID, provider).Scan(
		&a.UserID,
		&a.Provider,
		&a.ProviderUID,
		&a.ConnectedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get connected account: %w", err)
	}
	return &a, nil
}
