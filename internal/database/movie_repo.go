package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kdimtricp/cinesuggest/internal/models"
)

type MovieRepo struct {
	db *DB
}

func NewMovieRepo(db *DB) *MovieRepo {
	return &MovieRepo{db: db}
}

const movieColumns = `title, poster, metadata, updated_at`

func (r *MovieRepo) GetByTitle(ctx context.Context, title string) (*models.MovieRecord, error) {
	query := `SELECT ` + movieColumns + ` FROM movies WHERE title = $1`

	m, err := scanMovie(r.db.conn.QueryRowContext(ctx, query, title))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get movie: %w", err)
	}
	return m, nil
}

// Upsert inserts the record or updates the row with the same title and
// returns what is stored afterwards. A nil poster or metadata never erases a
// stored value.
func (r *MovieRepo) Upsert(ctx context.Context, rec *models.MovieRecord) (*models.MovieRecord, error) {
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO movies (title, poster, metadata, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (title)
		DO UPDATE SET
			poster = COALESCE(EXCLUDED.poster, movies.poster),
			metadata = COALESCE(EXCLUDED.metadata, movies.metadata),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + movieColumns

	var poster sql.NullString
	if rec.Poster != nil && *rec.Poster != "" {
		poster = sql.NullString{String: *rec.Poster, Valid: true}
	}
	var metadata sql.NullString
	if len(rec.Metadata) > 0 {
		metadata = sql.NullString{String: string(rec.Metadata), Valid: true}
	}

	m, err := scanMovie(r.db.conn.QueryRowContext(ctx, query, rec.Title, poster, metadata, rec.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert movie: %w", err)
	}
	return m, nil
}

func scanMovie(row *sql.Row) (*models.MovieRecord, error) {
	var m models.MovieRecord
	var poster, metadata sql.NullString
	if err := row.Scan(&m.Title, &poster, &metadata, timestamp{&m.UpdatedAt}); err != nil {
		return nil, err
	}
	if poster.Valid {
		m.Poster = &poster.String
	}
	if metadata.Valid {
		m.Metadata = []byte(metadata.String)
	}
	return &m, nil
}
