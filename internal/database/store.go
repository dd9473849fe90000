package database

import (
	"context"

	"github.com/kdimtricp/cinesuggest/internal/models"
)

// Store is the single persistence surface used by the recommendation code.
// Every method is one round trip; nothing spans calls in a transaction.
type Store struct {
	accounts    *AccountRepo
	imports     *ImportRepo
	suggestions *SuggestionRepo
	movies      *MovieRepo
}

func NewStore(db *DB) *Store {
	return &Store{
		accounts:    NewAccountRepo(db),
		imports:     NewImportRepo(db),
		suggestions: NewSuggestionRepo(db),
		movies:      NewMovieRepo(db),
	}
}

func (s *Store) SaveConnectedAccount(ctx context.Context, account *models.ConnectedAccount) error {
	return s.accounts.Save(ctx, account)
}

func (s *Store) GetConnectedAccount(ctx context.Context, userID, provider string) (*models.ConnectedAccount, error) {
	return s.accounts.Get(ctx, userID, provider)
}

func (s *Store) SaveRawImport(ctx context.Context, imp *models.RawImport) error {
	return s.imports.Save(ctx, imp)
}

func (s *Store) GetRawImport(ctx context.Context, userID, provider string) (*models.RawImport, error) {
	return s.imports.Get(ctx, userID, provider)
}

func (s *Store) SaveSuggestion(ctx context.Context, suggestion *models.Suggestion) error {
	return s.suggestions.Append(ctx, suggestion)
}

func (s *Store) GetFirstSuggestion(ctx context.Context, userID string) (*models.Suggestion, error) {
	return s.suggestions.First(ctx, userID)
}

func (s *Store) GetSuggestions(ctx context.Context, userID string) ([]models.Suggestion, error) {
	return s.suggestions.List(ctx, userID)
}

func (s *Store) GetMovieByTitle(ctx context.Context, title string) (*models.MovieRecord, error) {
	return s.movies.GetByTitle(ctx, title)
}

func (s *Store) UpsertMovie(ctx context.Context, rec *models.MovieRecord) (*models.MovieRecord, error) {
	return s.movies.Upsert(ctx, rec)
}
