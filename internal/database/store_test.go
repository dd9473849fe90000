package database

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/cinesuggest/internal/models"
)

// runStoreSuite is shared by the SQLite tests and the PostgreSQL integration
// tests.
func runStoreSuite(t *testing.T, db *DB) {
	t.Run("connected account", func(t *testing.T) { testConnectedAccount(t, NewStore(db)) })
	t.Run("raw import", func(t *testing.T) { testRawImport(t, NewStore(db)) })
	t.Run("suggestions", func(t *testing.T) { testSuggestions(t, NewStore(db)) })
	t.Run("movies", func(t *testing.T) { testMovies(t, NewStore(db)) })
	t.Run("concurrent movie upserts", func(t *testing.T) { testConcurrentUpserts(t, NewStore(db)) })
}

func TestStore_SQLite(t *testing.T) {
	runStoreSuite(t, setupSQLite(t))
}

func testConnectedAccount(t *testing.T, s *Store) {
	ctx := context.Background()

	got, err := s.GetConnectedAccount(ctx, "user-1", models.ProviderLetterboxd)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, s.SaveConnectedAccount(ctx, &models.ConnectedAccount{
		UserID: "user-1", Provider: models.ProviderLetterboxd, ProviderUID: "dave",
	}))
	require.NoError(t, s.SaveConnectedAccount(ctx, &models.ConnectedAccount{
		UserID: "user-1", Provider: models.ProviderLetterboxd, ProviderUID: "dave2",
	}))

	got, err = s.GetConnectedAccount(ctx, "user-1", models.ProviderLetterboxd)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "dave2", got.ProviderUID)
	assert.False(t, got.ConnectedAt.IsZero())
}

func testRawImport(t *testing.T, s *Store) {
	ctx := context.Background()

	got, err := s.GetRawImport(ctx, "user-1", models.ProviderLetterboxd)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.Error(t, s.SaveRawImport(ctx, &models.RawImport{UserID: "user-1", Provider: models.ProviderLetterboxd}))

	require.NoError(t, s.SaveRawImport(ctx, &models.RawImport{
		UserID: "user-1", Provider: models.ProviderLetterboxd, Data: []byte(`{"Alien (1979)":4}`),
	}))
	require.NoError(t, s.SaveRawImport(ctx, &models.RawImport{
		UserID: "user-1", Provider: models.ProviderLetterboxd, Data: []byte(`{"Heat (1995)":null}`),
	}))

	got, err = s.GetRawImport(ctx, "user-1", models.ProviderLetterboxd)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.JSONEq(t, `{"Heat (1995)":null}`, string(got.Data))
}

func testSuggestions(t *testing.T, s *Store) {
	ctx := context.Background()

	first, err := s.GetFirstSuggestion(ctx, "user-2")
	require.NoError(t, err)
	assert.Nil(t, first)

	list, err := s.GetSuggestions(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, list)

	for _, title := range []string{"A", "B", "C"} {
		sg := &models.Suggestion{UserID: "user-2", Title: title, Reason: "because " + title}
		require.NoError(t, s.SaveSuggestion(ctx, sg))
		assert.NotZero(t, sg.ID)
	}
	require.NoError(t, s.SaveSuggestion(ctx, &models.Suggestion{UserID: "someone-else", Title: "Z"}))

	list, err = s.GetSuggestions(ctx, "user-2")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "A", list[0].Title)
	assert.Equal(t, "B", list[1].Title)
	assert.Equal(t, "C", list[2].Title)
	assert.Less(t, list[0].ID, list[1].ID)
	assert.Equal(t, "because B", list[1].Reason)

	first, err = s.GetFirstSuggestion(ctx, "user-2")
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, list[0].ID, first.ID)
}

func testMovies(t *testing.T, s *Store) {
	ctx := context.Background()

	got, err := s.GetMovieByTitle(ctx, "Alien")
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := s.UpsertMovie(ctx, models.NewMovieRecord("Alien", "", nil))
	require.NoError(t, err)
	assert.Equal(t, "Alien", stored.Title)
	assert.Nil(t, stored.Poster)

	stored, err = s.UpsertMovie(ctx, models.NewMovieRecord("Alien", "https://img/alien.jpg", []byte(`{"Year":"1979"}`)))
	require.NoError(t, err)
	assert.Equal(t, "https://img/alien.jpg", stored.PosterURL())

	// an empty poster does not erase the stored one
	stored, err = s.UpsertMovie(ctx, models.NewMovieRecord("Alien", "", nil))
	require.NoError(t, err)
	assert.Equal(t, "https://img/alien.jpg", stored.PosterURL())
	assert.JSONEq(t, `{"Year":"1979"}`, string(stored.Metadata))
	assert.False(t, stored.UpdatedAt.IsZero())

	got, err = s.GetMovieByTitle(ctx, "Alien")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://img/alien.jpg", got.PosterURL())

	got, err = s.GetMovieByTitle(ctx, "alien")
	require.NoError(t, err)
	assert.Nil(t, got, "title match is exact")
}

func testConcurrentUpserts(t *testing.T, s *Store) {
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpsertMovie(ctx, models.NewMovieRecord("Heat", "https://img/heat.jpg", nil))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := s.GetMovieByTitle(ctx, "Heat")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "https://img/heat.jpg", got.PosterURL())
}
