package recommend

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdimtricp/cinesuggest/internal/database"
	"github.com/kdimtricp/cinesuggest/internal/extract"
	"github.com/kdimtricp/cinesuggest/internal/models"
)

const testUser = "user-123"

func newTestStore(t *testing.T) *database.Store {
	t.Helper()
	db, err := database.NewDB(context.Background(), database.Config{
		Type:       "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "recommend.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return database.NewStore(db)
}

type fakeRatings struct {
	err error
}

func (f *fakeRatings) FetchRatings(ctx context.Context, username string) (*models.RatingMap, error) {
	if f.err != nil {
		return nil, f.err
	}
	r := 4.5
	m := models.NewRatingMap()
	m.Set(models.FilmRating{Title: "Alien", Year: "1979", Rating: &r})
	m.Set(models.FilmRating{Title: "Heat", Year: "1995"})
	return m, nil
}

type fakeCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	payloads []string
	// started and release make Complete block until released.
	started chan struct{}
	release chan struct{}
}

func (f *fakeCompleter) Complete(ctx context.Context, payload any, instruction string) (string, error) {
	data, _ := json.Marshal(payload)

	f.mu.Lock()
	f.payloads = append(f.payloads, string(data))
	var reply string
	if len(f.replies) > 0 {
		reply, f.replies = f.replies[0], f.replies[1:]
	}
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		close(f.started)
		<-f.release
	}
	return reply, err
}

type fakePosters struct {
	mu     sync.Mutex
	err    error
	calls  []string
	block  map[string]chan struct{}
	seenCh map[string]chan struct{}
}

func (f *fakePosters) Resolve(ctx context.Context, title string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, title)
	err := f.err
	block := f.block[title]
	seen := f.seenCh[title]
	f.mu.Unlock()

	if seen != nil {
		close(seen)
	}
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return "poster:" + title, nil
}

func newService(t *testing.T, completer *fakeCompleter, posters *fakePosters) (*Service, *database.Store) {
	t.Helper()
	store := newTestStore(t)
	pipeline := NewPipeline(store, completer, "Recommend films.")
	return NewService(&fakeRatings{}, store, pipeline, posters), store
}

func titles(list []models.Suggestion) []string {
	out := make([]string, 0, len(list))
	for _, s := range list {
		out = append(out, s.Title)
	}
	return out
}

func TestEndToEnd_HappyPath(t *testing.T) {
	completer := &fakeCompleter{replies: []string{
		"```json\n[{\"title\":\"A\",\"reason\":\"r1\"},{\"title\":\"B\",\"reason\":\"r2\"}]\n```",
	}}
	posters := &fakePosters{}
	svc, store := newService(t, completer, posters)
	ctx := context.Background()

	state, err := svc.Browse(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateDisconnected, state.State)

	ratings, err := svc.Connect(ctx, testUser, " dave ")
	require.NoError(t, err)
	assert.Equal(t, 2, ratings.Len())

	state, err = svc.Browse(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateConnectedNoSuggestions, state.State)

	state, err = svc.Generate(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateHasSuggestions, state.State)
	assert.Equal(t, []string{"A", "B"}, titles(state.Suggestions))
	assert.Equal(t, 0, state.CurrentIndex)
	assert.Equal(t, "poster:A", state.PosterURL)
	assert.False(t, state.Loading)
	assert.Empty(t, state.LastError)

	stored, err := store.GetSuggestions(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, titles(stored))
	assert.Equal(t, "r2", stored[1].Reason)

	account, err := store.GetConnectedAccount(ctx, testUser, models.ProviderLetterboxd)
	require.NoError(t, err)
	assert.Equal(t, "dave", account.ProviderUID)

	require.Len(t, completer.payloads, 1)
	assert.JSONEq(t, `{"Alien (1979)":4.5,"Heat (1995)":null}`, completer.payloads[0])
}

func TestEndToEnd_NoArrayReply(t *testing.T) {
	completer := &fakeCompleter{replies: []string{"Sorry, no recommendations."}}
	svc, store := newService(t, completer, &fakePosters{})
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)

	state, err := svc.Generate(ctx, testUser)
	require.Error(t, err)
	assert.ErrorIs(t, err, extract.ErrNoArray)
	assert.Equal(t, StateConnectedNoSuggestions, state.State)
	assert.NotEmpty(t, state.LastError)
	assert.False(t, state.Loading)

	stored, err := store.GetSuggestions(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestGenerate_RefreshPointsAtNewSuggestions(t *testing.T) {
	completer := &fakeCompleter{replies: []string{
		`[{"title":"A"},{"title":"B"}]`,
		`[{"title":"C"},{"title":"D"}]`,
	}}
	svc, _ := newService(t, completer, &fakePosters{})
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)
	_, err = svc.Generate(ctx, testUser)
	require.NoError(t, err)

	state, err := svc.Generate(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C", "D"}, titles(state.Suggestions))
	assert.Equal(t, 2, state.CurrentIndex)
	assert.Equal(t, "poster:C", state.PosterURL)
}

func TestGenerate_FailureKeepsStoredSuggestions(t *testing.T) {
	completer := &fakeCompleter{replies: []string{`[{"title":"A"},{"title":"B"}]`}}
	svc, _ := newService(t, completer, &fakePosters{})
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)
	_, err = svc.Generate(ctx, testUser)
	require.NoError(t, err)
	_, err = svc.Advance(ctx, testUser)
	require.NoError(t, err)

	completer.err = errors.New("upstream timeout")
	state, err := svc.Generate(ctx, testUser)
	require.Error(t, err)
	assert.Equal(t, StateHasSuggestions, state.State)
	assert.Equal(t, []string{"A", "B"}, titles(state.Suggestions))
	assert.Equal(t, 1, state.CurrentIndex)
	assert.Equal(t, "poster:B", state.PosterURL)
	assert.Contains(t, state.LastError, "upstream timeout")
}

func TestGenerate_NotConnected(t *testing.T) {
	svc, _ := newService(t, &fakeCompleter{}, &fakePosters{})

	state, err := svc.Generate(context.Background(), testUser)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, StateDisconnected, state.State)
}

func TestGenerate_RejectsOverlappingTrigger(t *testing.T) {
	completer := &fakeCompleter{
		replies: []string{`[{"title":"A"}]`},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, _ := newService(t, completer, &fakePosters{})
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)

	done := make(chan BrowseState)
	go func() {
		state, err := svc.Generate(ctx, testUser)
		assert.NoError(t, err)
		done <- state
	}()

	select {
	case <-completer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never reached the completer")
	}

	b, err := svc.Browser(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateLoading, b.Snapshot().State)
	assert.True(t, b.Snapshot().Loading)

	_, err = svc.Generate(ctx, testUser)
	assert.ErrorIs(t, err, ErrGenerationInFlight)

	_, err = svc.Advance(ctx, testUser)
	assert.ErrorIs(t, err, ErrNoSuggestions)

	close(completer.release)
	state := <-done
	assert.Equal(t, StateHasSuggestions, state.State)
	assert.Equal(t, []string{"A"}, titles(state.Suggestions))
}

func TestAdvance_Cycles(t *testing.T) {
	posters := &fakePosters{}
	svc, store := newService(t, &fakeCompleter{}, posters)
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)
	for _, title := range []string{"A", "B", "C"} {
		require.NoError(t, store.SaveSuggestion(ctx, &models.Suggestion{UserID: testUser, Title: title}))
	}

	state, err := svc.Browse(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, StateHasSuggestions, state.State)
	assert.Equal(t, 0, state.CurrentIndex)
	assert.Equal(t, "poster:A", state.PosterURL)

	for _, want := range []struct {
		index  int
		poster string
	}{{1, "poster:B"}, {2, "poster:C"}, {0, "poster:A"}} {
		state, err = svc.Advance(ctx, testUser)
		require.NoError(t, err)
		assert.Equal(t, want.index, state.CurrentIndex)
		assert.Equal(t, want.poster, state.PosterURL)
	}
}

func TestAdvance_RequiresSuggestions(t *testing.T) {
	svc, _ := newService(t, &fakeCompleter{}, &fakePosters{})
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)

	state, err := svc.Advance(ctx, testUser)
	assert.ErrorIs(t, err, ErrNoSuggestions)
	assert.Equal(t, StateConnectedNoSuggestions, state.State)
}

func TestPosterFailureClearsURL(t *testing.T) {
	posters := &fakePosters{}
	svc, store := newService(t, &fakeCompleter{}, posters)
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)
	for _, title := range []string{"A", "B"} {
		require.NoError(t, store.SaveSuggestion(ctx, &models.Suggestion{UserID: testUser, Title: title}))
	}
	state, err := svc.Browse(ctx, testUser)
	require.NoError(t, err)
	require.Equal(t, "poster:A", state.PosterURL)

	posters.mu.Lock()
	posters.err = errors.New("lookup failed")
	posters.mu.Unlock()

	state, err = svc.Advance(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateHasSuggestions, state.State)
	assert.Equal(t, 1, state.CurrentIndex)
	assert.Empty(t, state.PosterURL)
}

func TestStalePosterDiscarded(t *testing.T) {
	release := make(chan struct{})
	seenA := make(chan struct{})
	posters := &fakePosters{
		block:  map[string]chan struct{}{"A": release},
		seenCh: map[string]chan struct{}{"A": seenA},
	}
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveConnectedAccount(ctx, &models.ConnectedAccount{
		UserID: testUser, Provider: models.ProviderLetterboxd, ProviderUID: "dave",
	}))
	for _, title := range []string{"A", "B"} {
		require.NoError(t, store.SaveSuggestion(ctx, &models.Suggestion{UserID: testUser, Title: title}))
	}

	b := NewBrowser(testUser, store, NewPipeline(store, &fakeCompleter{}, ""), posters)

	mounted := make(chan struct{})
	go func() {
		defer close(mounted)
		_, err := b.Mount(ctx)
		assert.NoError(t, err)
	}()
	<-seenA

	state, err := b.Advance(ctx)
	require.NoError(t, err)
	assert.Equal(t, "poster:B", state.PosterURL)

	close(release)
	<-mounted

	final := b.Snapshot()
	assert.Equal(t, 1, final.CurrentIndex)
	assert.Equal(t, "poster:B", final.PosterURL, "late result for A is ignored")
}

func TestPipeline_NoRawImport(t *testing.T) {
	store := newTestStore(t)
	p := NewPipeline(store, &fakeCompleter{}, "x")

	_, err := p.Run(context.Background(), testUser)
	assert.ErrorIs(t, err, ErrNoRawImport)
}

func TestPipeline_InvalidShapeSavesNothing(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRawImport(ctx, &models.RawImport{
		UserID: testUser, Provider: models.ProviderLetterboxd, Data: []byte(`{}`),
	}))

	p := NewPipeline(store, &fakeCompleter{replies: []string{`[{"title":"A"},{"reason":"no title"}]`}}, "x")
	_, err := p.Run(ctx, testUser)

	var shapeErr *extract.ShapeError
	require.ErrorAs(t, err, &shapeErr)

	stored, err := store.GetSuggestions(ctx, testUser)
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestConnect_FeedErrorStoresNothing(t *testing.T) {
	store := newTestStore(t)
	feedErr := errors.New("failed to fetch RSS (404)")
	svc := NewService(&fakeRatings{err: feedErr}, store, NewPipeline(store, &fakeCompleter{}, ""), &fakePosters{})
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "nobody")
	assert.ErrorIs(t, err, feedErr)

	account, err := store.GetConnectedAccount(ctx, testUser, models.ProviderLetterboxd)
	require.NoError(t, err)
	assert.Nil(t, account)
}

func fakeClock(svc *Service) *atomic.Int64 {
	var clock atomic.Int64
	clock.Store(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC).UnixNano())
	svc.now = func() time.Time { return time.Unix(0, clock.Load()) }
	return &clock
}

func TestEvictIdle_DropsUnusedBrowsers(t *testing.T) {
	svc, store := newService(t, &fakeCompleter{}, &fakePosters{})
	clock := fakeClock(svc)
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)
	require.NoError(t, store.SaveSuggestion(ctx, &models.Suggestion{UserID: testUser, Title: "A"}))

	_, err = svc.Browse(ctx, testUser)
	require.NoError(t, err)
	_, err = svc.Browse(ctx, "user-other")
	require.NoError(t, err)

	clock.Add(int64(20 * time.Minute))
	_, err = svc.Browse(ctx, "user-other")
	require.NoError(t, err)
	clock.Add(int64(15 * time.Minute))

	assert.Equal(t, 1, svc.EvictIdle(30*time.Minute))
	assert.Nil(t, svc.lookupBrowser(testUser))
	assert.NotNil(t, svc.lookupBrowser("user-other"))

	// an evicted user's state comes back from the store
	state, err := svc.Browse(ctx, testUser)
	require.NoError(t, err)
	assert.Equal(t, StateHasSuggestions, state.State)
	assert.Equal(t, []string{"A"}, titles(state.Suggestions))
}

func TestEvictIdle_KeepsGenerationInFlight(t *testing.T) {
	completer := &fakeCompleter{
		replies: []string{`[{"title":"A","reason":"r"}]`},
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	svc, _ := newService(t, completer, &fakePosters{})
	clock := fakeClock(svc)
	ctx := context.Background()

	_, err := svc.Connect(ctx, testUser, "dave")
	require.NoError(t, err)

	done := make(chan BrowseState)
	go func() {
		state, err := svc.Generate(ctx, testUser)
		assert.NoError(t, err)
		done <- state
	}()

	select {
	case <-completer.started:
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline never reached the completer")
	}

	clock.Add(int64(time.Hour))
	assert.Zero(t, svc.EvictIdle(30*time.Minute))
	b := svc.lookupBrowser(testUser)
	require.NotNil(t, b)

	close(completer.release)
	state := <-done
	assert.Equal(t, StateHasSuggestions, state.State)
	assert.Same(t, b, svc.lookupBrowser(testUser))

	assert.Equal(t, 1, svc.EvictIdle(30*time.Minute))
}

func TestRunEviction_StopsWithContext(t *testing.T) {
	svc, _ := newService(t, &fakeCompleter{}, &fakePosters{})
	clock := fakeClock(svc)

	_, err := svc.Browse(context.Background(), testUser)
	require.NoError(t, err)
	clock.Add(int64(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		svc.RunEviction(ctx, 5*time.Millisecond, time.Minute)
		close(stopped)
	}()

	assert.Eventually(t, func() bool { return svc.lookupBrowser(testUser) == nil }, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("eviction loop did not stop")
	}
}
