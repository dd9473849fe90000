package recommend

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/models"
)

type State string

const (
	StateDisconnected           State = "disconnected"
	StateConnectedNoSuggestions State = "connected_no_suggestions"
	StateLoading                State = "loading"
	StateHasSuggestions         State = "has_suggestions"
)

var (
	ErrGenerationInFlight = errors.New("recommend: generation already in progress")
	ErrNotConnected       = errors.New("recommend: no connected account")
	ErrNoSuggestions      = errors.New("recommend: no suggestions to browse")
)

// PosterResolver maps a title to a display poster URL ("" when unknown).
type PosterResolver interface {
	Resolve(ctx context.Context, title string) (string, error)
}

// BrowseState is a snapshot of one user's view.
type BrowseState struct {
	State        State               `json:"state"`
	Suggestions  []models.Suggestion `json:"suggestions"`
	CurrentIndex int                 `json:"current_index"`
	PosterURL    string              `json:"poster_url,omitempty"`
	Loading      bool                `json:"loading"`
	LastError    string              `json:"last_error,omitempty"`
}

// Current returns the displayed suggestion, if any.
func (s BrowseState) Current() (models.Suggestion, bool) {
	if s.State != StateHasSuggestions || len(s.Suggestions) == 0 {
		return models.Suggestion{}, false
	}
	return s.Suggestions[s.CurrentIndex], true
}

// Browser is the per-user state machine over stored suggestions. Its mutex
// is never held while talking to the store, the completer or the poster
// resolver.
type Browser struct {
	userID  string
	store   Store
	runner  Runner
	posters PosterResolver
	log     zerolog.Logger

	mu      sync.Mutex
	state   BrowseState
	mounted bool
	// display increments whenever the shown suggestion changes; poster
	// results for an older display are dropped.
	display uint64
}

func NewBrowser(userID string, store Store, runner Runner, posters PosterResolver) *Browser {
	return &Browser{
		userID:  userID,
		store:   store,
		runner:  runner,
		posters: posters,
		log:     logging.Component("browser").With().Str("user_id", userID).Logger(),
		state:   BrowseState{State: StateDisconnected, Suggestions: []models.Suggestion{}},
	}
}

func (b *Browser) Mounted() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mounted
}

// Snapshot returns a copy of the current view.
func (b *Browser) Snapshot() BrowseState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snapshotLocked()
}

func (b *Browser) snapshotLocked() BrowseState {
	s := b.state
	s.Suggestions = append([]models.Suggestion(nil), b.state.Suggestions...)
	return s
}

// Mount rebuilds the view from the store. A running generation is left
// alone.
func (b *Browser) Mount(ctx context.Context) (BrowseState, error) {
	account, err := b.store.GetConnectedAccount(ctx, b.userID, models.ProviderLetterboxd)
	if err != nil {
		return b.Snapshot(), fmt.Errorf("loading connected account: %w", err)
	}

	var suggestions []models.Suggestion
	if account != nil {
		suggestions, err = b.store.GetSuggestions(ctx, b.userID)
		if err != nil {
			return b.Snapshot(), fmt.Errorf("loading suggestions: %w", err)
		}
	}

	b.mu.Lock()
	if b.state.State == StateLoading {
		snap := b.snapshotLocked()
		b.mu.Unlock()
		return snap, nil
	}
	b.mounted = true
	b.state.LastError = ""
	if account == nil {
		b.state.State = StateDisconnected
		b.state.Suggestions = []models.Suggestion{}
	} else {
		b.setSuggestionsLocked(suggestions, 0)
	}
	display, title, show := b.nextDisplayLocked()
	b.mu.Unlock()

	if show {
		b.resolvePoster(ctx, display, title)
	}
	return b.Snapshot(), nil
}

// Generate runs the pipeline and shows the first newly saved suggestion.
// On failure the view is re-read from the store and LastError is set.
func (b *Browser) Generate(ctx context.Context) (BrowseState, error) {
	b.mu.Lock()
	switch b.state.State {
	case StateLoading:
		snap := b.snapshotLocked()
		b.mu.Unlock()
		return snap, ErrGenerationInFlight
	case StateDisconnected:
		snap := b.snapshotLocked()
		b.mu.Unlock()
		return snap, ErrNotConnected
	}
	prevIndex := b.state.CurrentIndex
	b.state.State = StateLoading
	b.state.Loading = true
	b.state.LastError = ""
	b.mu.Unlock()

	res, runErr := b.runner.Run(ctx, b.userID)

	var resynced []models.Suggestion
	var resyncErr error
	if runErr != nil {
		resynced, resyncErr = b.store.GetSuggestions(ctx, b.userID)
		if resyncErr != nil {
			b.log.Warn().Err(resyncErr).Msg("re-sync after failed generation")
		}
	}

	b.mu.Lock()
	b.state.Loading = false
	if runErr != nil {
		suggestions := b.state.Suggestions
		if resyncErr == nil {
			suggestions = resynced
		}
		b.setSuggestionsLocked(suggestions, prevIndex)
		b.state.LastError = runErr.Error()
	} else if res != nil {
		b.setSuggestionsLocked(res.All, firstSavedIndex(res))
	} else {
		b.setSuggestionsLocked(nil, 0)
	}
	display, title, show := b.nextDisplayLocked()
	b.mu.Unlock()

	if show {
		b.resolvePoster(ctx, display, title)
	}
	return b.Snapshot(), runErr
}

// Advance moves to the next suggestion, wrapping to the first after the last.
func (b *Browser) Advance(ctx context.Context) (BrowseState, error) {
	b.mu.Lock()
	if b.state.State != StateHasSuggestions {
		snap := b.snapshotLocked()
		b.mu.Unlock()
		return snap, ErrNoSuggestions
	}
	b.state.CurrentIndex = (b.state.CurrentIndex + 1) % len(b.state.Suggestions)
	display, title, _ := b.nextDisplayLocked()
	b.mu.Unlock()

	b.resolvePoster(ctx, display, title)
	return b.Snapshot(), nil
}

// setSuggestionsLocked replaces the list and picks the state from its size.
// index is kept when in range.
func (b *Browser) setSuggestionsLocked(list []models.Suggestion, index int) {
	if list == nil {
		list = []models.Suggestion{}
	}
	b.state.Suggestions = list
	if len(list) == 0 {
		b.state.State = StateConnectedNoSuggestions
		b.state.CurrentIndex = 0
		return
	}
	b.state.State = StateHasSuggestions
	if index < 0 || index >= len(list) {
		index = 0
	}
	b.state.CurrentIndex = index
}

// nextDisplayLocked starts a new display and reports the title whose poster
// should be resolved for it.
func (b *Browser) nextDisplayLocked() (uint64, string, bool) {
	b.display++
	b.state.PosterURL = ""
	cur, ok := b.state.Current()
	return b.display, cur.Title, ok
}

func (b *Browser) resolvePoster(ctx context.Context, display uint64, title string) {
	url, err := b.posters.Resolve(ctx, title)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.display != display {
		return
	}
	if err != nil {
		b.log.Warn().Err(err).Str("title", title).Msg("poster resolution failed")
		b.state.PosterURL = ""
		return
	}
	b.state.PosterURL = url
}

func firstSavedIndex(res *Result) int {
	if res == nil || len(res.Saved) == 0 {
		return 0
	}
	for i, s := range res.All {
		if s.ID == res.Saved[0].ID {
			return i
		}
	}
	return 0
}
