package recommend

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kdimtricp/cinesuggest/internal/feed"
	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/models"
)

// RatingsFetcher reads a member's ratings from the external service.
type RatingsFetcher interface {
	FetchRatings(ctx context.Context, username string) (*models.RatingMap, error)
}

// Service owns one Browser per user plus the account connect flow.
type Service struct {
	ratings  RatingsFetcher
	store    Store
	runner   Runner
	posters  PosterResolver
	log      zerolog.Logger
	now      func() time.Time
	browsers map[string]*browserEntry
	mu       sync.Mutex
}

type browserEntry struct {
	browser  *Browser
	lastUsed time.Time
}

func NewService(ratings RatingsFetcher, store Store, runner Runner, posters PosterResolver) *Service {
	return &Service{
		ratings:  ratings,
		store:    store,
		runner:   runner,
		posters:  posters,
		log:      logging.Component("recommend"),
		now:      time.Now,
		browsers: make(map[string]*browserEntry),
	}
}

// Ratings fetches the member's feed without storing anything.
func (s *Service) Ratings(ctx context.Context, username string) (*models.RatingMap, error) {
	return s.ratings.FetchRatings(ctx, username)
}

// Connect links the Letterboxd member to the user and stores their current
// ratings as the raw import the pipeline reads. The feed error is returned
// unchanged so callers can report it.
func (s *Service) Connect(ctx context.Context, userID, username string) (*models.RatingMap, error) {
	username = strings.TrimSpace(username)
	ratings, err := s.ratings.FetchRatings(ctx, username)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(ratings)
	if err != nil {
		return nil, fmt.Errorf("encoding ratings: %w", err)
	}

	if err := s.store.SaveConnectedAccount(ctx, &models.ConnectedAccount{
		UserID:      userID,
		Provider:    models.ProviderLetterboxd,
		ProviderUID: username,
	}); err != nil {
		return nil, err
	}
	if err := s.store.SaveRawImport(ctx, &models.RawImport{
		UserID:   userID,
		Provider: models.ProviderLetterboxd,
		Data:     data,
	}); err != nil {
		return nil, err
	}

	s.log.Info().Str("user_id", userID).Str("username", username).Int("ratings", ratings.Len()).Msg("account connected")

	if b := s.lookupBrowser(userID); b != nil {
		if _, err := b.Mount(ctx); err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("remount after connect")
		}
	}
	return ratings, nil
}

func (s *Service) lookupBrowser(userID string) *Browser {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.browsers[userID]; ok {
		return e.browser
	}
	return nil
}

// Browser returns the user's browser, mounting it on first use.
func (s *Service) Browser(ctx context.Context, userID string) (*Browser, error) {
	s.mu.Lock()
	e, ok := s.browsers[userID]
	if !ok {
		e = &browserEntry{browser: NewBrowser(userID, s.store, s.runner, s.posters)}
		s.browsers[userID] = e
	}
	e.lastUsed = s.now()
	b := e.browser
	s.mu.Unlock()

	if !b.Mounted() {
		if _, err := b.Mount(ctx); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// EvictIdle drops browsers not used for longer than ttl and returns how many
// were removed. A browser with a generation in flight is kept. An evicted
// user's state is rebuilt from the store on their next request.
func (s *Service) EvictIdle(ttl time.Duration) int {
	cutoff := s.now().Add(-ttl)

	s.mu.Lock()
	defer s.mu.Unlock()
	evicted := 0
	for userID, e := range s.browsers {
		if e.lastUsed.After(cutoff) || e.browser.Snapshot().State == StateLoading {
			continue
		}
		delete(s.browsers, userID)
		evicted++
	}
	return evicted
}

// RunEviction calls EvictIdle every interval until ctx is done.
func (s *Service) RunEviction(ctx context.Context, interval, ttl time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.EvictIdle(ttl); n > 0 {
				s.log.Debug().Int("evicted", n).Msg("idle browsers evicted")
			}
		}
	}
}

func (s *Service) Browse(ctx context.Context, userID string) (BrowseState, error) {
	b, err := s.Browser(ctx, userID)
	if err != nil {
		return BrowseState{}, err
	}
	return b.Snapshot(), nil
}

func (s *Service) Generate(ctx context.Context, userID string) (BrowseState, error) {
	b, err := s.Browser(ctx, userID)
	if err != nil {
		return BrowseState{}, err
	}
	return b.Generate(ctx)
}

func (s *Service) Advance(ctx context.Context, userID string) (BrowseState, error) {
	b, err := s.Browser(ctx, userID)
	if err != nil {
		return BrowseState{}, err
	}
	return b.Advance(ctx)
}

func (s *Service) Suggestions(ctx context.Context, userID string) ([]models.Suggestion, error) {
	return s.store.GetSuggestions(ctx, userID)
}

func (s *Service) Poster(ctx context.Context, title string) (string, error) {
	return s.posters.Resolve(ctx, title)
}

var _ RatingsFetcher = (*feed.Client)(nil)
