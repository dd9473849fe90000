// Package poster resolves a display poster URL for a suggested title through
// the shared movie cache.
package poster

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/metrics"
	"github.com/kdimtricp/cinesuggest/internal/models"
	"github.com/kdimtricp/cinesuggest/internal/search"
)

// MovieStore is the part of the persistence facade the resolver needs.
type MovieStore interface {
	GetMovieByTitle(ctx context.Context, title string) (*models.MovieRecord, error)
	UpsertMovie(ctx context.Context, rec *models.MovieRecord) (*models.MovieRecord, error)
}

const DefaultTimeout = 30 * time.Second

type Resolver struct {
	store   MovieStore
	lookup  search.Lookup
	timeout time.Duration
	group   singleflight.Group
	log     zerolog.Logger
}

// NewResolver bounds each shared resolution by timeout; 0 uses DefaultTimeout.
func NewResolver(store MovieStore, lookup search.Lookup, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{
		store:   store,
		lookup:  lookup,
		timeout: timeout,
		log:     logging.Component("poster"),
	}
}

// Resolve returns the poster URL for title, or "" when none is known.
// Concurrent calls for the same title share one resolution. The shared work
// does not inherit any caller's cancellation, so a caller that gives up only
// stops waiting for itself.
func (r *Resolver) Resolve(ctx context.Context, title string) (string, error) {
	ch := r.group.DoChan(title, func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
		defer cancel()
		return r.resolve(shared, title)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			metrics.PosterResolutions.WithLabelValues("error").Inc()
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (r *Resolver) resolve(ctx context.Context, title string) (string, error) {
	cached, err := r.store.GetMovieByTitle(ctx, title)
	if err != nil {
		return "", fmt.Errorf("reading movie cache: %w", err)
	}
	if url := cached.PosterURL(); url != "" {
		metrics.PosterResolutions.WithLabelValues("cache").Inc()
		return url, nil
	}

	info, err := r.lookup.FindPoster(ctx, search.CleanTitle(title))
	if err != nil {
		return "", fmt.Errorf("looking up poster for %q: %w", title, err)
	}

	var fetched string
	var metadata []byte
	if info != nil {
		fetched, metadata = info.URL, info.Metadata
	}

	stored, err := r.store.UpsertMovie(ctx, models.NewMovieRecord(title, fetched, metadata))
	if err != nil {
		// Another writer may have claimed the title; its value wins.
		r.log.Warn().Err(err).Str("title", title).Msg("movie upsert failed, re-reading")
		metrics.PosterResolutions.WithLabelValues("reconciled").Inc()

		current, readErr := r.store.GetMovieByTitle(ctx, title)
		if readErr != nil {
			r.log.Warn().Err(readErr).Str("title", title).Msg("re-read after failed upsert")
		}
		if url := current.PosterURL(); url != "" {
			return url, nil
		}
		return fetched, nil
	}

	url := stored.PosterURL()
	if url == "" {
		url = fetched
	}
	if url == "" {
		metrics.PosterResolutions.WithLabelValues("miss").Inc()
	} else {
		metrics.PosterResolutions.WithLabelValues("lookup").Inc()
	}
	return url, nil
}
