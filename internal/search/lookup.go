// Package search looks up film metadata (mainly the poster) by title.
package search

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/kdimtricp/cinesuggest/internal/config"
	"github.com/kdimtricp/cinesuggest/internal/httpx"
	"github.com/kdimtricp/cinesuggest/internal/metrics"
)

// PosterInfo is a successful lookup. Metadata is the provider's raw record.
type PosterInfo struct {
	URL      string
	Metadata []byte
}

// Lookup returns nil, nil when the provider knows no film by that title.
type Lookup interface {
	FindPoster(ctx context.Context, title string) (*PosterInfo, error)
}

var parenthetical = regexp.MustCompile(`\([^)]*\)`)

// CleanTitle removes parenthetical parts ("Alien (1979)" -> "Alien") and
// collapses whitespace.
func CleanTitle(title string) string {
	return strings.Join(strings.Fields(parenthetical.ReplaceAllString(title, " ")), " ")
}

// NewLookup builds the configured provider behind a circuit breaker.
func NewLookup(cfg config.MetadataConfig, httpClient *http.Client) (Lookup, error) {
	if httpClient == nil {
		httpClient = httpx.NewClient(cfg.Timeout, cfg.RatePerSecond)
	}

	var inner Lookup
	switch cfg.Provider {
	case "omdb":
		if cfg.OMDbAPIKey == "" {
			return nil, errors.New("OMDb API key is required")
		}
		inner = NewOMDbClient(cfg.OMDbAPIKey, cfg.OMDbURL, httpClient)
	case "tmdb":
		if cfg.TMDbAPIKey == "" {
			return nil, errors.New("TMDb API key is required")
		}
		inner = NewTMDbClient(cfg.TMDbAPIKey, cfg.TMDbURL, httpClient)
	default:
		return nil, fmt.Errorf("unsupported metadata provider: %s", cfg.Provider)
	}
	return NewGuardedLookup(cfg.Provider, inner), nil
}

type guardedLookup struct {
	provider string
	inner    Lookup
	cb       *gobreaker.CircuitBreaker[*PosterInfo]
}

// NewGuardedLookup wraps inner with a breaker and lookup metrics.
func NewGuardedLookup(provider string, inner Lookup) Lookup {
	return &guardedLookup{
		provider: provider,
		inner:    inner,
		cb:       httpx.NewBreaker[*PosterInfo]("metadata-" + provider),
	}
}

func (g *guardedLookup) FindPoster(ctx context.Context, title string) (*PosterInfo, error) {
	info, err := httpx.Execute(g.cb, func() (*PosterInfo, error) {
		return g.inner.FindPoster(ctx, title)
	})

	result := "hit"
	switch {
	case err != nil:
		result = "error"
	case info == nil:
		result = "miss"
	}
	metrics.MetadataLookups.WithLabelValues(g.provider, result).Inc()

	return info, err
}
