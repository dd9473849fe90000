package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

const (
	defaultTMDbURL   = "https://api.themoviedb.org"
	tmdbImageBaseURL = "https://image.tmdb.org/t/p/"
	tmdbPosterSize   = "w500"
)

type TMDbClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type SearchMovieResult struct {
	Page         int     `json:"page"`
	Results      []Movie `json:"results"`
	TotalResults int     `json:"total_results"`
}

type Movie struct {
	ID          int     `json:"id"`
	Title       string  `json:"title"`
	ReleaseDate string  `json:"release_date"`
	Overview    string  `json:"overview"`
	PosterPath  string  `json:"poster_path"`
	VoteAverage float64 `json:"vote_average"`
}

func NewTMDbClient(apiKey, baseURL string, httpClient *http.Client) *TMDbClient {
	if baseURL == "" {
		baseURL = defaultTMDbURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TMDbClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

func (c *TMDbClient) SearchMovies(ctx context.Context, query string) ([]Movie, error) {
	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("query", query)
	params.Set("page", "1")

	fullURL := fmt.Sprintf("%s/3/search/movie?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("TMDb API returned status %d", resp.StatusCode)
	}

	var searchResult SearchMovieResult
	if err := json.NewDecoder(resp.Body).Decode(&searchResult); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return searchResult.Results, nil
}

func (c *TMDbClient) GetImageURL(path string, size string) string {
	if path == "" {
		return ""
	}
	return tmdbImageBaseURL + size + path
}

// FindPoster uses the first search result that has a poster.
func (c *TMDbClient) FindPoster(ctx context.Context, title string) (*PosterInfo, error) {
	movies, err := c.SearchMovies(ctx, title)
	if err != nil {
		return nil, err
	}

	for _, m := range movies {
		if m.PosterPath == "" {
			continue
		}
		meta, err := json.Marshal(m)
		if err != nil {
			return nil, fmt.Errorf("encoding metadata: %w", err)
		}
		return &PosterInfo{URL: c.GetImageURL(m.PosterPath, tmdbPosterSize), Metadata: meta}, nil
	}
	return nil, nil
}
