package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
)

const (
	defaultOMDbURL = "https://www.omdbapi.com"
	omdbNoValue    = "N/A"
)

type OMDbClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

type OMDbMovie struct {
	Title    string `json:"Title"`
	Year     string `json:"Year"`
	Poster   string `json:"Poster"`
	IMDbID   string `json:"imdbID"`
	Response string `json:"Response"`
	Error    string `json:"Error"`
}

func NewOMDbClient(apiKey, baseURL string, httpClient *http.Client) *OMDbClient {
	if baseURL == "" {
		baseURL = defaultOMDbURL
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &OMDbClient{
		apiKey:     apiKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// GetMovie fetches the title record. A "Response":"False" body is returned
// as-is, not as an error.
func (c *OMDbClient) GetMovie(ctx context.Context, title string) (*OMDbMovie, []byte, error) {
	params := url.Values{}
	params.Set("apikey", c.apiKey)
	params.Set("t", title)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/?"+params.Encode(), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("OMDb API returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response: %w", err)
	}

	var movie OMDbMovie
	if err := json.Unmarshal(body, &movie); err != nil {
		return nil, nil, fmt.Errorf("decoding response: %w", err)
	}
	return &movie, body, nil
}

func (c *OMDbClient) FindPoster(ctx context.Context, title string) (*PosterInfo, error) {
	movie, raw, err := c.GetMovie(ctx, title)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(movie.Response, "False") || movie.Poster == "" || movie.Poster == omdbNoValue {
		return nil, nil
	}
	return &PosterInfo{URL: movie.Poster, Metadata: raw}, nil
}
