// Package feed turns a Letterboxd member's public RSS feed into an ordered
// rating map.
package feed

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/kdimtricp/cinesuggest/internal/logging"
	"github.com/kdimtricp/cinesuggest/internal/metrics"
	"github.com/kdimtricp/cinesuggest/internal/models"
)

const maxFeedBytes = 8 << 20

var ErrEmptyUsername = errors.New("feed: username is required")

// FetchError reports a non-2xx response from the feed host.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch RSS (%d)", e.Status)
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        logging.Component("feed"),
	}
}

// FeedURL returns the RSS location for username.
func (c *Client) FeedURL(username string) string {
	return fmt.Sprintf("%s/%s/rss/", c.baseURL, url.PathEscape(username))
}

// FetchRatings downloads and parses the member's feed. A non-2xx reply fails
// with *FetchError; an unparseable body yields an empty map.
func (c *Client) FetchRatings(ctx context.Context, username string) (*models.RatingMap, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrEmptyUsername
	}

	feedURL := c.FeedURL(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.FeedFetches.WithLabelValues("transport_error").Inc()
		return nil, fmt.Errorf("fetching feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.FeedFetches.WithLabelValues("status_error").Inc()
		return nil, &FetchError{URL: feedURL, Status: resp.StatusCode}
	}

	ratings := c.parse(io.LimitReader(resp.Body, maxFeedBytes))
	metrics.FeedFetches.WithLabelValues("ok").Inc()
	c.log.Debug().Str("username", username).Int("films", ratings.Len()).Msg("parsed feed")
	return ratings, nil
}

type rssDoc struct {
	XMLName xml.Name    `xml:"rss"`
	Channel *rssChannel `xml:"channel"`
}

type rssChannel struct {
	Items []rssItem `xml:"item"`
}

// Field tags carry no namespace so both letterboxd:* and bare names match.
type rssItem struct {
	Title        string `xml:"title"`
	Link         string `xml:"link"`
	Description  string `xml:"description"`
	FilmTitle    string `xml:"filmTitle"`
	FilmYear     string `xml:"filmYear"`
	MemberRating string `xml:"memberRating"`
}

// Parse reads RSS from r. Malformed or foreign documents produce an empty map.
func Parse(r io.Reader) *models.RatingMap {
	return (&Client{log: logging.Component("feed")}).parse(r)
}

func (c *Client) parse(r io.Reader) *models.RatingMap {
	ratings := models.NewRatingMap()

	var doc rssDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		c.log.Warn().Err(err).Msg("feed is not valid RSS, returning empty ratings")
		return ratings
	}
	if doc.Channel == nil {
		c.log.Warn().Msg("feed has no channel, returning empty ratings")
		return ratings
	}

	for _, it := range doc.Channel.Items {
		title := strings.TrimSpace(it.FilmTitle)
		if title == "" {
			title = strings.TrimSpace(it.Title)
		}
		if title == "" {
			continue
		}

		ratings.Set(models.FilmRating{
			Title:  title,
			Year:   strings.TrimSpace(it.FilmYear),
			Rating: parseRating(it.MemberRating),
			Poster: posterFromDescription(it.Description),
			Link:   strings.TrimSpace(it.Link),
		})
	}
	return ratings
}

func parseRating(s string) *float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// posterFromDescription returns the first <img src> of the item's HTML body.
func posterFromDescription(desc string) string {
	if !strings.Contains(desc, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(desc))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img").First().Attr("src")
	return strings.TrimSpace(src)
}
