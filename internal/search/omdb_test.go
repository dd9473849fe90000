package search

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOMDbClient_FindPoster(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantURL string
	}{
		{
			name:    "match",
			body:    `{"Title":"Alien","Year":"1979","Poster":"https://m.media-amazon.com/alien.jpg","imdbID":"tt0078748","Response":"True"}`,
			wantURL: "https://m.media-amazon.com/alien.jpg",
		},
		{
			name: "poster N/A",
			body: `{"Title":"Obscure","Poster":"N/A","Response":"True"}`,
		},
		{
			name: "not found",
			body: `{"Response":"False","Error":"Movie not found!"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "omdb-key", r.URL.Query().Get("apikey"))
				assert.Equal(t, "Alien", r.URL.Query().Get("t"))
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOMDbClient("omdb-key", srv.URL, srv.Client())
			info, err := c.FindPoster(context.Background(), "Alien")
			require.NoError(t, err)

			if tt.wantURL == "" {
				assert.Nil(t, info)
				return
			}
			require.NotNil(t, info)
			assert.Equal(t, tt.wantURL, info.URL)
			assert.JSONEq(t, tt.body, string(info.Metadata))
		})
	}
}

func TestOMDbClient_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewOMDbClient("bad", srv.URL, srv.Client())
	_, err := c.FindPoster(context.Background(), "Alien")
	assert.EqualError(t, err, "OMDb API returned status 401")
}
