package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(f float64) *float64 { return &f }

func TestRatingMap_LastWinsKeepsPosition(t *testing.T) {
	m := NewRatingMap()
	m.Set(FilmRating{Title: "Alien", Year: "1979", Rating: ptr(4)})
	m.Set(FilmRating{Title: "Heat", Year: "1995"})
	m.Set(FilmRating{Title: "Alien", Year: "1979", Rating: ptr(4.5)})

	require.Equal(t, 2, m.Len())
	assert.Equal(t, []string{"Alien (1979)", "Heat (1995)"}, m.Keys())

	alien, ok := m.Get("Alien (1979)")
	require.True(t, ok)
	assert.Equal(t, 4.5, *alien.Rating)
}

func TestRatingMap_MarshalJSON(t *testing.T) {
	m := NewRatingMap()
	m.Set(FilmRating{Title: "Heat", Year: "1995", Rating: ptr(3.5)})
	m.Set(FilmRating{Title: "Alien", Year: ""})

	b, err := m.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `{"Heat (1995)":3.5,"Alien ()":null}`, string(b))
}

func TestMovieRecord_PosterURL(t *testing.T) {
	var nilRec *MovieRecord
	assert.Empty(t, nilRec.PosterURL())
	assert.Empty(t, NewMovieRecord("Alien", "", nil).PosterURL())
	assert.Equal(t, "http://img/a.jpg", NewMovieRecord("Alien", "http://img/a.jpg", nil).PosterURL())
}
