package models

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

type FilmRating struct {
	Title  string   `json:"title"`
	Year   string   `json:"year,omitempty"`
	Rating *float64 `json:"rating"`
	Poster string   `json:"poster,omitempty"`
	Link   string   `json:"link,omitempty"`
}

// Key returns the "title (year)" identity used to collapse duplicate entries.
func (f FilmRating) Key() string {
	return fmt.Sprintf("%s (%s)", f.Title, f.Year)
}

// RatingMap is an insertion-ordered map of film keys to ratings.
// Re-inserting a key keeps its original position and replaces the value.
type RatingMap struct {
	keys    []string
	entries map[string]FilmRating
}

func NewRatingMap() *RatingMap {
	return &RatingMap{entries: make(map[string]FilmRating)}
}

func (m *RatingMap) Set(f FilmRating) {
	key := f.Key()
	if _, exists := m.entries[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.entries[key] = f
}

func (m *RatingMap) Get(key string) (FilmRating, bool) {
	f, ok := m.entries[key]
	return f, ok
}

func (m *RatingMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

func (m *RatingMap) Keys() []string {
	out := make([]string, len(m.keys))
	copy(out, m.keys)
	return out
}

// Films returns the entries in feed order.
func (m *RatingMap) Films() []FilmRating {
	out := make([]FilmRating, 0, len(m.keys))
	for _, k := range m.keys {
		out = append(out, m.entries[k])
	}
	return out
}

// MarshalJSON encodes the map as {"title (year)": rating|null, ...} in order.
func (m *RatingMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range m.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.entries[k].Rating)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
