package models

import (
	"encoding/json"
	"time"
)

// ProviderLetterboxd is the only external account provider wired today.
const ProviderLetterboxd = "letterboxd"

type ConnectedAccount struct {
	UserID      string    `json:"user_id"`
	Provider    string    `json:"provider"`
	ProviderUID string    `json:"provider_uid"`
	ConnectedAt time.Time `json:"connected_at"`
}

// RawImport is the previously fetched external account data, stored verbatim.
type RawImport struct {
	UserID     string          `json:"user_id"`
	Provider   string          `json:"provider"`
	Data       json.RawMessage `json:"data"`
	ImportedAt time.Time       `json:"imported_at"`
}

type Suggestion struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// MovieRecord is the global poster cache row, unique by title.
type MovieRecord struct {
	Title     string          `json:"title"`
	Poster    *string         `json:"poster,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// PosterURL returns the cached poster or "" when none is stored.
func (m *MovieRecord) PosterURL() string {
	if m == nil || m.Poster == nil {
		return ""
	}
	return *m.Poster
}

func NewMovieRecord(title, poster string, metadata json.RawMessage) *MovieRecord {
	rec := &MovieRecord{
		Title:     title,
		Metadata:  metadata,
		UpdatedAt: time.Now().UTC(),
	}
	if poster != "" {
		rec.Poster = &poster
	}
	return rec
}
