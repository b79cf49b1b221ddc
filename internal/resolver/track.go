package resolver

import (
	"fmt"
	"strings"
)

// Query is the user's intent: a title and an optional artist.
type Query struct {
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
}

// String is the free-text search sent to the catalog.
func (q Query) String() string {
	title := strings.TrimSpace(q.Title)
	artist := strings.TrimSpace(q.Artist)
	if artist == "" {
		return title
	}
	return title + " " + artist
}

// ParseQuery splits "Title - Artist". The last " - " separates the two so
// titles like "Song - 2011 Remaster - Artist" keep their suffix.
func ParseQuery(s string) (Query, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Query{}, fmt.Errorf("empty query")
	}
	if i := strings.LastIndex(s, " - "); i > 0 {
		return Query{Title: strings.TrimSpace(s[:i]), Artist: strings.TrimSpace(s[i+3:])}, nil
	}
	return Query{Title: s}, nil
}

// Source names the result shape a track was resolved from.
type Source string

const (
	SourceSong  Source = "song"
	SourceVideo Source = "video"
	SourceAlbum Source = "album"
	SourceCard  Source = "card"
)

// ResolvedTrack is the playable candidate picked for a query.
type ResolvedTrack struct {
	VideoID    string  `json:"videoId"`
	Title      string  `json:"title"`
	Artist     *string `json:"artist"`
	Source     Source  `json:"source"`
	AlbumTitle string  `json:"albumTitle,omitempty"`
}

// ArtistName returns the artist or "" when unknown.
func (t ResolvedTrack) ArtistName() string {
	if t.Artist == nil {
		return ""
	}
	return *t.Artist
}

// firstNonEmpty returns a pointer to the first non-blank candidate, or nil.
func firstNonEmpty(candidates ...string) *string {
	for _, c := range candidates {
		if strings.TrimSpace(c) != "" {
			v := c
			return &v
		}
	}
	return nil
}

const unknownTitle = "Unknown Title"

func titleOr(title, fallback string) string {
	if strings.TrimSpace(title) != "" {
		return title
	}
	if strings.TrimSpace(fallback) != "" {
		return fallback
	}
	return unknownTitle
}
