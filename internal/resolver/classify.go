package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/logger"
)

// AlbumFetcher lists an album's tracks. catalog.Session satisfies it.
type AlbumFetcher interface {
	Album(ctx context.Context, albumID string) ([]catalog.RawTrack, error)
}

// Classifier maps one raw search result to a playable track for a query.
type Classifier struct {
	log *slog.Logger
}

func NewClassifier(log *slog.Logger) *Classifier {
	return &Classifier{log: logger.OrDiscard(log)}
}

// Classify returns the track raw resolves to. ok is false when raw is
// rejected; err is set only when an album lookup failed, which is not a
// rejection of the candidate itself.
func (c *Classifier) Classify(ctx context.Context, albums AlbumFetcher, raw catalog.RawResult, q Query) (track ResolvedTrack, ok bool, err error) {
	run := classification{
		albums:   albums,
		query:    q,
		filter:   NewFilter(q),
		titleKey: Normalize(q.Title),
		log:      c.log,
	}
	return run.classify(ctx, raw)
}

type classification struct {
	albums   AlbumFetcher
	query    Query
	filter   Filter
	titleKey string
	log      *slog.Logger
}

func (c *classification) classify(ctx context.Context, raw catalog.RawResult) (ResolvedTrack, bool, error) {
	switch r := raw.(type) {
	case catalog.Song:
		return c.direct(r.ID, r.Title, SourceSong, r.Artists, r.Author)
	case catalog.Video:
		return c.direct(r.ID, r.Title, SourceVideo, r.Artists, r.Author)
	case catalog.ListItem:
		switch r.ItemType {
		case catalog.ItemSong, catalog.ItemVideo:
			return c.direct(r.ID, r.Title, Source(r.ItemType), r.Artists, r.Author)
		case catalog.ItemAlbum, catalog.ItemEP:
			return c.album(ctx, r.ID, r.Title, r.Artists)
		default:
			return c.reject("unsupported list item", "item_type", r.ItemType)
		}
	case catalog.Album:
		return c.album(ctx, r.ID, r.Title, r.Artists)
	case catalog.Shelf:
		return c.shelf(r)
	case catalog.CardShelf:
		return c.card(r)
	case catalog.Playlist:
		return c.reject("playlists never resolve to a single track", "playlist_id", r.ID)
	case catalog.Unknown:
		return c.reject("unknown result shape", "type", r.Type)
	default:
		return c.reject("unhandled result", "type", fmt.Sprintf("%T", raw))
	}
}

func (c *classification) direct(id, title string, source Source, artists []catalog.Artist, author string) (ResolvedTrack, bool, error) {
	if id == "" {
		return c.reject("result has no video id", "title", title)
	}
	if reason := c.filter.Reason(title); reason != "" {
		return c.reject("blacklisted", "title", title, "phrase", reason)
	}
	return ResolvedTrack{
		VideoID: id,
		Title:   titleOr(title, ""),
		Artist:  firstNonEmpty(catalog.FirstArtistName(artists), author, c.query.Artist),
		Source:  source,
	}, true, nil
}

func (c *classification) album(ctx context.Context, albumID, albumTitle string, albumArtists []catalog.Artist) (ResolvedTrack, bool, error) {
	if albumID == "" {
		return c.reject("album has no id", "title", albumTitle)
	}
	if reason := c.filter.Reason(albumTitle); reason != "" {
		return c.reject("blacklisted album", "title", albumTitle, "phrase", reason)
	}

	tracks, err := c.albums.Album(ctx, albumID)
	if err != nil {
		return ResolvedTrack{}, false, fmt.Errorf("fetching album %s: %w", albumID, err)
	}
	if len(tracks) == 0 {
		return c.reject("album has no tracks", "album_id", albumID)
	}

	picked := tracks[0]
	for _, t := range tracks {
		if matchesLoosely(Normalize(t.Title), c.titleKey) {
			picked = t
			break
		}
	}
	if reason := c.filter.Reason(picked.Title); reason != "" {
		return c.reject("blacklisted album track", "title", picked.Title, "phrase", reason)
	}

	return ResolvedTrack{
		VideoID:    picked.ID,
		Title:      titleOr(picked.Title, ""),
		Artist:     firstNonEmpty(catalog.FirstArtistName(picked.Artists), c.query.Artist, catalog.FirstArtistName(albumArtists)),
		Source:     SourceAlbum,
		AlbumTitle: albumTitle,
	}, true, nil
}

// shelf returns the first playable song or video inside s. Nested
// containers and albums are not followed.
func (c *classification) shelf(s catalog.Shelf) (ResolvedTrack, bool, error) {
	for _, inner := range s.Contents {
		var (
			track ResolvedTrack
			ok    bool
		)
		switch item := inner.(type) {
		case catalog.ListItem:
			if item.ItemType != catalog.ItemSong && item.ItemType != catalog.ItemVideo {
				continue
			}
			track, ok, _ = c.direct(item.ID, item.Title, Source(item.ItemType), item.Artists, item.Author)
		case catalog.Song:
			track, ok, _ = c.direct(item.ID, item.Title, SourceSong, item.Artists, item.Author)
		case catalog.Video:
			track, ok, _ = c.direct(item.ID, item.Title, SourceVideo, item.Artists, item.Author)
		default:
			continue
		}
		if ok {
			return track, true, nil
		}
	}
	return c.reject("shelf has no playable song or video", "shelf", s.Title)
}

func (c *classification) card(s catalog.CardShelf) (ResolvedTrack, bool, error) {
	if s.OnTapVideoID != "" {
		title := titleOr(s.Title, "")
		if reason := c.filter.Reason(title); reason != "" {
			return c.reject("blacklisted card", "title", title, "phrase", reason)
		}
		return ResolvedTrack{
			VideoID: s.OnTapVideoID,
			Title:   title,
			Artist:  firstNonEmpty(c.query.Artist),
			Source:  SourceCard,
		}, true, nil
	}

	if len(s.Contents) > 0 {
		if item, ok := s.Contents[0].(catalog.ListItem); ok && item.ID != "" &&
			(item.ItemType == catalog.ItemSong || item.ItemType == catalog.ItemVideo) {
			title := titleOr(item.Title, s.Title)
			if reason := c.filter.Reason(title); reason != "" {
				return c.reject("blacklisted card item", "title", title, "phrase", reason)
			}
			return ResolvedTrack{
				VideoID: item.ID,
				Title:   title,
				Artist:  firstNonEmpty(catalog.FirstArtistName(item.Artists), c.query.Artist),
				Source:  SourceCard,
			}, true, nil
		}
	}
	return c.reject("card has no playable id", "card", s.Title)
}

func (c *classification) reject(reason string, args ...any) (ResolvedTrack, bool, error) {
	c.log.Debug("candidate rejected", append([]any{"reason", reason}, args...)...)
	return ResolvedTrack{}, false, nil
}
