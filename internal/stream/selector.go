// Package stream picks the audio rendition to play or download.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/logger"
)

// SessionSource hands out the shared catalog session.
type SessionSource interface {
	Acquire(ctx context.Context) (catalog.Session, error)
}

// Info is the chosen rendition plus the metadata needed to name and tag it.
type Info struct {
	VideoID       string        `json:"videoId"`
	URL           string        `json:"url"`
	Title         string        `json:"title"`
	Author        string        `json:"author"`
	Thumbnail     string        `json:"thumbnail,omitempty"`
	Duration      time.Duration `json:"duration"`
	MimeType      string        `json:"mimeType"`
	Bitrate       int           `json:"bitrate"`
	ContentLength int64         `json:"contentLength,omitempty"`
}

type Selector struct {
	sessions SessionSource
	log      *slog.Logger
}

func NewSelector(sessions SessionSource, log *slog.Logger) *Selector {
	return &Selector{sessions: sessions, log: logger.OrDiscard(log).With("component", "stream")}
}

// Select returns the highest-bitrate audio rendition of videoID.
func (s *Selector) Select(ctx context.Context, videoID string) (Info, error) {
	if strings.TrimSpace(videoID) == "" {
		return Info{}, failure.Wrap(failure.CategoryInvalidInput, fmt.Errorf("video id is required"))
	}
	session, err := s.sessions.Acquire(ctx)
	if err != nil {
		return Info{}, err
	}
	raw, err := session.StreamInfo(ctx, videoID)
	if err != nil {
		return Info{}, fmt.Errorf("stream info for %s: %w", videoID, err)
	}

	best, ok := Best(raw)
	if !ok {
		s.log.Warn("no audio rendition", "video_id", videoID,
			"formats", len(raw.Formats), "adaptive", len(raw.AdaptiveFormats))
		return Info{}, &failure.NoAudioError{VideoID: videoID}
	}

	info := Info{
		VideoID:       videoID,
		URL:           best.URL,
		Title:         raw.Title,
		Author:        raw.Author,
		Duration:      raw.Duration,
		MimeType:      best.MimeType,
		Bitrate:       bitrate(best),
		ContentLength: best.ContentLength,
	}
	if len(raw.Thumbnails) > 0 {
		info.Thumbnail = raw.Thumbnails[len(raw.Thumbnails)-1]
	}
	s.log.Debug("stream selected", "video_id", videoID, "itag", best.Itag, "mime", best.MimeType, "bitrate", info.Bitrate)
	return info, nil
}

// Best returns the highest-bitrate audio format of raw that has a URL.
// Progressive and adaptive lists are considered together; ties keep their
// original order.
func Best(raw catalog.RawStreamInfo) (catalog.Format, bool) {
	candidates := make([]catalog.Format, 0, len(raw.Formats)+len(raw.AdaptiveFormats))
	for _, f := range slices.Concat(raw.Formats, raw.AdaptiveFormats) {
		if IsAudio(f.MimeType) && f.URL != "" {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return catalog.Format{}, false
	}
	slices.SortStableFunc(candidates, func(a, b catalog.Format) int {
		return bitrate(b) - bitrate(a)
	})
	return candidates[0], true
}

// IsAudio reports whether a mime type such as `audio/mp4; codecs="mp4a.40.2"`
// denotes audio.
func IsAudio(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "audio/")
}

// bitrate is the declared peak bitrate. A missing one ranks as 0; the
// average bitrate is not consulted.
func bitrate(f catalog.Format) int {
	return max(f.Bitrate, 0)
}
