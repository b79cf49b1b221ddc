package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/kkdai/youtube/v2"
	"golang.org/x/time/rate"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/httpx"
)

// YouTubeClient is the subset of *youtube.Client used for stream lookups.
type YouTubeClient interface {
	GetVideoContext(ctx context.Context, id string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// Compile-time check: *youtube.Client must implement YouTubeClient.
var _ YouTubeClient = (*youtube.Client)(nil)

var androidOnce sync.Once

func newYouTubeClient(httpClient *http.Client) *youtube.Client {
	// The Android player client returns plain stream URLs for most audio
	// renditions, which avoids signature deciphering.
	androidOnce.Do(func() {
		youtube.DefaultClient = youtube.AndroidClient
	})
	return &youtube.Client{HTTPClient: httpClient}
}

type playerAdapter struct {
	client  YouTubeClient
	guard   *httpx.Guard
	limiter *rate.Limiter
}

func (p *playerAdapter) StreamInfo(ctx context.Context, videoID string) (RawStreamInfo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return RawStreamInfo{}, err
	}

	var video *youtube.Video
	err := p.guard.Do(func() error {
		var err error
		video, err = p.client.GetVideoContext(ctx, videoID)
		return err
	})
	if err != nil {
		return RawStreamInfo{}, failure.Wrap(failure.CategoryNetwork, fmt.Errorf("fetching player info for %s: %w", videoID, err))
	}

	info := RawStreamInfo{
		VideoID:  video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}
	if info.VideoID == "" {
		info.VideoID = videoID
	}
	for _, thumb := range video.Thumbnails {
		info.Thumbnails = append(info.Thumbnails, thumb.URL)
	}

	for i := range video.Formats {
		f := &video.Formats[i]
		format := Format{
			Itag:           f.ItagNo,
			URL:            f.URL,
			MimeType:       f.MimeType,
			Bitrate:        f.Bitrate,
			AverageBitrate: f.AverageBitrate,
			ContentLength:  f.ContentLength,
			AudioChannels:  f.AudioChannels,
		}
		// Only audio renditions are worth a deciphering round trip.
		if format.URL == "" && strings.HasPrefix(f.MimeType, "audio/") {
			if resolved, err := p.client.GetStreamURLContext(ctx, video, f); err == nil {
				format.URL = resolved
			}
		}
		if isProgressive(f) {
			info.Formats = append(info.Formats, format)
		} else {
			info.AdaptiveFormats = append(info.AdaptiveFormats, format)
		}
	}
	return info, nil
}

// isProgressive reports whether f muxes audio and video together.
func isProgressive(f *youtube.Format) bool {
	return f.AudioChannels > 0 && (f.Width > 0 || f.Height > 0)
}
