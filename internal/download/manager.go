// Package download saves a track's best audio rendition to disk with
// resumable transfers and progress reporting.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/httpx"
	"github.com/lvcoi/tunefetch/internal/logger"
	"github.com/lvcoi/tunefetch/internal/stream"
)

// StreamSelector picks the rendition to fetch. *stream.Selector satisfies it.
type StreamSelector interface {
	Select(ctx context.Context, videoID string) (stream.Info, error)
}

// Recorder is told about every finished download.
type Recorder interface {
	Record(ctx context.Context, res Result) error
}

// Request names a track. Title, Artist and Album override the catalog's
// values for tagging. Stream skips the stream lookup when the caller has
// already selected one.
type Request struct {
	VideoID string
	Title   string
	Artist  string
	Album   string
	Stream  *stream.Info
}

// Result describes a finished or skipped download.
type Result struct {
	VideoID  string        `json:"videoId"`
	Path     string        `json:"path"`
	Title    string        `json:"title"`
	Artist   string        `json:"artist"`
	Album    string        `json:"album,omitempty"`
	Format   string        `json:"format"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration"`
	Skipped  bool          `json:"skipped,omitempty"`
	TagError string        `json:"tagError,omitempty"`
}

type Options struct {
	Dir         string
	Format      string
	OnDuplicate DuplicatePolicy
	Tag         bool
	RetryMax    int
	// HTTPClient overrides the retrying client built from RetryMax.
	HTTPClient *retryablehttp.Client
	Processor  Processor
	Recorder   Recorder
	Logger     *slog.Logger
}

type Manager struct {
	streams StreamSelector
	opts    Options
	client  *retryablehttp.Client
	log     *slog.Logger

	flights   singleflight.Group
	mu        sync.Mutex
	listeners map[string]map[int]func(Progress)
	nextID    int
}

func NewManager(streams StreamSelector, opts Options) *Manager {
	if opts.Dir == "" {
		opts.Dir = "downloads"
	}
	if opts.Format == "" {
		opts.Format = "m4a"
	}
	if opts.OnDuplicate == "" {
		opts.OnDuplicate = DuplicateRename
	}
	if opts.Processor == nil {
		opts.Processor = FFmpegProcessor{}
	}
	log := logger.OrDiscard(opts.Logger).With("component", "download")
	client := opts.HTTPClient
	if client == nil {
		client = httpx.NewClient(httpx.Options{RetryMax: opts.RetryMax})
	}
	return &Manager{
		streams:   streams,
		opts:      opts,
		client:    client,
		log:       log,
		listeners: make(map[string]map[int]func(Progress)),
	}
}

// Dir is the downloads directory.
func (m *Manager) Dir() string { return m.opts.Dir }

// Download fetches videoID using the catalog's title and author.
func (m *Manager) Download(ctx context.Context, videoID string, onProgress func(Progress)) (Result, error) {
	return m.DownloadTrack(ctx, Request{VideoID: videoID}, onProgress)
}

// DownloadTrack fetches req.VideoID. Concurrent calls for the same id share
// one transfer and all receive its progress and result. The shared transfer
// runs with the first caller's Request, so its Title, Artist and Album
// overrides win, and under the first caller's context. When that caller is
// cancelled, callers that joined it and are still live start a fresh
// transfer, which resumes from the part file. onProgress is called from
// another goroutine, never concurrently with itself, and has returned for
// the last time once DownloadTrack returns a result.
func (m *Manager) DownloadTrack(ctx context.Context, req Request, onProgress func(Progress)) (Result, error) {
	if strings.TrimSpace(req.VideoID) == "" {
		return Result{}, failure.Wrap(failure.CategoryInvalidInput, errors.New("video id is required"))
	}
	if onProgress != nil {
		id := m.listen(req.VideoID, onProgress)
		defer m.unlisten(req.VideoID, id)
	}

	for {
		ch := m.flights.DoChan(req.VideoID, func() (any, error) {
			return m.download(ctx, req)
		})
		select {
		case <-ctx.Done():
			return Result{}, ctx.Err()
		case res := <-ch:
			if res.Err != nil {
				if res.Shared && ctx.Err() == nil && ownerGone(res.Err) {
					m.log.Debug("in-flight download abandoned by its owner, retrying", "video_id", req.VideoID)
					continue
				}
				return Result{}, res.Err
			}
			if res.Shared {
				m.log.Debug("joined in-flight download", "video_id", req.VideoID)
			}
			return res.Val.(Result), nil
		}
	}
}

func ownerGone(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (m *Manager) download(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	var info stream.Info
	if req.Stream != nil {
		info = *req.Stream
	} else {
		selected, err := m.streams.Select(ctx, req.VideoID)
		if err != nil {
			return Result{}, err
		}
		info = selected
	}

	res := Result{
		VideoID: req.VideoID,
		Title:   firstNonBlank(req.Title, info.Title),
		Artist:  firstNonBlank(req.Artist, info.Author),
		Album:   req.Album,
		Format:  m.opts.Format,
	}

	if err := os.MkdirAll(m.opts.Dir, 0o755); err != nil {
		return Result{}, m.fail(req.VideoID, "", failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("creating downloads directory: %w", err)))
	}
	dest, err := safeOutputPath(m.opts.Dir, FileName(info.Title, info.Author, m.opts.Format))
	if err != nil {
		return Result{}, m.fail(req.VideoID, "", failure.Wrap(failure.CategoryFilesystem, err))
	}
	dest, skip, err := resolveExisting(dest, m.opts.OnDuplicate)
	if err != nil {
		return Result{}, m.fail(req.VideoID, dest, failure.Wrap(failure.CategoryFilesystem, err))
	}
	res.Path = dest
	if skip {
		m.log.Info("download skipped, file exists", "video_id", req.VideoID, "path", dest)
		res.Skipped = true
		if st, err := os.Stat(dest); err == nil {
			res.Bytes = st.Size()
		}
		m.broadcast(Progress{VideoID: req.VideoID, BytesWritten: res.Bytes, BytesExpected: res.Bytes, Done: true})
		return res, nil
	}

	convert := m.needsConversion(info.MimeType)
	target := dest
	if convert {
		target = dest + ".src"
	}

	out := newReporter(func(p Progress) { m.broadcast(p) })
	pw := &progressWriter{videoID: req.VideoID, out: out}
	written, err := transfer(ctx, m.client, source{
		URL:  info.URL,
		Key:  req.VideoID + "/" + info.MimeType + "/" + strconv.Itoa(info.Bitrate),
		Size: info.ContentLength,
	}, target, pw)
	out.finish(pw.snapshot(err == nil))
	if err != nil {
		if ctx.Err() != nil {
			m.log.Info("download cancelled, partial data kept", "video_id", req.VideoID, "path", target+partSuffix)
			return Result{}, ctx.Err()
		}
		return Result{}, m.fail(req.VideoID, dest, err)
	}
	res.Bytes = written

	if convert {
		err := m.opts.Processor.Convert(ctx, target, dest)
		os.Remove(target)
		if err != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			return Result{}, m.fail(req.VideoID, dest, fmt.Errorf("converting to %s: %w", m.opts.Format, err))
		}
		if st, err := os.Stat(dest); err == nil {
			res.Bytes = st.Size()
		}
	}
	if _, err := os.Stat(dest); err != nil {
		return Result{}, m.fail(req.VideoID, dest, errors.New("transfer produced no file"))
	}

	if m.opts.Tag {
		meta := Metadata{Title: res.Title, Artist: res.Artist, Album: res.Album}
		if err := m.opts.Processor.Tag(ctx, dest, meta); err != nil {
			m.log.Warn("metadata tag embedding failed", "path", dest, "error", err)
			res.TagError = err.Error()
		}
	}
	res.Duration = time.Since(start)

	if m.opts.Recorder != nil {
		if err := m.opts.Recorder.Record(ctx, res); err != nil {
			m.log.Warn("recording download in library failed", "path", dest, "error", err)
		}
	}
	m.log.Info("download finished", "video_id", req.VideoID, "path", dest, "bytes", res.Bytes, "elapsed", res.Duration.Round(time.Millisecond))
	return res, nil
}

// needsConversion is true unless the rendition is already MP4 audio and m4a
// was requested.
func (m *Manager) needsConversion(mimeType string) bool {
	if m.opts.Format != "m4a" {
		return true
	}
	return !strings.HasPrefix(strings.ToLower(mimeType), "audio/mp4")
}

func (m *Manager) fail(videoID, path string, err error) error {
	m.log.Error("download failed", "video_id", videoID, "path", path, "error", err)
	return &failure.DownloadError{VideoID: videoID, Path: path, Err: err}
}

func (m *Manager) listen(videoID string, fn func(Progress)) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	if m.listeners[videoID] == nil {
		m.listeners[videoID] = make(map[int]func(Progress))
	}
	m.listeners[videoID][m.nextID] = fn
	return m.nextID
}

func (m *Manager) unlisten(videoID string, id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners[videoID], id)
	if len(m.listeners[videoID]) == 0 {
		delete(m.listeners, videoID)
	}
}

func (m *Manager) broadcast(p Progress) {
	m.mu.Lock()
	fns := make([]func(Progress), 0, len(m.listeners[p.VideoID]))
	for _, fn := range m.listeners[p.VideoID] {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(p)
	}
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
