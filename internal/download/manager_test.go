package download

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/stream"
)

type fakeSelector struct {
	selectFn func(ctx context.Context, videoID string) (stream.Info, error)
}

func (f *fakeSelector) Select(ctx context.Context, videoID string) (stream.Info, error) {
	return f.selectFn(ctx, videoID)
}

type fakeProcessor struct {
	mu       sync.Mutex
	converts [][2]string
	tags     []Metadata
	tagErr   error
}

func (f *fakeProcessor) Convert(_ context.Context, in, out string) error {
	f.mu.Lock()
	f.converts = append(f.converts, [2]string{in, out})
	f.mu.Unlock()
	data, err := os.ReadFile(in)
	if err != nil {
		return err
	}
	return os.WriteFile(out, append([]byte("converted:"), data...), 0o644)
}

func (f *fakeProcessor) Tag(_ context.Context, _ string, meta Metadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tags = append(f.tags, meta)
	return f.tagErr
}

type recorderFunc func(ctx context.Context, res Result) error

func (f recorderFunc) Record(ctx context.Context, res Result) error { return f(ctx, res) }

func staticSelector(url, mime string) *fakeSelector {
	return &fakeSelector{selectFn: func(ctx context.Context, videoID string) (stream.Info, error) {
		return stream.Info{VideoID: videoID, URL: url, Title: "Test Song", Author: "Test Artist", MimeType: mime, Bitrate: 130000}, nil
	}}
}

func TestDownloadWritesSanitizedFile(t *testing.T) {
	data := payload(32 * 1024)
	srv := serveBytes(t, data, nil)
	dir := filepath.Join(t.TempDir(), "downloads")
	sel := &fakeSelector{selectFn: func(ctx context.Context, videoID string) (stream.Info, error) {
		return stream.Info{URL: srv.URL, Title: `AC/DC: "Live"?`, Author: "Band", MimeType: `audio/mp4; codecs="mp4a.40.2"`}, nil
	}}
	proc := &fakeProcessor{}
	m := NewManager(sel, Options{Dir: dir, Processor: proc, HTTPClient: testClient()})

	var (
		mu     sync.Mutex
		events []Progress
	)
	res, err := m.Download(context.Background(), "vid", func(p Progress) {
		mu.Lock()
		events = append(events, p)
		mu.Unlock()
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "ACDC Live - Band.m4a"), res.Path)
	assert.Equal(t, int64(len(data)), res.Bytes)
	assert.Empty(t, proc.converts)
	assert.Empty(t, proc.tags)

	got, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, int64(len(data)), last.BytesWritten)
	assert.Equal(t, "vid", last.VideoID)
}

func TestDownloadTagsAndRecords(t *testing.T) {
	srv := serveBytes(t, payload(1024), nil)
	proc := &fakeProcessor{tagErr: errors.New("ffmpeg not found")}
	var recorded []Result
	m := NewManager(staticSelector(srv.URL, "audio/mp4"), Options{
		Dir:        t.TempDir(),
		Tag:        true,
		Processor:  proc,
		HTTPClient: testClient(),
		Recorder: recorderFunc(func(_ context.Context, res Result) error {
			recorded = append(recorded, res)
			return nil
		}),
	})

	res, err := m.DownloadTrack(context.Background(), Request{VideoID: "vid", Artist: "Override", Album: "Record"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg not found", res.TagError)
	require.Len(t, proc.tags, 1)
	assert.Equal(t, Metadata{Title: "Test Song", Artist: "Override", Album: "Record"}, proc.tags[0])
	require.Len(t, recorded, 1)
	assert.Equal(t, res.Path, recorded[0].Path)
	assert.Equal(t, "Test Song - Test Artist.m4a", filepath.Base(res.Path))
}

func TestDownloadConvertsToMP3(t *testing.T) {
	data := payload(2048)
	srv := serveBytes(t, data, nil)
	proc := &fakeProcessor{}
	dir := t.TempDir()
	m := NewManager(staticSelector(srv.URL, "audio/webm"), Options{Dir: dir, Format: "mp3", Processor: proc, HTTPClient: testClient()})

	res, err := m.Download(context.Background(), "vid", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Test Song - Test Artist.mp3"), res.Path)
	require.Len(t, proc.converts, 1)
	assert.Equal(t, res.Path+".src", proc.converts[0][0])
	assert.NoFileExists(t, res.Path+".src")
	assert.Equal(t, int64(len("converted:")+len(data)), res.Bytes)
}

func TestDownloadConvertsNonMP4AudioForM4A(t *testing.T) {
	srv := serveBytes(t, payload(512), nil)
	proc := &fakeProcessor{}
	m := NewManager(staticSelector(srv.URL, `audio/webm; codecs="opus"`), Options{Dir: t.TempDir(), Processor: proc, HTTPClient: testClient()})

	res, err := m.Download(context.Background(), "vid", nil)
	require.NoError(t, err)
	assert.Equal(t, ".m4a", filepath.Ext(res.Path))
	assert.Len(t, proc.converts, 1)
}

func TestDownloadDuplicatePolicies(t *testing.T) {
	srv := serveBytes(t, payload(256), nil)
	dir := t.TempDir()
	existing := filepath.Join(dir, "Test Song - Test Artist.m4a")
	require.NoError(t, os.WriteFile(existing, []byte("old"), 0o644))

	skip := NewManager(staticSelector(srv.URL, "audio/mp4"), Options{Dir: dir, OnDuplicate: DuplicateSkip, Processor: &fakeProcessor{}, HTTPClient: testClient()})
	res, err := skip.Download(context.Background(), "vid", nil)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, existing, res.Path)

	rename := NewManager(staticSelector(srv.URL, "audio/mp4"), Options{Dir: dir, Processor: &fakeProcessor{}, HTTPClient: testClient()})
	res, err = rename.Download(context.Background(), "vid", nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "Test Song - Test Artist (1).m4a"), res.Path)

	old, err := os.ReadFile(existing)
	require.NoError(t, err)
	assert.Equal(t, "old", string(old))
}

func TestDownloadSharesConcurrentTransfers(t *testing.T) {
	var requests atomic.Int32
	data := payload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.ServeContent(w, r, "a.m4a", time.Unix(0, 0), bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	var selects atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	sel := &fakeSelector{selectFn: func(ctx context.Context, videoID string) (stream.Info, error) {
		if selects.Add(1) == 1 {
			close(entered)
		}
		<-release
		return stream.Info{URL: srv.URL, Title: "Song", Author: "Artist", MimeType: "audio/mp4"}, nil
	}}
	m := NewManager(sel, Options{Dir: t.TempDir(), Processor: &fakeProcessor{}, HTTPClient: testClient()})

	var (
		wg      sync.WaitGroup
		results [2]Result
		errs    [2]error
		seen    [2]atomic.Bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0], errs[0] = m.Download(context.Background(), "same", func(Progress) { seen[0].Store(true) })
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1], errs[1] = m.Download(context.Background(), "same", func(Progress) { seen[1].Store(true) })
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), selects.Load())
	assert.Equal(t, int32(1), requests.Load())
	assert.Equal(t, results[0].Path, results[1].Path)
	assert.True(t, seen[0].Load())
	assert.True(t, seen[1].Load())
}

func TestDownloadFailureIsDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	dir := t.TempDir()
	m := NewManager(staticSelector(srv.URL, "audio/mp4"), Options{Dir: dir, Processor: &fakeProcessor{}, HTTPClient: testClient()})

	_, err := m.Download(context.Background(), "vid", nil)
	var dlErr *failure.DownloadError
	require.ErrorAs(t, err, &dlErr)
	assert.Equal(t, "vid", dlErr.VideoID)
	assert.Equal(t, 6, failure.ExitCode(err))
}

func TestDownloadNoAudioPassesThrough(t *testing.T) {
	sel := &fakeSelector{selectFn: func(ctx context.Context, videoID string) (stream.Info, error) {
		return stream.Info{}, &failure.NoAudioError{VideoID: videoID}
	}}
	m := NewManager(sel, Options{Dir: t.TempDir(), Processor: &fakeProcessor{}})
	_, err := m.Download(context.Background(), "vid", nil)
	assert.ErrorIs(t, err, failure.ErrNoAudioAvailable)
}

func TestDownloadRequiresVideoID(t *testing.T) {
	m := NewManager(&fakeSelector{}, Options{Dir: t.TempDir()})
	_, err := m.Download(context.Background(), "", nil)
	assert.Equal(t, failure.CategoryInvalidInput, failure.CategoryOf(err))
}

func TestDownloadJoinerSurvivesOwnerCancel(t *testing.T) {
	data := payload(4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "a.m4a", time.Unix(0, 0), bytes.NewReader(data))
	}))
	t.Cleanup(srv.Close)

	var selects atomic.Int32
	entered := make(chan struct{})
	sel := &fakeSelector{selectFn: func(ctx context.Context, videoID string) (stream.Info, error) {
		if selects.Add(1) == 1 {
			close(entered)
			<-ctx.Done()
			return stream.Info{}, ctx.Err()
		}
		return stream.Info{URL: srv.URL, Title: "Song", Author: "Artist", MimeType: "audio/mp4"}, nil
	}}
	m := NewManager(sel, Options{Dir: t.TempDir(), Processor: &fakeProcessor{}, HTTPClient: testClient()})

	ownerCtx, cancelOwner := context.WithCancel(context.Background())
	var (
		wg     sync.WaitGroup
		result Result
		errs   [2]error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, errs[0] = m.Download(ownerCtx, "same", nil)
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, errs[1] = m.Download(context.Background(), "same", nil)
	}()
	time.Sleep(50 * time.Millisecond)
	cancelOwner()
	wg.Wait()

	require.ErrorIs(t, errs[0], context.Canceled)
	require.NoError(t, errs[1])
	assert.Equal(t, int32(2), selects.Load())
	got, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}
