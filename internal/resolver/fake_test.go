package resolver

import (
	"context"
	"sync"

	"github.com/lvcoi/tunefetch/internal/catalog"
)

type fakeSession struct {
	mu         sync.Mutex
	results    []catalog.RawResult
	searchErr  error
	albums     map[string][]catalog.RawTrack
	albumErrs  map[string]error
	albumCalls []string
	searches   []catalog.SearchOptions
}

func (f *fakeSession) Search(_ context.Context, _ string, opts catalog.SearchOptions) ([]catalog.RawResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches = append(f.searches, opts)
	return f.results, f.searchErr
}

func (f *fakeSession) Album(ctx context.Context, id string) ([]catalog.RawTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.albumCalls = append(f.albumCalls, id)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.albumErrs[id]; err != nil {
		return nil, err
	}
	return f.albums[id], nil
}

func (f *fakeSession) StreamInfo(context.Context, string) (catalog.RawStreamInfo, error) {
	return catalog.RawStreamInfo{}, nil
}

type fakeSource struct {
	session catalog.Session
	err     error
}

func (f fakeSource) Acquire(context.Context) (catalog.Session, error) {
	return f.session, f.err
}

func artists(names ...string) []catalog.Artist {
	out := make([]catalog.Artist, 0, len(names))
	for _, n := range names {
		out = append(out, catalog.Artist{Name: n})
	}
	return out
}
