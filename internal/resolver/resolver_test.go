package resolver

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/failure"
)

func TestResolveEndToEnd(t *testing.T) {
	session := &fakeSession{results: []catalog.RawResult{
		catalog.Song{ID: "abc123", Title: "Test Song", Artists: artists("Test Artist")},
	}}
	r := New(fakeSource{session: session})

	track, err := r.Resolve(context.Background(), Query{Title: "Test Song", Artist: "Test Artist"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", track.VideoID)
	assert.Equal(t, "Test Artist", track.ArtistName())
	assert.Equal(t, SourceSong, track.Source)
	require.Len(t, session.searches, 1)
	assert.Equal(t, DefaultCandidateLimit, session.searches[0].Limit)
}

func TestResolveSkipsRejectedCandidates(t *testing.T) {
	session := &fakeSession{results: []catalog.RawResult{
		catalog.Playlist{ID: "pl", Title: "Test Song Mix"},
		catalog.Video{ID: "mv1", Title: "Test Song (Official Music Video)"},
		catalog.Song{ID: "good", Title: "Test Song"},
		catalog.Song{ID: "later", Title: "Test Song"},
	}}
	track, err := New(fakeSource{session: session}).Resolve(context.Background(), Query{Title: "Test Song"})
	require.NoError(t, err)
	assert.Equal(t, "good", track.VideoID)
}

func TestResolveStopsAtFirstMatch(t *testing.T) {
	session := &fakeSession{
		results: []catalog.RawResult{
			catalog.Song{ID: "first", Title: "Song"},
			catalog.Album{ID: "alb", Title: "Album"},
		},
		albums: map[string][]catalog.RawTrack{"alb": {{ID: "t", Title: "Song"}}},
	}
	_, err := New(fakeSource{session: session}).Resolve(context.Background(), Query{Title: "Song"})
	require.NoError(t, err)
	assert.Empty(t, session.albumCalls)
}

func TestResolveOnlyConsidersLimit(t *testing.T) {
	results := make([]catalog.RawResult, 0, 7)
	for i := 0; i < 5; i++ {
		results = append(results, catalog.Playlist{ID: "pl"})
	}
	results = append(results, catalog.Song{ID: "sixth", Title: "Song"})
	session := &fakeSession{results: results}

	_, err := New(fakeSource{session: session}).Resolve(context.Background(), Query{Title: "Song"})
	assert.ErrorIs(t, err, failure.ErrNotFound)

	track, err := New(fakeSource{session: session}, WithCandidateLimit(6)).Resolve(context.Background(), Query{Title: "Song"})
	require.NoError(t, err)
	assert.Equal(t, "sixth", track.VideoID)
}

func TestResolveNotFound(t *testing.T) {
	session := &fakeSession{results: []catalog.RawResult{
		catalog.Song{ID: "live", Title: "Song (Live)"},
		catalog.Unknown{Type: "itemSectionRenderer"},
	}}
	_, err := New(fakeSource{session: session}).Resolve(context.Background(), Query{Title: "Song"})
	assert.ErrorIs(t, err, failure.ErrNotFound)
	assert.Equal(t, failure.CategoryNotFound, failure.CategoryOf(err))
}

func TestResolveNoResultsIsNotFound(t *testing.T) {
	_, err := New(fakeSource{session: &fakeSession{}}).Resolve(context.Background(), Query{Title: "Song"})
	assert.ErrorIs(t, err, failure.ErrNotFound)
}

func TestResolveAlbumErrorDoesNotStopLaterCandidates(t *testing.T) {
	boom := errors.New("album unavailable")
	session := &fakeSession{
		results: []catalog.RawResult{
			catalog.Album{ID: "broken", Title: "Album"},
			catalog.Song{ID: "ok", Title: "Song"},
		},
		albumErrs: map[string]error{"broken": boom},
	}
	track, err := New(fakeSource{session: session}).Resolve(context.Background(), Query{Title: "Song"})
	require.NoError(t, err)
	assert.Equal(t, "ok", track.VideoID)
}

func TestResolveJoinsAlbumErrorsWhenNothingMatches(t *testing.T) {
	boom := errors.New("album unavailable")
	session := &fakeSession{
		results:   []catalog.RawResult{catalog.Album{ID: "broken", Title: "Album"}},
		albumErrs: map[string]error{"broken": boom},
	}
	_, err := New(fakeSource{session: session}).Resolve(context.Background(), Query{Title: "Song"})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, failure.ErrNotFound)
}

func TestResolveCancelled(t *testing.T) {
	session := &fakeSession{results: []catalog.RawResult{catalog.Album{ID: "alb", Title: "Album"}}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(fakeSource{session: session}).Resolve(ctx, Query{Title: "Song"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, failure.CategoryInterrupted, failure.CategoryOf(err))
}

func TestResolveRequiresTitle(t *testing.T) {
	_, err := New(fakeSource{session: &fakeSession{}}).Resolve(context.Background(), Query{Title: "  ", Artist: "x"})
	assert.Equal(t, failure.CategoryInvalidInput, failure.CategoryOf(err))
}

func TestResolveSessionInitFailure(t *testing.T) {
	initErr := &failure.ClientInitError{Err: errors.New("no consent page")}
	_, err := New(fakeSource{err: initErr}).Resolve(context.Background(), Query{Title: "Song"})
	assert.Equal(t, failure.CategoryClientInit, failure.CategoryOf(err))
}

func TestResolveSearchFailure(t *testing.T) {
	netErr := failure.Wrap(failure.CategoryNetwork, errors.New("dial tcp: refused"))
	_, err := New(fakeSource{session: &fakeSession{searchErr: netErr}}).Resolve(context.Background(), Query{Title: "Song"})
	assert.Equal(t, failure.CategoryNetwork, failure.CategoryOf(err))
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery("Song - 2011 Remaster - Artist")
	require.NoError(t, err)
	assert.Equal(t, Query{Title: "Song - 2011 Remaster", Artist: "Artist"}, q)

	q, err = ParseQuery("  Just A Title ")
	require.NoError(t, err)
	assert.Equal(t, Query{Title: "Just A Title"}, q)

	_, err = ParseQuery("   ")
	assert.Error(t, err)
}
