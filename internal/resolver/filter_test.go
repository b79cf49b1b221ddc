package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterBaseBlacklistAlwaysApplies(t *testing.T) {
	f := NewFilter(Query{Title: "Song Title music video"})
	assert.Equal(t, "official music video", f.Reason("Song Title (Official Music Video)"))
	assert.Equal(t, "music video", f.Reason("Song Title [Music Video]"))
	assert.Equal(t, "mv", f.Reason("Song Title MV"))
	assert.Equal(t, "lyric", f.Reason("Song Title (Lyric)"))
}

func TestFilterRemixExemption(t *testing.T) {
	plain := NewFilter(Query{Title: "Song Title"})
	assert.False(t, plain.Allows("Song Title (Remix)"))

	remix := NewFilter(Query{Title: "Song Title remix"})
	assert.True(t, remix.Allows("Song Title (Remix)"))
}

func TestFilterVariantTermInArtistCountsAsRequest(t *testing.T) {
	f := NewFilter(Query{Title: "Song Title", Artist: "Live"})
	assert.True(t, f.Allows("Song Title (Live)"))
}

func TestFilterVariantExemptionLiftsWholeList(t *testing.T) {
	f := NewFilter(Query{Title: "Song Title live"})
	assert.True(t, f.Allows("Song Title (Cover)"))
	assert.False(t, f.Allows("Song Title (Lyric Video)"))
}

func TestFilterMatchesInsideWords(t *testing.T) {
	f := NewFilter(Query{Title: "Hello", Artist: "Adele"})
	assert.Equal(t, "lyric", f.Reason("Hello (Lyrics)"))
	assert.Equal(t, "remix", f.Reason("Hello (Remixed)"))
	assert.Equal(t, "live", f.Reason("Hello - Live"))
	assert.Equal(t, "single version", f.Reason("Hello (Single Version)"))
	assert.True(t, f.Allows("Hello"))
	assert.True(t, f.Allows("Hello (Acoustic)"))
}

func TestFilterVariantInsideQueryWord(t *testing.T) {
	f := NewFilter(Query{Title: "Hello remixes", Artist: "Adele"})
	assert.True(t, f.Allows("Hello (Remix)"))
	assert.False(t, f.Allows("Hello (Lyrics)"))
}
