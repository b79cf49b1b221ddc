package catalog

import "time"

// Tag identifies the shape of a search result.
type Tag string

const (
	TagSong      Tag = "song"
	TagVideo     Tag = "video"
	TagAlbum     Tag = "album"
	TagEP        Tag = "ep"
	TagPlaylist  Tag = "playlist"
	TagListItem  Tag = "list_item"
	TagShelf     Tag = "shelf"
	TagCardShelf Tag = "card_shelf"
	TagUnknown   Tag = "unknown"
)

// ItemType is what a responsive list item points at.
type ItemType string

const (
	ItemSong     ItemType = "song"
	ItemVideo    ItemType = "video"
	ItemAlbum    ItemType = "album"
	ItemEP       ItemType = "ep"
	ItemPlaylist ItemType = "playlist"
	ItemArtist   ItemType = "artist"
	ItemUnknown  ItemType = "unknown"
)

type Artist struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// FirstArtistName returns the first non-empty artist name.
func FirstArtistName(artists []Artist) string {
	for _, a := range artists {
		if a.Name != "" {
			return a.Name
		}
	}
	return ""
}

// RawResult is one catalog search result. The set of implementations is
// closed: Song, Video, Album, Playlist, ListItem, Shelf, CardShelf and
// Unknown.
type RawResult interface {
	Tag() Tag
	rawResult()
}

type Song struct {
	ID       string
	Title    string
	Artists  []Artist
	Author   string
	Album    string
	Duration time.Duration
}

type Video struct {
	ID       string
	Title    string
	Artists  []Artist
	Author   string
	Duration time.Duration
}

// Album covers both full albums and EPs.
type Album struct {
	ID      string
	Title   string
	Artists []Artist
	Year    string
	EP      bool
}

type Playlist struct {
	ID     string
	Title  string
	Author string
}

// ListItem is a responsive list row whose kind is carried in ItemType
// rather than in its own result type.
type ListItem struct {
	ItemType ItemType
	ID       string
	Title    string
	Artists  []Artist
	Author   string
	Duration time.Duration
}

type Shelf struct {
	Title    string
	Contents []RawResult
}

// CardShelf is the highlighted "top result" card.
type CardShelf struct {
	Title        string
	OnTapVideoID string
	Contents     []RawResult
}

// Unknown is any shape the parser does not model.
type Unknown struct {
	Type string
}

func (Song) Tag() Tag      { return TagSong }
func (Video) Tag() Tag     { return TagVideo }
func (Playlist) Tag() Tag  { return TagPlaylist }
func (ListItem) Tag() Tag  { return TagListItem }
func (Shelf) Tag() Tag     { return TagShelf }
func (CardShelf) Tag() Tag { return TagCardShelf }
func (Unknown) Tag() Tag   { return TagUnknown }

func (a Album) Tag() Tag {
	if a.EP {
		return TagEP
	}
	return TagAlbum
}

func (Song) rawResult()      {}
func (Video) rawResult()     {}
func (Album) rawResult()     {}
func (Playlist) rawResult()  {}
func (ListItem) rawResult()  {}
func (Shelf) rawResult()     {}
func (CardShelf) rawResult() {}
func (Unknown) rawResult()   {}

// RawTrack is one entry of an album's track list.
type RawTrack struct {
	ID      string
	Title   string
	Artists []Artist
}

// Format is a single rendition reported by the player endpoint.
type Format struct {
	Itag           int
	URL            string
	MimeType       string
	Bitrate        int
	AverageBitrate int
	ContentLength  int64
	AudioChannels  int
}

// RawStreamInfo is the player response reduced to what stream selection
// needs.
type RawStreamInfo struct {
	VideoID         string
	Title           string
	Author          string
	Thumbnails      []string
	Duration        time.Duration
	Formats         []Format
	AdaptiveFormats []Format
}

// SearchFilter narrows a search to one result kind.
type SearchFilter string

const (
	FilterNone      SearchFilter = ""
	FilterSongs     SearchFilter = "songs"
	FilterVideos    SearchFilter = "videos"
	FilterAlbums    SearchFilter = "albums"
	FilterPlaylists SearchFilter = "playlists"
)

type SearchOptions struct {
	Limit  int
	Filter SearchFilter
}

// ParseSearchFilter accepts the filter names used on the command line.
func ParseSearchFilter(raw string) (SearchFilter, bool) {
	switch SearchFilter(raw) {
	case FilterNone, FilterSongs, FilterVideos, FilterAlbums, FilterPlaylists:
		return SearchFilter(raw), true
	default:
		return "", false
	}
}
