package catalog

import (
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	pageTypeAlbum    = "MUSIC_PAGE_TYPE_ALBUM"
	pageTypeArtist   = "MUSIC_PAGE_TYPE_ARTIST"
	pageTypePlaylist = "MUSIC_PAGE_TYPE_PLAYLIST"
	pageTypeChannel  = "MUSIC_PAGE_TYPE_USER_CHANNEL"

	videoTypeATV      = "MUSIC_VIDEO_TYPE_ATV"
	videoTypeOMV      = "MUSIC_VIDEO_TYPE_OMV"
	videoTypeUGC      = "MUSIC_VIDEO_TYPE_UGC"
	videoTypeOfficial = "MUSIC_VIDEO_TYPE_OFFICIAL_SOURCE_MUSIC"
)

const (
	searchSectionsPath = "contents.tabbedSearchResultsRenderer.tabs.0.tabRenderer.content.sectionListRenderer.contents"
	browseEndpointPath = "navigationEndpoint.browseEndpoint"
	pageTypeSubPath    = "browseEndpointContextSupportedConfigs.browseEndpointContextMusicConfig.pageType"
	watchVideoTypePath = "watchEndpointMusicSupportedConfigs.watchEndpointMusicConfig.musicVideoType"
	overlayWatchPath   = "overlay.musicItemThumbnailOverlayRenderer.content.musicPlayButtonRenderer.playNavigationEndpoint.watchEndpoint"
)

var albumTrackPaths = []string{
	"contents.twoColumnBrowseResultsRenderer.secondaryContents.sectionListRenderer.contents.0.musicShelfRenderer.contents",
	"contents.singleColumnBrowseResultsRenderer.tabs.0.tabRenderer.content.sectionListRenderer.contents.0.musicShelfRenderer.contents",
}

// parseSearch turns a search response into results. Unfiltered responses
// yield their sections (card shelf, shelves); filtered ones yield the typed
// items of the single result shelf.
func parseSearch(body []byte, filter SearchFilter) []RawResult {
	sections := gjson.GetBytes(body, searchSectionsPath)
	if !sections.Exists() {
		// Continuation-style responses carry a bare shelf.
		sections = gjson.GetBytes(body, "continuationContents")
	}

	var out []RawResult
	sections.ForEach(func(_, section gjson.Result) bool {
		if filter != FilterNone {
			shelf := section.Get("musicShelfRenderer")
			if !shelf.Exists() {
				return true
			}
			shelf.Get("contents").ForEach(func(_, item gjson.Result) bool {
				out = append(out, promote(parseItem(item)))
				return true
			})
			return true
		}
		out = append(out, parseSection(section))
		return true
	})
	return out
}

func parseSection(section gjson.Result) RawResult {
	if card := section.Get("musicCardShelfRenderer"); card.Exists() {
		title := card.Get("title.runs.0")
		videoID := card.Get("onTap.watchEndpoint.videoId").String()
		if videoID == "" {
			videoID = title.Get("navigationEndpoint.watchEndpoint.videoId").String()
		}
		return CardShelf{
			Title:        runsText(card.Get("title")),
			OnTapVideoID: videoID,
			Contents:     parseItems(card.Get("contents")),
		}
	}
	if shelf := section.Get("musicShelfRenderer"); shelf.Exists() {
		return Shelf{
			Title:    runsText(shelf.Get("title")),
			Contents: parseItems(shelf.Get("contents")),
		}
	}
	return Unknown{Type: firstKey(section)}
}

func parseItems(items gjson.Result) []RawResult {
	var out []RawResult
	items.ForEach(func(_, item gjson.Result) bool {
		out = append(out, parseItem(item))
		return true
	})
	return out
}

func parseItem(item gjson.Result) RawResult {
	row := item.Get("musicResponsiveListItemRenderer")
	if !row.Exists() {
		return Unknown{Type: firstKey(item)}
	}
	return parseListItem(row)
}

func parseListItem(row gjson.Result) ListItem {
	titleRuns := row.Get("flexColumns.0.musicResponsiveListItemFlexColumnRenderer.text")
	subtitle := row.Get("flexColumns.1.musicResponsiveListItemFlexColumnRenderer.text.runs")

	item := ListItem{Title: runsText(titleRuns)}

	label := ""
	var artists []Artist
	author := ""
	subtitle.ForEach(func(i, run gjson.Result) bool {
		text := strings.TrimSpace(run.Get("text").String())
		if i.Int() == 0 && isTypeLabel(text) {
			label = text
			return true
		}
		browse := run.Get(browseEndpointPath)
		switch browse.Get(pageTypeSubPath).String() {
		case pageTypeArtist:
			artists = append(artists, Artist{ID: browse.Get("browseId").String(), Name: text})
		case pageTypeChannel:
			if author == "" {
				author = text
			}
		}
		if d, ok := parseClock(text); ok {
			item.Duration = d
		}
		return true
	})
	item.Artists = artists
	item.Author = author

	browse := row.Get(browseEndpointPath)
	pageType := browse.Get(pageTypeSubPath).String()

	watch := row.Get(overlayWatchPath)
	videoID := row.Get("playlistItemData.videoId").String()
	if videoID == "" {
		videoID = watch.Get("videoId").String()
	}
	if videoID == "" {
		watch = titleRuns.Get("runs.0.navigationEndpoint.watchEndpoint")
		videoID = watch.Get("videoId").String()
	}
	videoType := watch.Get(watchVideoTypePath).String()
	if videoType == "" {
		videoType = titleRuns.Get("runs.0.navigationEndpoint.watchEndpoint." + watchVideoTypePath).String()
	}

	switch pageType {
	case pageTypeAlbum:
		item.ItemType = ItemAlbum
		if strings.EqualFold(label, "EP") {
			item.ItemType = ItemEP
		}
		item.ID = browse.Get("browseId").String()
		return item
	case pageTypePlaylist:
		item.ItemType = ItemPlaylist
		item.ID = browse.Get("browseId").String()
		return item
	case pageTypeArtist, pageTypeChannel:
		item.ItemType = ItemArtist
		item.ID = browse.Get("browseId").String()
		return item
	}

	if videoID == "" {
		item.ItemType = ItemUnknown
		return item
	}
	item.ID = videoID
	switch videoType {
	case videoTypeATV:
		item.ItemType = ItemSong
	case videoTypeOMV, videoTypeUGC, videoTypeOfficial:
		item.ItemType = ItemVideo
	default:
		if strings.EqualFold(label, "Video") {
			item.ItemType = ItemVideo
		} else {
			item.ItemType = ItemSong
		}
	}
	return item
}

// promote lifts a list item from a filtered search into its typed variant.
func promote(r RawResult) RawResult {
	item, ok := r.(ListItem)
	if !ok {
		return r
	}
	switch item.ItemType {
	case ItemSong:
		return Song{ID: item.ID, Title: item.Title, Artists: item.Artists, Author: item.Author, Duration: item.Duration}
	case ItemVideo:
		return Video{ID: item.ID, Title: item.Title, Artists: item.Artists, Author: item.Author, Duration: item.Duration}
	case ItemAlbum, ItemEP:
		return Album{ID: item.ID, Title: item.Title, Artists: item.Artists, EP: item.ItemType == ItemEP}
	case ItemPlaylist:
		return Playlist{ID: item.ID, Title: item.Title, Author: item.Author}
	default:
		return item
	}
}

// parseAlbum extracts the playable tracks of an album browse response.
// Rows without a video id (region locked, removed) are dropped.
func parseAlbum(body []byte) []RawTrack {
	var rows gjson.Result
	for _, path := range albumTrackPaths {
		if rows = gjson.GetBytes(body, path); rows.Exists() {
			break
		}
	}

	var tracks []RawTrack
	rows.ForEach(func(_, entry gjson.Result) bool {
		row := entry.Get("musicResponsiveListItemRenderer")
		if !row.Exists() {
			return true
		}
		id := row.Get("playlistItemData.videoId").String()
		if id == "" {
			id = row.Get(overlayWatchPath + ".videoId").String()
		}
		if id == "" {
			return true
		}
		track := RawTrack{
			ID:    id,
			Title: runsText(row.Get("flexColumns.0.musicResponsiveListItemFlexColumnRenderer.text")),
		}
		row.Get("flexColumns.1.musicResponsiveListItemFlexColumnRenderer.text.runs").ForEach(func(_, run gjson.Result) bool {
			browse := run.Get(browseEndpointPath)
			if browse.Get(pageTypeSubPath).String() == pageTypeArtist {
				track.Artists = append(track.Artists, Artist{ID: browse.Get("browseId").String(), Name: run.Get("text").String()})
			}
			return true
		})
		tracks = append(tracks, track)
		return true
	})
	return tracks
}

func runsText(v gjson.Result) string {
	if s := v.Get("simpleText"); s.Exists() {
		return s.String()
	}
	var b strings.Builder
	v.Get("runs").ForEach(func(_, run gjson.Result) bool {
		b.WriteString(run.Get("text").String())
		return true
	})
	return strings.TrimSpace(b.String())
}

func firstKey(v gjson.Result) string {
	key := "unknown"
	v.ForEach(func(k, _ gjson.Result) bool {
		key = k.String()
		return false
	})
	return key
}

func isTypeLabel(s string) bool {
	switch strings.ToLower(s) {
	case "song", "video", "album", "ep", "single", "playlist", "artist", "episode", "podcast", "profile":
		return true
	}
	return false
}

// parseClock reads "m:ss" or "h:mm:ss".
func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total int
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 {
			return 0, false
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second, true
}
