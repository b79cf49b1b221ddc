package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/lvcoi/tunefetch/internal/app"
	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/download"
	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/library"
	"github.com/lvcoi/tunefetch/internal/player"
	"github.com/lvcoi/tunefetch/internal/resolver"
	"github.com/lvcoi/tunefetch/internal/stream"
	"github.com/lvcoi/tunefetch/internal/tui"
	"github.com/lvcoi/tunefetch/internal/web"
)

var (
	queryOpts struct {
		title   string
		artist  string
		videoID string
	}
	searchOpts struct {
		filter string
		limit  int
	}
	discoverOpts struct {
		limit   int
		resolve bool
	}
	libraryOpts struct {
		limit  int
		offset int
	}
)

func queryFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&queryOpts.title, "title", "t", "", "track title (instead of a positional query)")
	fs.StringVarP(&queryOpts.artist, "artist", "a", "", "track artist")
}

func streamFlags(fs *pflag.FlagSet) {
	queryFlags(fs)
	fs.StringVar(&queryOpts.videoID, "id", "", "use this video id and skip resolution")
}

func downloadFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&queryOpts.title, "title", "t", "", "track title (instead of positional queries)")
	fs.StringVarP(&queryOpts.artist, "artist", "a", "", "track artist")
}

func searchFlags(fs *pflag.FlagSet) {
	fs.StringVar(&searchOpts.filter, "filter", "", "result kind: songs, videos, albums or playlists")
	fs.IntVar(&searchOpts.limit, "limit", 10, "maximum results")
}

func discoverFlags(fs *pflag.FlagSet) {
	fs.IntVar(&discoverOpts.limit, "limit", 0, "maximum hits (default from config)")
	fs.BoolVar(&discoverOpts.resolve, "resolve", false, "resolve every hit to a playable video id")
}

func libraryFlags(fs *pflag.FlagSet) {
	fs.IntVar(&libraryOpts.limit, "limit", 50, "rows per page")
	fs.IntVar(&libraryOpts.offset, "offset", 0, "rows to skip")
}

func invalid(format string, args ...any) error {
	return failure.Wrap(failure.CategoryInvalidInput, fmt.Errorf(format, args...))
}

// singleQuery builds the query from --title/--artist or the joined
// positional arguments.
func singleQuery(args []string) (resolver.Query, error) {
	if queryOpts.title != "" {
		return resolver.Query{Title: queryOpts.title, Artist: queryOpts.artist}, nil
	}
	q, err := resolver.ParseQuery(strings.Join(args, " "))
	if err != nil {
		return resolver.Query{}, invalid("a query is required")
	}
	if queryOpts.artist != "" {
		q.Artist = queryOpts.artist
	}
	return q, nil
}

func runSearch(ctx context.Context, e *env, args []string) error {
	text := strings.TrimSpace(strings.Join(args, " "))
	if text == "" {
		return invalid("search text is required")
	}
	filter, ok := catalog.ParseSearchFilter(searchOpts.filter)
	if !ok {
		return invalid("unknown filter %q", searchOpts.filter)
	}
	session, err := e.catalog().Acquire(ctx)
	if err != nil {
		return err
	}
	results, err := session.Search(ctx, text, catalog.SearchOptions{Limit: searchOpts.limit, Filter: filter})
	if err != nil {
		return err
	}
	if searchOpts.limit > 0 && len(results) > searchOpts.limit {
		results = results[:searchOpts.limit]
	}

	out := make([]searchRow, 0, len(results))
	for _, raw := range results {
		out = append(out, describe(raw))
	}
	if e.global.json {
		printJSON(e.stdout, out)
		return nil
	}
	rows := make([][]string, 0, len(out))
	for i, r := range out {
		rows = append(rows, []string{strconv.Itoa(i + 1), r.Kind, orDash(r.ID), r.Title, orDash(r.Artist)})
	}
	renderTable(e.stdout, []string{"#", "Kind", "ID", "Title", "Artist"}, rows)
	return nil
}

func runResolve(ctx context.Context, e *env, args []string) error {
	q, err := singleQuery(args)
	if err != nil {
		return err
	}
	svc, err := e.service(false)
	if err != nil {
		return err
	}
	track, err := svc.Resolve(ctx, q, app.NewPipeline(nil))
	if err != nil {
		return err
	}
	if e.global.json {
		printJSON(e.stdout, track)
		return nil
	}
	fmt.Fprintf(e.stdout, "%s\t%s - %s (%s)\n", track.VideoID, track.Title, orDash(track.ArtistName()), track.Source)
	return nil
}

func runStream(ctx context.Context, e *env, args []string) error {
	var (
		info stream.Info
		err  error
	)
	if queryOpts.videoID != "" {
		info, err = e.streams().Select(ctx, queryOpts.videoID)
	} else {
		var q resolver.Query
		if q, err = singleQuery(args); err != nil {
			return err
		}
		var svc *app.Service
		if svc, err = e.service(false); err != nil {
			return err
		}
		var ready app.Ready
		ready, err = svc.Prepare(ctx, q, app.NewPipeline(nil))
		info = ready.Stream
	}
	if err != nil {
		return err
	}
	if e.global.json {
		printJSON(e.stdout, info)
		return nil
	}
	fmt.Fprintf(e.stdout, "%s - %s\n%s, %d kbps, %s\n%s\n",
		info.Title, orDash(info.Author), info.MimeType, info.Bitrate/1000,
		formatSize(info.ContentLength), info.URL)
	return nil
}

func formatSize(n int64) string {
	if n <= 0 {
		return "size unknown"
	}
	return humanize.IBytes(uint64(n))
}

func runDownload(ctx context.Context, e *env, args []string) error {
	var queries []resolver.Query
	if queryOpts.title != "" {
		queries = append(queries, resolver.Query{Title: queryOpts.title, Artist: queryOpts.artist})
	}
	for _, arg := range args {
		q, err := resolver.ParseQuery(arg)
		if err != nil {
			return invalid("empty query")
		}
		queries = append(queries, q)
	}
	if len(queries) == 0 {
		return invalid("at least one query is required")
	}

	svc, err := e.service(true)
	if err != nil {
		return err
	}
	e.prewarm(ctx)

	var view *tui.Downloads
	if e.interactive() {
		view = tui.NewDownloads(e.stderr)
		view.Start(ctx)
	}

	results, exitCode := app.RunBatch(ctx, queries, e.cfg.Download.Jobs, func(ctx context.Context, q resolver.Query) (app.Result, error) {
		var onProgress func(download.Progress)
		var task *tui.Task
		if view != nil {
			task = view.Add(q.String())
			onProgress = task.Update
		}
		res, err := svc.Download(ctx, q, app.NewPipeline(nil), onProgress)
		if task != nil {
			task.Finish(err)
		}
		if err != nil {
			return app.Result{}, err
		}
		if view != nil && res.TagError != "" {
			view.Log(slog.LevelWarn, fmt.Sprintf("%s: tagging failed: %s", q.String(), res.TagError))
		}
		return app.Result{VideoID: res.VideoID, Path: res.Path}, nil
	})
	if view != nil {
		view.Stop()
	}

	for _, res := range results {
		switch {
		case e.global.json:
			printJSON(e.stdout, res)
		case res.Err != nil:
			fmt.Fprintf(e.stderr, "error: %s: %v\n", res.Query.String(), res.Err)
		case !e.global.quiet:
			fmt.Fprintf(e.stdout, "%s\n", res.Path)
		}
	}
	if exitCode != 0 {
		return exitError{code: exitCode}
	}
	return nil
}

func runPlay(ctx context.Context, e *env, args []string) error {
	q, err := singleQuery(args)
	if err != nil {
		return err
	}
	svc, err := e.service(false)
	if err != nil {
		return err
	}
	session, ready, err := svc.Play(ctx, q, app.NewPipeline(nil))
	if err != nil {
		return err
	}
	now := tui.NowPlaying{
		Title:  ready.Track.Title,
		Artist: ready.Track.ArtistName(),
		Album:  ready.Track.AlbumTitle,
	}
	return watchPlayback(ctx, e, session, now, ready)
}

// watchPlayback shows the player view when both ends are terminals and
// otherwise prints summary and blocks until playback ends.
func watchPlayback(ctx context.Context, e *env, session *player.Session, now tui.NowPlaying, summary any) error {
	in, ok := e.stdin.(*os.File)
	if e.interactive() && ok && isatty.IsTerminal(in.Fd()) {
		return tui.RunPlayer(ctx, in, e.stderr, session, now, e.cfg.Player.StatusTTL)
	}

	if e.global.json {
		printJSON(e.stdout, summary)
	} else {
		fmt.Fprintf(e.stdout, "playing %s - %s\n", now.Title, orDash(now.Artist))
	}
	if err := session.Wait(ctx); err != nil {
		_ = session.Stop()
		return err
	}
	return nil
}

func runDiscover(ctx context.Context, e *env, args []string) error {
	term := strings.TrimSpace(strings.Join(args, " "))
	if term == "" {
		return invalid("a search term is required")
	}
	hits, err := e.discover().Search(ctx, term, discoverOpts.limit)
	if err != nil {
		return err
	}

	type row struct {
		Track   string `json:"track"`
		Artist  string `json:"artist"`
		Album   string `json:"album,omitempty"`
		VideoID string `json:"videoId,omitempty"`
		Error   string `json:"error,omitempty"`
	}
	out := make([]row, 0, len(hits))
	for _, h := range hits {
		r := row{Track: h.TrackName, Artist: h.ArtistName, Album: h.CollectionName}
		if discoverOpts.resolve {
			track, err := e.trackResolver().Resolve(ctx, h.Query())
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.Error = string(failure.CategoryOf(err))
			} else {
				r.VideoID = track.VideoID
			}
		}
		out = append(out, r)
	}

	if e.global.json {
		printJSON(e.stdout, out)
		return nil
	}
	headers := []string{"Track", "Artist", "Album"}
	if discoverOpts.resolve {
		headers = append(headers, "Video")
	}
	rows := make([][]string, 0, len(out))
	for _, r := range out {
		cells := []string{r.Track, r.Artist, orDash(r.Album)}
		if discoverOpts.resolve {
			cells = append(cells, orDash(r.VideoID+r.Error))
		}
		rows = append(rows, cells)
	}
	renderTable(e.stdout, headers, rows)
	return nil
}

func runLibrary(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return invalid("library needs a subcommand: ls, play, rm or scan")
	}
	lib, err := e.openLibrary()
	if err != nil {
		return failure.Wrap(failure.CategoryFilesystem, err)
	}

	switch args[0] {
	case "ls", "list":
		tracks, err := lib.List(ctx, libraryOpts.limit, libraryOpts.offset)
		if err != nil {
			return err
		}
		if e.global.json {
			printJSON(e.stdout, tracks)
			return nil
		}
		rows := make([][]string, 0, len(tracks))
		for _, t := range tracks {
			rows = append(rows, []string{
				strconv.FormatInt(t.ID, 10), t.Title, orDash(t.Artist), orDash(t.Album),
				humanize.IBytes(uint64(t.FileSize)), t.CreatedAt.Local().Format("2006-01-02 15:04"),
			})
		}
		renderTable(e.stdout, []string{"ID", "Title", "Artist", "Album", "Size", "Added"}, rows)
		return nil

	case "rm", "delete":
		if len(args) != 2 {
			return invalid("usage: library rm <id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return invalid("invalid track id %q", args[1])
		}
		track, err := lib.Delete(ctx, id)
		if err != nil {
			return libraryError(err)
		}
		if e.global.json {
			printJSON(e.stdout, track)
		} else {
			fmt.Fprintf(e.stdout, "removed %s\n", track.FilePath)
		}
		return nil

	case "play":
		if len(args) != 2 {
			return invalid("usage: library play <id>")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return invalid("invalid track id %q", args[1])
		}
		track, err := lib.Get(ctx, id)
		if err != nil {
			return libraryError(err)
		}
		if _, err := os.Stat(track.FilePath); err != nil {
			return failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("track %d: %w", id, err))
		}
		session, err := e.player().Start(ctx, track.FilePath)
		if err != nil {
			return err
		}
		return watchPlayback(ctx, e, session, tui.NowPlaying{
			Title:  track.Title,
			Artist: track.Artist,
			Album:  track.Album,
		}, track)

	case "scan":
		report, err := lib.Scan(ctx, e.cfg.Download.Dir)
		if err != nil {
			return failure.Wrap(failure.CategoryFilesystem, err)
		}
		if e.global.json {
			printJSON(e.stdout, report)
		} else {
			fmt.Fprintf(e.stdout, "added %d, removed %d, %d tracks\n", report.Added, report.Removed, report.Total)
		}
		return nil

	default:
		return invalid("unknown library subcommand %q", args[0])
	}
}

// libraryError maps a missing row to the not_found category so the exit code
// matches the HTTP API's 404.
func libraryError(err error) error {
	if errors.Is(err, library.ErrNotFound) {
		return failure.Wrap(failure.CategoryNotFound, err)
	}
	return failure.Wrap(failure.CategoryFilesystem, err)
}

func runServe(ctx context.Context, e *env, args []string) error {
	svc, err := e.service(true)
	if err != nil {
		return err
	}
	lib, err := e.openLibrary()
	if err != nil {
		return failure.Wrap(failure.CategoryFilesystem, err)
	}
	e.prewarm(ctx)

	srv := web.New(web.Options{
		Pipeline:      svc,
		Streams:       e.streams(),
		Discover:      e.discover(),
		Library:       lib,
		Jobs:          e.cfg.Download.Jobs,
		JobTTL:        e.cfg.Server.JobTTL,
		DiscoverLimit: e.cfg.Discover.Limit,
		Logger:        e.log,
	})
	err = srv.ListenAndServe(ctx, e.cfg.Server.Addr)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
