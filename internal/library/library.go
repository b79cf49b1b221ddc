// Package library keeps a SQLite record of downloaded tracks and reconciles
// it with the downloads directory.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/lvcoi/tunefetch/internal/download"
)

// ErrNotFound is returned by Get and Delete for an unknown id.
var ErrNotFound = errors.New("library: track not found")

// Track is a row in the tracks table.
type Track struct {
	ID        int64     `json:"id"`
	VideoID   string    `json:"videoId"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist"`
	Album     string    `json:"album"`
	Source    string    `json:"source"`
	FilePath  string    `json:"filePath"`
	Format    string    `json:"format"`
	FileSize  int64     `json:"fileSize"`
	TagError  string    `json:"tagError,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS tracks (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    video_id    TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    artist      TEXT NOT NULL DEFAULT '',
    album       TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT 'download',
    file_path   TEXT NOT NULL UNIQUE,
    format      TEXT NOT NULL DEFAULT '',
    file_size   INTEGER NOT NULL DEFAULT 0,
    tag_error   TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_tracks_video_id ON tracks(video_id);
CREATE INDEX IF NOT EXISTS idx_tracks_artist ON tracks(artist);
CREATE INDEX IF NOT EXISTS idx_tracks_created_at ON tracks(created_at);
`

const selectColumns = `id, video_id, title, artist, album, source, file_path, format, file_size, tag_error, created_at`

// Library wraps the SQLite connection.
type Library struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Library, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}
	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &Library{db: sqlDB}, nil
}

func (l *Library) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Upsert inserts or updates a track keyed by file path and returns its id.
func (l *Library) Upsert(ctx context.Context, t Track) (int64, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	if t.Source == "" {
		t.Source = "download"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO tracks (video_id, title, artist, album, source, file_path, format, file_size, tag_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			video_id=excluded.video_id, title=excluded.title, artist=excluded.artist,
			album=excluded.album, source=excluded.source, format=excluded.format,
			file_size=excluded.file_size, tag_error=excluded.tag_error
	`, t.VideoID, t.Title, t.Artist, t.Album, t.Source, t.FilePath, t.Format, t.FileSize, t.TagError)
	if err != nil {
		return 0, fmt.Errorf("upserting track: %w", err)
	}

	// LastInsertId is unreliable for ON CONFLICT DO UPDATE.
	var id int64
	if err := l.db.QueryRowContext(ctx, "SELECT id FROM tracks WHERE file_path = ?", t.FilePath).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying upserted track id: %w", err)
	}
	return id, nil
}

// Record stores a finished download. Skipped downloads are recorded too so
// an existing file that was never indexed shows up.
func (l *Library) Record(ctx context.Context, res download.Result) error {
	size := res.Bytes
	if st, err := os.Stat(res.Path); err == nil {
		size = st.Size()
	}
	_, err := l.Upsert(ctx, Track{
		VideoID:  res.VideoID,
		Title:    res.Title,
		Artist:   res.Artist,
		Album:    res.Album,
		FilePath: res.Path,
		Format:   res.Format,
		FileSize: size,
		TagError: res.TagError,
	})
	return err
}

// List returns tracks newest first.
func (l *Library) List(ctx context.Context, limit, offset int) ([]Track, error) {
	if l == nil || l.db == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := l.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM tracks ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying tracks: %w", err)
	}
	defer rows.Close()

	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, err
		}
		tracks = append(tracks, t)
	}
	return tracks, rows.Err()
}

func (l *Library) Get(ctx context.Context, id int64) (Track, error) {
	if l == nil || l.db == nil {
		return Track{}, fmt.Errorf("database not initialized")
	}
	t, err := scanTrack(l.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tracks WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Track{}, fmt.Errorf("track %d: %w", id, ErrNotFound)
	}
	return t, err
}

// Delete removes the track's file and then its row. A file that is already
// gone is not an error.
func (l *Library) Delete(ctx context.Context, id int64) (Track, error) {
	t, err := l.Get(ctx, id)
	if err != nil {
		return Track{}, err
	}
	if err := os.Remove(t.FilePath); err != nil && !os.IsNotExist(err) {
		return Track{}, fmt.Errorf("removing %s: %w", t.FilePath, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id); err != nil {
		return Track{}, fmt.Errorf("deleting track %d: %w", id, err)
	}
	return t, nil
}

func (l *Library) Count(ctx context.Context) (int, error) {
	if l == nil || l.db == nil {
		return 0, fmt.Errorf("database not initialized")
	}
	var count int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting tracks: %w", err)
	}
	return count, nil
}

// ScanReport summarizes a Scan.
type ScanReport struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
	Total   int `json:"total"`
}

var audioExts = map[string]bool{".m4a": true, ".mp3": true}

// Scan reconciles the table with the audio files under dir: files without a
// row are added with title and artist taken from the "Title - Artist" file
// name, and rows whose file is gone are removed.
func (l *Library) Scan(ctx context.Context, dir string) (ScanReport, error) {
	var (
		report ScanReport
		onDisk = make(map[string]fs.FileInfo)
		known  map[string]int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			if d.IsDir() || !audioExts[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			onDisk[path] = info
			return nil
		})
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("scanning %s: %w", dir, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		known, err = l.paths(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return report, err
	}

	for path, id := range known {
		if _, ok := onDisk[path]; ok {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			// Indexed file living outside dir.
			continue
		}
		l.mu.Lock()
		_, err := l.db.ExecContext(ctx, "DELETE FROM tracks WHERE id = ?", id)
		l.mu.Unlock()
		if err != nil {
			return report, fmt.Errorf("pruning track %d: %w", id, err)
		}
		report.Removed++
	}

	for path, info := range onDisk {
		if _, ok := known[path]; ok {
			continue
		}
		title, artist := splitFileName(filepath.Base(path))
		if _, err := l.Upsert(ctx, Track{
			Title:    title,
			Artist:   artist,
			Source:   "scan",
			FilePath: path,
			Format:   strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
			FileSize: info.Size(),
		}); err != nil {
			return report, err
		}
		report.Added++
	}

	total, err := l.Count(ctx)
	report.Total = total
	return report, err
}

func (l *Library) paths(ctx context.Context) (map[string]int64, error) {
	rows, err := l.db.QueryContext(ctx, "SELECT id, file_path FROM tracks")
	if err != nil {
		return nil, fmt.Errorf("querying track paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			return nil, fmt.Errorf("scanning track path: %w", err)
		}
		out[path] = id
	}
	return out, rows.Err()
}

// splitFileName undoes download.FileName as far as possible.
func splitFileName(base string) (title, artist string) {
	name := strings.TrimSuffix(base, filepath.Ext(base))
	// Rename suffixes like " (2)" belong to neither field.
	if i := strings.LastIndex(name, " ("); i > 0 && strings.HasSuffix(name, ")") {
		if isDigits(name[i+2 : len(name)-1]) {
			name = name[:i]
		}
	}
	if i := strings.LastIndex(name, " - "); i > 0 {
		return name[:i], name[i+3:]
	}
	return name, ""
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrack(row rowScanner) (Track, error) {
	var t Track
	err := row.Scan(&t.ID, &t.VideoID, &t.Title, &t.Artist, &t.Album, &t.Source,
		&t.FilePath, &t.Format, &t.FileSize, &t.TagError, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Track{}, err
		}
		return Track{}, fmt.Errorf("scanning track row: %w", err)
	}
	return t, nil
}
