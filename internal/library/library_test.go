package library

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/lvcoi/tunefetch/internal/download"
)

func openTest(t *testing.T) *Library {
	t.Helper()
	lib, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { lib.Close() })
	return lib
}

func TestOpenCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "tunefetch.db")
	lib, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer lib.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file was not created: %v", err)
	}
}

func TestUpsertListGet(t *testing.T) {
	ctx := context.Background()
	lib := openTest(t)

	id, err := lib.Upsert(ctx, Track{VideoID: "abc", Title: "Test Song", Artist: "Test Artist", FilePath: "/music/a.m4a", Format: "m4a"})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	again, err := lib.Upsert(ctx, Track{VideoID: "abc", Title: "Renamed", Artist: "Test Artist", FilePath: "/music/a.m4a", Format: "m4a"})
	if err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	if again != id {
		t.Fatalf("expected upsert to keep id %d, got %d", id, again)
	}

	tracks, err := lib.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	if tracks[0].Title != "Renamed" || tracks[0].Source != "download" {
		t.Fatalf("unexpected track: %+v", tracks[0])
	}

	got, err := lib.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.FilePath != "/music/a.m4a" {
		t.Fatalf("unexpected path %q", got.FilePath)
	}
	if got.CreatedAt.IsZero() {
		t.Fatalf("expected created_at to be set")
	}

	if _, err := lib.Get(ctx, id+100); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListPaging(t *testing.T) {
	ctx := context.Background()
	lib := openTest(t)
	for _, p := range []string{"/a.m4a", "/b.m4a", "/c.m4a"} {
		if _, err := lib.Upsert(ctx, Track{FilePath: p}); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	page, err := lib.List(ctx, 2, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(page) != 2 || page[0].FilePath != "/c.m4a" {
		t.Fatalf("unexpected first page: %+v", page)
	}
	rest, err := lib.List(ctx, 2, 2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(rest) != 1 || rest[0].FilePath != "/a.m4a" {
		t.Fatalf("unexpected second page: %+v", rest)
	}
	n, err := lib.Count(ctx)
	if err != nil || n != 3 {
		t.Fatalf("Count = %d, %v; want 3", n, err)
	}
}

func TestDeleteRemovesFileAndRow(t *testing.T) {
	ctx := context.Background()
	lib := openTest(t)
	file := filepath.Join(t.TempDir(), "Song - Artist.m4a")
	if err := os.WriteFile(file, []byte("audio"), 0o644); err != nil {
		t.Fatal(err)
	}
	id, err := lib.Upsert(ctx, Track{FilePath: file})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	if _, err := lib.Delete(ctx, id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := os.Stat(file); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed, stat err = %v", err)
	}
	if n, _ := lib.Count(ctx); n != 0 {
		t.Fatalf("expected empty table, got %d rows", n)
	}
	if _, err := lib.Delete(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecordDownloadResult(t *testing.T) {
	ctx := context.Background()
	lib := openTest(t)
	file := filepath.Join(t.TempDir(), "Test Song - Test Artist.m4a")
	if err := os.WriteFile(file, make([]byte, 2048), 0o644); err != nil {
		t.Fatal(err)
	}

	var _ download.Recorder = lib
	err := lib.Record(ctx, download.Result{VideoID: "abc123", Path: file, Title: "Test Song", Artist: "Test Artist", Format: "m4a", TagError: "ffmpeg not found"})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	tracks, err := lib.List(ctx, 0, 0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("expected 1 track, got %d", len(tracks))
	}
	got := tracks[0]
	if got.VideoID != "abc123" || got.FileSize != 2048 || got.TagError != "ffmpeg not found" {
		t.Fatalf("unexpected track: %+v", got)
	}
}

func TestScanReconciles(t *testing.T) {
	ctx := context.Background()
	lib := openTest(t)
	dir := t.TempDir()

	for _, name := range []string{"One - Artist A.m4a", "Two - Artist B (1).mp3", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := lib.Upsert(ctx, Track{FilePath: filepath.Join(dir, "Gone - Nobody.m4a")}); err != nil {
		t.Fatal(err)
	}

	report, err := lib.Scan(ctx, dir)
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if report.Added != 2 || report.Removed != 1 || report.Total != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}

	tracks, err := lib.List(ctx, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	byTitle := map[string]Track{}
	for _, tr := range tracks {
		byTitle[tr.Title] = tr
	}
	if byTitle["Two"].Artist != "Artist B" || byTitle["Two"].Format != "mp3" || byTitle["Two"].Source != "scan" {
		t.Fatalf("unexpected scanned track: %+v", byTitle["Two"])
	}
	if byTitle["One"].Artist != "Artist A" {
		t.Fatalf("unexpected scanned track: %+v", byTitle["One"])
	}

	again, err := lib.Scan(ctx, dir)
	if err != nil {
		t.Fatal(err)
	}
	if again.Added != 0 || again.Removed != 0 {
		t.Fatalf("second scan should be a no-op, got %+v", again)
	}
}

func TestSplitFileName(t *testing.T) {
	tests := []struct{ in, title, artist string }{
		{"Song - Artist.m4a", "Song", "Artist"},
		{"Song - 2011 Remaster - Artist.m4a", "Song - 2011 Remaster", "Artist"},
		{"Song - Artist (3).m4a", "Song", "Artist"},
		{"Song (Live).mp3", "Song (Live)", ""},
	}
	for _, tt := range tests {
		title, artist := splitFileName(tt.in)
		if title != tt.title || artist != tt.artist {
			t.Errorf("splitFileName(%q) = %q, %q; want %q, %q", tt.in, title, artist, tt.title, tt.artist)
		}
	}
}
