package download

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/httpx"
)

const (
	partSuffix   = ".part"
	resumeSuffix = ".resume"
)

// checkpointInterval is how many bytes are written between synced resume
// checkpoints, so a killed process loses at most this much.
var checkpointInterval int64 = 4 << 20

// resumeState is persisted next to the part file. Key identifies the
// rendition independently of the signed URL, which changes on every
// stream lookup.
type resumeState struct {
	URL          string `json:"url"`
	Key          string `json:"key,omitempty"`
	BytesWritten int64  `json:"bytes_written"`
}

func (s resumeState) matches(url, key string) bool {
	if key != "" && s.Key != "" {
		return s.Key == key
	}
	return s.URL == url
}

type source struct {
	URL string
	// Key is a stable identity for the bytes behind URL, e.g. "videoID/itag".
	Key string
	// Size is the length reported by the catalog, used when the server
	// sends none.
	Size int64
}

// transfer downloads src into dest through dest.part, resuming from an
// earlier attempt when dest.resume describes the same source. On failure the
// part and resume files are kept.
func transfer(ctx context.Context, client *retryablehttp.Client, src source, dest string, pw *progressWriter) (int64, error) {
	partPath := dest + partSuffix
	resumePath := dest + resumeSuffix

	offset := int64(0)
	if state, err := loadResume(resumePath); err == nil && state.matches(src.URL, src.Key) {
		if info, statErr := os.Stat(partPath); statErr == nil {
			offset = min(info.Size(), state.BytesWritten)
		}
	}

	for attempt := 0; attempt < 2; attempt++ {
		written, restart, err := transferFrom(ctx, client, src, partPath, resumePath, offset, pw)
		if restart {
			offset = 0
			continue
		}
		if err != nil {
			return written, err
		}
		if err := os.Rename(partPath, dest); err != nil {
			return written, failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("renaming output: %w", err))
		}
		_ = os.Remove(resumePath)
		return written, nil
	}
	return 0, failure.Wrap(failure.CategoryNetwork, errors.New("server rejected resume range twice"))
}

// transferFrom performs one GET starting at offset. restart is true when the
// server cannot serve the requested range and the caller should start over.
func transferFrom(ctx context.Context, client *retryablehttp.Client, src source, partPath, resumePath string, offset int64, pw *progressWriter) (total int64, restart bool, err error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return 0, false, failure.Wrap(failure.CategoryNetwork, err)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, false, ctx.Err()
		}
		return 0, false, failure.Wrap(failure.CategoryNetwork, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusRequestedRangeNotSatisfiable && offset > 0:
		_ = os.Remove(partPath)
		_ = os.Remove(resumePath)
		return 0, true, nil
	case resp.StatusCode == http.StatusOK && offset > 0:
		// Range ignored; the body is the whole file.
		offset = 0
	}
	if err := httpx.CheckStatus(resp); err != nil {
		return 0, false, failure.Wrap(failure.CategoryNetwork, err)
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset == 0 {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(partPath, flags, 0o644)
	if err != nil {
		return 0, false, failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("opening temp file: %w", err))
	}
	defer file.Close()
	// Bytes past the last checkpoint are unverified; drop them.
	if err := file.Truncate(offset); err != nil {
		return 0, false, failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("truncating temp file: %w", err))
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return 0, false, failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("seeking temp file: %w", err))
	}

	state := resumeState{URL: src.URL, Key: src.Key, BytesWritten: offset}
	if err := saveResume(resumePath, state); err != nil {
		return offset, false, err
	}

	pw.written = offset
	pw.expected = expectedSize(resp, offset, src.Size)
	pw.out.publish(pw.snapshot(false))

	cw := &checkpointWriter{file: file, path: resumePath, state: &state, every: checkpointInterval}
	_, copyErr := copyWithContext(ctx, io.MultiWriter(cw, pw), resp.Body)
	if err := cw.checkpoint(); err != nil && copyErr == nil {
		return state.BytesWritten, false, err
	}
	if copyErr != nil {
		if ctx.Err() != nil {
			return state.BytesWritten, false, ctx.Err()
		}
		return state.BytesWritten, false, failure.Wrap(failure.CategoryNetwork, fmt.Errorf("download interrupted at %s: %w", humanize.IBytes(uint64(state.BytesWritten)), copyErr))
	}
	if pw.expected > 0 && state.BytesWritten < pw.expected {
		return state.BytesWritten, false, failure.Wrap(failure.CategoryNetwork,
			fmt.Errorf("short body: got %s of %s", humanize.IBytes(uint64(state.BytesWritten)), humanize.IBytes(uint64(pw.expected))))
	}
	if err := file.Close(); err != nil {
		return state.BytesWritten, false, failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("closing temp file: %w", err))
	}
	return state.BytesWritten, false, nil
}

// checkpointWriter writes into the part file and persists the resume state
// every `every` bytes, syncing the data first so the recorded offset never
// runs ahead of what is on disk.
type checkpointWriter struct {
	file  *os.File
	path  string
	state *resumeState
	every int64
	since int64
}

func (w *checkpointWriter) Write(b []byte) (int, error) {
	n, err := w.file.Write(b)
	w.state.BytesWritten += int64(n)
	w.since += int64(n)
	if err != nil {
		return n, err
	}
	if w.every > 0 && w.since >= w.every {
		if err := w.checkpoint(); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (w *checkpointWriter) checkpoint() error {
	w.since = 0
	if err := w.file.Sync(); err != nil {
		return failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("syncing temp file: %w", err))
	}
	return saveResume(w.path, *w.state)
}

// expectedSize reads the full length from Content-Range when the response
// is partial, falling back to offset plus Content-Length, then the catalog
// size.
func expectedSize(resp *http.Response, offset, fallback int64) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if i := strings.LastIndex(cr, "/"); i >= 0 {
				if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
					return n
				}
			}
		}
	}
	if resp.ContentLength >= 0 {
		return offset + resp.ContentLength
	}
	if fallback > 0 {
		return fallback
	}
	return 0
}

func loadResume(path string) (resumeState, error) {
	file, err := os.Open(path)
	if err != nil {
		return resumeState{}, err
	}
	defer file.Close()
	var state resumeState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return resumeState{}, err
	}
	return state, nil
}

func saveResume(path string, state resumeState) error {
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("saving resume state: %w", err))
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("saving resume state: %w", err))
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return failure.Wrap(failure.CategoryFilesystem, fmt.Errorf("saving resume state: %w", err))
	}
	return nil
}
