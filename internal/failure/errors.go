// Package failure defines the error taxonomy shared by every tunefetch
// component and maps it onto process exit codes.
package failure

import (
	"context"
	"errors"
	"fmt"
)

type Category string

const (
	CategoryUnknown      Category = "unknown"
	CategoryInvalidInput Category = "invalid_input"
	CategoryNotFound     Category = "not_found"
	CategoryNoAudio      Category = "no_audio"
	CategoryClientInit   Category = "client_init"
	CategoryDownload     Category = "download"
	CategoryNetwork      Category = "network"
	CategoryFilesystem   Category = "filesystem"
	CategoryInterrupted  Category = "interrupted"
)

var (
	// ErrNotFound reports that no candidate resolved to a playable track.
	// It is an expected outcome, not a malfunction.
	ErrNotFound = errors.New("no matching track found")

	ErrNoAudioAvailable = errors.New("no audio renditions available")
)

// CategorizedError attaches a category to an arbitrary error.
type CategorizedError struct {
	Category Category
	Err      error
}

func (e CategorizedError) Error() string {
	if e.Err == nil {
		return string(e.Category)
	}
	return e.Err.Error()
}

func (e CategorizedError) Unwrap() error {
	return e.Err
}

// Wrap tags err with category. A nil err stays nil.
func Wrap(category Category, err error) error {
	if err == nil {
		return nil
	}
	return CategorizedError{Category: category, Err: err}
}

// ClientInitError means the catalog session could not be established.
// Callers may retry later.
type ClientInitError struct {
	Err error
}

func (e *ClientInitError) Error() string {
	return fmt.Sprintf("catalog session init failed: %v", e.Err)
}

func (e *ClientInitError) Unwrap() error { return e.Err }

// NoAudioError is fatal for the stream or download attempt it came from.
type NoAudioError struct {
	VideoID string
}

func (e *NoAudioError) Error() string {
	return fmt.Sprintf("%s: %v", e.VideoID, ErrNoAudioAvailable)
}

func (e *NoAudioError) Unwrap() error { return ErrNoAudioAvailable }

// DownloadError reports a transfer that did not produce a final file.
type DownloadError struct {
	VideoID string
	Path    string
	Err     error
}

func (e *DownloadError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("download %s to %s: %v", e.VideoID, e.Path, e.Err)
	}
	return fmt.Sprintf("download %s: %v", e.VideoID, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// CategoryOf walks the chain of err and returns the most specific category.
func CategoryOf(err error) Category {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.Canceled) {
		return CategoryInterrupted
	}
	var initErr *ClientInitError
	if errors.As(err, &initErr) {
		return CategoryClientInit
	}
	var dlErr *DownloadError
	if errors.As(err, &dlErr) {
		return CategoryDownload
	}
	if errors.Is(err, ErrNoAudioAvailable) {
		return CategoryNoAudio
	}
	if errors.Is(err, ErrNotFound) {
		return CategoryNotFound
	}
	var catErr CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}
	return CategoryUnknown
}

// ExitCode maps err onto the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch CategoryOf(err) {
	case CategoryInvalidInput:
		return 2
	case CategoryNotFound:
		return 3
	case CategoryNoAudio:
		return 4
	case CategoryClientInit:
		return 5
	case CategoryDownload:
		return 6
	case CategoryNetwork:
		return 7
	case CategoryFilesystem:
		return 8
	case CategoryInterrupted:
		return 130
	default:
		return 1
	}
}
