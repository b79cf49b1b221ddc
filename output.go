package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/failure"
)

// errReported marks a failure whose details were already printed.
var errReported = errors.New("already reported")

type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }
func (e exitError) Unwrap() error { return errReported }

func exitCodeOf(err error) int {
	var ee exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeJSONError(w io.Writer, cmd string, err error) {
	payload := struct {
		Type     string `json:"type"`
		Command  string `json:"command,omitempty"`
		Category string `json:"category"`
		Code     int    `json:"code"`
		Error    string `json:"error"`
	}{
		Type:     "error",
		Command:  cmd,
		Category: string(failure.CategoryOf(err)),
		Code:     failure.ExitCode(err),
		Error:    err.Error(),
	}
	printJSON(w, payload)
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFE66D"))

func renderTable(w io.Writer, headers []string, rows [][]string) {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers(headers...).
		Rows(rows...)
	fmt.Fprintln(w, t.String())
}

// searchRow flattens a raw catalog result for display.
type searchRow struct {
	Kind   string `json:"kind"`
	ID     string `json:"id,omitempty"`
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Items  int    `json:"items,omitempty"`
}

func describe(raw catalog.RawResult) searchRow {
	switch r := raw.(type) {
	case catalog.Song:
		return searchRow{Kind: "song", ID: r.ID, Title: r.Title, Artist: artistOr(r.Artists, r.Author)}
	case catalog.Video:
		return searchRow{Kind: "video", ID: r.ID, Title: r.Title, Artist: artistOr(r.Artists, r.Author)}
	case catalog.Album:
		kind := "album"
		if r.EP {
			kind = "ep"
		}
		return searchRow{Kind: kind, ID: r.ID, Title: r.Title, Artist: catalog.FirstArtistName(r.Artists)}
	case catalog.Playlist:
		return searchRow{Kind: "playlist", ID: r.ID, Title: r.Title, Artist: r.Author}
	case catalog.ListItem:
		return searchRow{Kind: string(r.ItemType), ID: r.ID, Title: r.Title, Artist: artistOr(r.Artists, r.Author)}
	case catalog.Shelf:
		return searchRow{Kind: "shelf", Title: r.Title, Items: len(r.Contents)}
	case catalog.CardShelf:
		return searchRow{Kind: "card", ID: r.OnTapVideoID, Title: r.Title, Items: len(r.Contents)}
	case catalog.Unknown:
		return searchRow{Kind: "unknown", Title: r.Type}
	default:
		return searchRow{Kind: string(raw.Tag())}
	}
}

func artistOr(artists []catalog.Artist, author string) string {
	if name := catalog.FirstArtistName(artists); name != "" {
		return name
	}
	return author
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
