// Package discover searches the iTunes catalog for song suggestions that can
// be fed to the resolver.
package discover

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/httpx"
	"github.com/lvcoi/tunefetch/internal/logger"
	"github.com/lvcoi/tunefetch/internal/resolver"
)

const (
	DefaultBaseURL = "https://itunes.apple.com/search"
	DefaultLimit   = 20
	maxLimit       = 200
)

// Hit is one song suggestion.
type Hit struct {
	TrackName      string        `json:"trackName"`
	ArtistName     string        `json:"artistName"`
	CollectionName string        `json:"collectionName,omitempty"`
	ArtworkURL     string        `json:"artworkUrl,omitempty"`
	PreviewURL     string        `json:"previewUrl,omitempty"`
	Duration       time.Duration `json:"duration"`
}

// Query turns the hit into a resolver query.
func (h Hit) Query() resolver.Query {
	return resolver.Query{Title: h.TrackName, Artist: h.ArtistName}
}

type Config struct {
	BaseURL  string
	Limit    int
	Timeout  time.Duration
	RetryMax int
	// Transport overrides the shared transport, mostly for tests.
	Transport http.RoundTripper
	Logger    *slog.Logger
}

type Client struct {
	baseURL string
	limit   int
	http    *retryablehttp.Client
	guard   *httpx.Guard
	log     *slog.Logger
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Client{
		baseURL: cfg.BaseURL,
		limit:   cfg.Limit,
		http:    httpx.NewClient(httpx.Options{Timeout: cfg.Timeout, RetryMax: cfg.RetryMax, Base: cfg.Transport}),
		guard:   httpx.NewGuard("itunes-search"),
		log:     logger.OrDiscard(cfg.Logger).With("component", "discover"),
	}
}

// Search returns up to limit songs matching term. A non-positive limit uses
// the configured default.
func (c *Client) Search(ctx context.Context, term string, limit int) ([]Hit, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, failure.Wrap(failure.CategoryInvalidInput, errors.New("search term is required"))
	}
	if limit <= 0 {
		limit = c.limit
	}
	limit = min(limit, maxLimit)

	params := url.Values{}
	params.Set("term", term)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("media", "music")
	params.Set("entity", "song")

	var body []byte
	err := c.guard.Do(func() error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if err := httpx.CheckStatus(resp); err != nil {
			return err
		}
		defer resp.Body.Close()
		body, err = io.ReadAll(resp.Body)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, failure.Wrap(failure.CategoryNetwork, fmt.Errorf("itunes search: %w", err))
	}
	if !gjson.ValidBytes(body) {
		return nil, failure.Wrap(failure.CategoryNetwork, errors.New("itunes search: malformed response"))
	}

	hits := parseHits(body)
	c.log.Debug("discover search", "term", term, "hits", len(hits))
	return hits, nil
}

func parseHits(body []byte) []Hit {
	var hits []Hit
	gjson.GetBytes(body, "results").ForEach(func(_, r gjson.Result) bool {
		if kind := r.Get("kind").String(); kind != "" && kind != "song" {
			return true
		}
		name := r.Get("trackName").String()
		if name == "" {
			return true
		}
		hits = append(hits, Hit{
			TrackName:      name,
			ArtistName:     r.Get("artistName").String(),
			CollectionName: r.Get("collectionName").String(),
			ArtworkURL:     firstString(r, "artworkUrl100", "artworkUrl60", "artworkUrl30"),
			PreviewURL:     r.Get("previewUrl").String(),
			Duration:       time.Duration(r.Get("trackTimeMillis").Int()) * time.Millisecond,
		})
		return true
	})
	return hits
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p).String(); v != "" {
			return v
		}
	}
	return ""
}
