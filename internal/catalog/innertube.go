package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/httpx"
	"github.com/lvcoi/tunefetch/internal/logger"
)

// Search params understood by the YouTube Music search endpoint.
var filterParams = map[SearchFilter]string{
	FilterSongs:     "EgWKAQIIAWoMEAMQBBAJEA4QChAF",
	FilterVideos:    "EgWKAQIQAWoMEAMQBBAJEA4QChAF",
	FilterAlbums:    "EgWKAQIYAWoMEAMQBBAJEA4QChAF",
	FilterPlaylists: "EgeKAQQoAEABagwQAxAEEAkQDhAKEAU=",
}

var ytcfgRe = regexp.MustCompile(`(?s)ytcfg\.set\((\{.*?\})\);`)

// Config configures the YouTube Music session.
type Config struct {
	BaseURL   string
	Timeout   time.Duration
	RetryMax  int
	RateLimit float64
	RateBurst int
	Language  string
	Region    string
	Logger    *slog.Logger

	// Transport overrides the shared HTTP transport.
	Transport http.RoundTripper
	// Player overrides the stream-info client.
	Player YouTubeClient
}

type musicSession struct {
	baseURL       string
	apiKey        string
	clientVersion string
	innerContext  map[string]any

	http    *retryablehttp.Client
	guard   *httpx.Guard
	limiter *rate.Limiter
	player  *playerAdapter
	log     *slog.Logger
}

// NewFactory returns a Factory that bootstraps a YouTube Music session.
func NewFactory(cfg Config) Factory {
	return func(ctx context.Context) (Session, error) {
		return NewSession(ctx, cfg)
	}
}

// NewSession fetches the innertube configuration from the YouTube Music web
// page and returns a session bound to it.
func NewSession(ctx context.Context, cfg Config) (Session, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://music.youtube.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := logger.OrDiscard(cfg.Logger).With("component", "catalog")

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	s := &musicSession{
		baseURL: cfg.BaseURL,
		http: httpx.NewClient(httpx.Options{
			Timeout:   cfg.Timeout,
			RetryMax:  cfg.RetryMax,
			UserAgent: httpx.MusicUserAgent,
			Base:      cfg.Transport,
		}),
		guard:   httpx.NewGuard("youtube-music"),
		limiter: rate.NewLimiter(limit, burst),
		log:     log,
	}

	if err := s.bootstrap(ctx, cfg.Language, cfg.Region); err != nil {
		return nil, err
	}

	player := cfg.Player
	if player == nil {
		player = newYouTubeClient(httpx.NewClient(httpx.Options{
			Timeout:  cfg.Timeout,
			RetryMax: cfg.RetryMax,
			Base:     cfg.Transport,
		}).StandardClient())
	}
	s.player = &playerAdapter{client: player, guard: httpx.NewGuard("youtube-player"), limiter: s.limiter}
	return s, nil
}

func (s *musicSession) bootstrap(ctx context.Context, hl, gl string) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/", nil)
	if err != nil {
		return err
	}
	// Skip the EU consent interstitial.
	req.Header.Set("Cookie", "CONSENT=YES+1")

	var body []byte
	err = s.guard.Do(func() error {
		resp, err := s.http.Do(req)
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
		return fmt.Errorf("fetching YouTube Music page: %w", err)
	}

	for _, match := range ytcfgRe.FindAllSubmatch(body, -1) {
		blob := match[1]
		if !gjson.ValidBytes(blob) {
			continue
		}
		key := gjson.GetBytes(blob, "INNERTUBE_API_KEY").String()
		ctxRaw := gjson.GetBytes(blob, "INNERTUBE_CONTEXT")
		if key == "" || !ctxRaw.IsObject() {
			continue
		}
		var inner map[string]any
		if err := json.Unmarshal([]byte(ctxRaw.Raw), &inner); err != nil {
			continue
		}
		if client, ok := inner["client"].(map[string]any); ok {
			if hl != "" {
				client["hl"] = hl
			}
			if gl != "" {
				client["gl"] = gl
			}
		}
		s.apiKey = key
		s.innerContext = inner
		s.clientVersion = gjson.GetBytes(blob, "INNERTUBE_CLIENT_VERSION").String()
		if s.clientVersion == "" {
			s.clientVersion = ctxRaw.Get("client.clientVersion").String()
		}
		s.log.Debug("innertube config loaded", "client_version", s.clientVersion)
		return nil
	}
	return errors.New("innertube config not found in YouTube Music page")
}

func (s *musicSession) post(ctx context.Context, endpoint string, payload map[string]any) ([]byte, error) {
	payload["context"] = s.innerContext
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	u := fmt.Sprintf("%s/youtubei/v1/%s?prettyPrint=false", s.baseURL, endpoint)
	if s.apiKey != "" {
		u += "&key=" + url.QueryEscape(s.apiKey)
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var body []byte
	err = s.guard.Do(func() error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(data))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", s.baseURL)
		req.Header.Set("X-Youtube-Client-Name", "67")
		if s.clientVersion != "" {
			req.Header.Set("X-Youtube-Client-Version", s.clientVersion)
		}
		resp, err := s.http.Do(req)
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
		return nil, failure.Wrap(failure.CategoryNetwork, fmt.Errorf("%s: %w", endpoint, err))
	}
	return body, nil
}

func (s *musicSession) Search(ctx context.Context, query string, opts SearchOptions) ([]RawResult, error) {
	payload := map[string]any{"query": query}
	if params, ok := filterParams[opts.Filter]; ok {
		payload["params"] = params
	}
	body, err := s.post(ctx, "search", payload)
	if err != nil {
		return nil, err
	}
	results := parseSearch(body, opts.Filter)
	if opts.Limit > 0 && len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	s.log.Debug("search complete", "query", query, "results", len(results))
	return results, nil
}

func (s *musicSession) Album(ctx context.Context, albumID string) ([]RawTrack, error) {
	body, err := s.post(ctx, "browse", map[string]any{"browseId": albumID})
	if err != nil {
		return nil, err
	}
	tracks := parseAlbum(body)
	s.log.Debug("album fetched", "album_id", albumID, "tracks", len(tracks))
	return tracks, nil
}

func (s *musicSession) StreamInfo(ctx context.Context, videoID string) (RawStreamInfo, error) {
	return s.player.StreamInfo(ctx, videoID)
}
