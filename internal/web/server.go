// Package web serves the HTTP API behind `tunefetch serve`.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lvcoi/tunefetch/internal/app"
	"github.com/lvcoi/tunefetch/internal/discover"
	"github.com/lvcoi/tunefetch/internal/download"
	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/library"
	"github.com/lvcoi/tunefetch/internal/logger"
	"github.com/lvcoi/tunefetch/internal/resolver"
	"github.com/lvcoi/tunefetch/internal/stream"
	"github.com/lvcoi/tunefetch/internal/ws"
)

const maxRequestBodyBytes = 1 << 20 // 1 MiB

const (
	defaultListLimit   = 50
	maxListLimit       = 500
	maxJobQueries      = 100
	defaultJobTTL      = 15 * time.Minute
	jobCleanupInterval = time.Minute
	requestTimeout     = 30 * time.Second
)

// Pipeline runs queries through resolution and download. *app.Service
// satisfies it.
type Pipeline interface {
	Resolve(ctx context.Context, q resolver.Query, p *app.Pipeline) (resolver.ResolvedTrack, error)
	Download(ctx context.Context, q resolver.Query, p *app.Pipeline, onProgress func(download.Progress)) (download.Result, error)
}

type StreamSelector interface {
	Select(ctx context.Context, videoID string) (stream.Info, error)
}

type Discoverer interface {
	Search(ctx context.Context, term string, limit int) ([]discover.Hit, error)
}

type Library interface {
	List(ctx context.Context, limit, offset int) ([]library.Track, error)
	Count(ctx context.Context) (int, error)
	Delete(ctx context.Context, id int64) (library.Track, error)
}

// Options configures a Server. Discover and Library may be nil; their
// routes then answer 503.
type Options struct {
	Pipeline      Pipeline
	Streams       StreamSelector
	Discover      Discoverer
	Library       Library
	Jobs          int
	JobTTL        time.Duration
	DiscoverLimit int
	Logger        *slog.Logger
}

type Server struct {
	opts    Options
	jobs    *jobTracker
	hub     *ws.Hub
	log     *slog.Logger
	started time.Time
	base    context.Context
}

func New(opts Options) *Server {
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	if opts.JobTTL <= 0 {
		opts.JobTTL = defaultJobTTL
	}
	if opts.DiscoverLimit <= 0 {
		opts.DiscoverLimit = 10
	}
	log := logger.OrDiscard(opts.Logger).With("component", "web")
	return &Server{
		opts:    opts,
		jobs:    &jobTracker{},
		hub:     ws.NewHub(log),
		log:     log,
		started: time.Now(),
		base:    context.Background(),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)
	r.Use(withSecurityHeaders)

	r.Get("/ws", s.hub.HandleWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/status", s.handleStatus)
		r.Get("/resolve", s.handleResolve)
		r.Get("/stream/{videoID}", s.handleStream)
		r.Get("/discover", s.handleDiscover)
		r.Post("/downloads", s.handleCreateDownload)
		r.Get("/downloads/{id}", s.handleGetDownload)
		r.Get("/library", s.handleListLibrary)
		r.Delete("/library/{id}", s.handleDeleteLibrary)
	})
	return r
}

// ListenAndServe serves until ctx is done, then shuts down gracefully and
// cancels running jobs.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.base = ctx
	s.jobs.StartCleanup(ctx, jobCleanupInterval, s.opts.JobTTL, s.opts.JobTTL)
	go s.hub.Run(ctx)

	server := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", addr)
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.jobs.CancelAll()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) *requestError {
	ct := r.Header.Get("Content-Type")
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "application/json" {
		return &requestError{http.StatusUnsupportedMediaType, "content type must be application/json"}
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{http.StatusRequestEntityTooLarge, "request body too large"}
		}
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	if err := dec.Decode(new(struct{})); err != io.EOF {
		return &requestError{http.StatusBadRequest, "invalid JSON payload"}
	}
	return nil
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Type     string           `json:"type"`
	Error    string           `json:"error"`
	Category failure.Category `json:"category,omitempty"`
	Code     int              `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Type: "error", Error: message})
}

// writeFailure maps err's category onto an HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	category := failure.CategoryOf(err)
	writeJSON(w, statusFor(category), ErrorResponse{
		Type:     "error",
		Error:    err.Error(),
		Category: category,
		Code:     failure.ExitCode(err),
	})
}

func statusFor(category failure.Category) int {
	switch category {
	case failure.CategoryInvalidInput:
		return http.StatusBadRequest
	case failure.CategoryNotFound:
		return http.StatusNotFound
	case failure.CategoryNoAudio:
		return http.StatusUnprocessableEntity
	case failure.CategoryClientInit:
		return http.StatusServiceUnavailable
	case failure.CategoryNetwork:
		return http.StatusBadGateway
	case failure.CategoryInterrupted:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func withSecurityHeaders(next http.Handler) http.Handler {
	const cspValue = "default-src 'none'; frame-ancestors 'none'"

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", cspValue)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

func parseListPagination(r *http.Request) (offset int, limit int, err error) {
	offset = 0
	limit = defaultListLimit

	q := r.URL.Query()
	if rawOffset := q.Get("offset"); rawOffset != "" {
		parsed, parseErr := strconv.Atoi(rawOffset)
		if parseErr != nil || parsed < 0 {
			return 0, 0, fmt.Errorf("invalid offset parameter")
		}
		offset = parsed
	}
	if rawLimit := q.Get("limit"); rawLimit != "" {
		parsed, parseErr := strconv.Atoi(rawLimit)
		if parseErr != nil || parsed <= 0 {
			return 0, 0, fmt.Errorf("invalid limit parameter")
		}
		if parsed > maxListLimit {
			parsed = maxListLimit
		}
		limit = parsed
	}
	return offset, limit, nil
}
