package web

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lvcoi/tunefetch/internal/app"
	"github.com/lvcoi/tunefetch/internal/download"
	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/library"
	"github.com/lvcoi/tunefetch/internal/resolver"
	"github.com/lvcoi/tunefetch/internal/ws"
)

type StatusResponse struct {
	Status     string `json:"status"`
	Uptime     string `json:"uptime"`
	ActiveJobs int    `json:"active_jobs"`
	Clients    int    `json:"clients"`
}

type ResolveResponse struct {
	Track resolver.ResolvedTrack `json:"track"`
	State app.State              `json:"state"`
}

type DownloadRequest struct {
	Queries []resolver.Query `json:"queries"`
}

type LibraryResponse struct {
	Items      []library.Track `json:"items"`
	Total      int             `json:"total"`
	NextOffset *int            `json:"next_offset"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{
		Status:     "ok",
		Uptime:     time.Since(s.started).Round(time.Second).String(),
		ActiveJobs: s.jobs.ActiveCount(),
		Clients:    s.hub.Clients(),
	})
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	q := resolver.Query{
		Title:  strings.TrimSpace(r.URL.Query().Get("title")),
		Artist: strings.TrimSpace(r.URL.Query().Get("artist")),
	}
	if q.Title == "" {
		writeJSONError(w, http.StatusBadRequest, "title is required")
		return
	}
	p := app.NewPipeline(nil)
	track, err := s.opts.Pipeline.Resolve(r.Context(), q, p)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ResolveResponse{Track: track, State: p.State()})
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	if strings.TrimSpace(videoID) == "" {
		writeJSONError(w, http.StatusBadRequest, "video id is required")
		return
	}
	info, err := s.opts.Streams.Select(r.Context(), videoID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	if s.opts.Discover == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "discover is not configured")
		return
	}
	term := strings.TrimSpace(r.URL.Query().Get("term"))
	if term == "" {
		writeJSONError(w, http.StatusBadRequest, "term is required")
		return
	}
	limit := s.opts.DiscoverLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 200 {
			writeJSONError(w, http.StatusBadRequest, "invalid limit parameter")
			return
		}
		limit = parsed
	}
	hits, err := s.opts.Discover.Search(r.Context(), term, limit)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": hits})
}

func (s *Server) handleCreateDownload(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if reqErr := decodeJSONBody(w, r, &req); reqErr != nil {
		writeJSONError(w, reqErr.status, reqErr.message)
		return
	}
	if len(req.Queries) == 0 {
		writeJSONError(w, http.StatusBadRequest, "at least one query is required")
		return
	}
	if len(req.Queries) > maxJobQueries {
		writeJSONError(w, http.StatusBadRequest, "too many queries")
		return
	}
	for i := range req.Queries {
		req.Queries[i].Title = strings.TrimSpace(req.Queries[i].Title)
		req.Queries[i].Artist = strings.TrimSpace(req.Queries[i].Artist)
		if req.Queries[i].Title == "" {
			writeJSONError(w, http.StatusBadRequest, "every query needs a title")
			return
		}
	}

	job := s.jobs.Create(req.Queries)
	ctx, cancel := context.WithCancel(s.base)
	job.setCancel(cancel)
	go func() {
		defer cancel()
		s.runJob(ctx, job)
	}()

	writeJSON(w, http.StatusAccepted, job.Snapshot())
}

func (s *Server) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	job, ok := s.jobs.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSONError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	if s.opts.Library == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "library is not configured")
		return
	}
	offset, limit, err := parseListPagination(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	items, err := s.opts.Library.List(r.Context(), limit, offset)
	if err != nil {
		writeFailure(w, err)
		return
	}
	total, err := s.opts.Library.Count(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp := LibraryResponse{Items: items, Total: total}
	if resp.Items == nil {
		resp.Items = []library.Track{}
	}
	if next := offset + len(items); next < total {
		resp.NextOffset = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteLibrary(w http.ResponseWriter, r *http.Request) {
	if s.opts.Library == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "library is not configured")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid track id")
		return
	}
	track, err := s.opts.Library.Delete(r.Context(), id)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "track not found")
			return
		}
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// runJob downloads every query of job and pushes its progress to the hub.
func (s *Server) runJob(ctx context.Context, job *Job) {
	job.SetStatus(statusRunning)
	s.hub.Broadcast(ws.Message{Type: ws.TypeJob, Payload: ws.JobPayload{JobID: job.ID, Status: statusRunning}})

	results, exitCode := app.RunBatch(ctx, job.Queries, s.opts.Jobs, func(ctx context.Context, q resolver.Query) (app.Result, error) {
		p := app.NewPipeline(func(t app.Transition) {
			s.hub.Broadcast(ws.Message{Type: ws.TypeJob, Payload: ws.JobPayload{
				JobID:  job.ID,
				Status: statusRunning,
				State:  string(t.To),
			}})
		})
		res, err := s.opts.Pipeline.Download(ctx, q, p, func(pr download.Progress) {
			s.hub.Broadcast(ws.Message{Type: ws.TypeProgress, Payload: ws.ProgressPayload{
				JobID:         job.ID,
				VideoID:       pr.VideoID,
				BytesWritten:  pr.BytesWritten,
				BytesExpected: pr.BytesExpected,
				Percent:       pr.Fraction() * 100,
				Done:          pr.Done,
			}})
		})
		if err != nil {
			s.hub.Broadcast(ws.Message{Type: ws.TypeError, Payload: ws.ErrorPayload{
				JobID:    job.ID,
				Message:  err.Error(),
				Category: string(failure.CategoryOf(err)),
				Code:     failure.ExitCode(err),
			}})
			return app.Result{}, err
		}
		return app.Result{VideoID: res.VideoID, Path: res.Path}, nil
	})

	status := job.SetOutcome(results, exitCode)
	s.log.Info("job finished", "job_id", job.ID, "status", status, "exit_code", exitCode, "queries", len(job.Queries))
	s.hub.Broadcast(ws.Message{Type: ws.TypeJob, Payload: ws.JobPayload{JobID: job.ID, Status: status}})
}
