// Package resolver turns a free-text title/artist query into a single
// playable catalog track.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/logger"
)

// DefaultCandidateLimit is how many search results are considered.
const DefaultCandidateLimit = 5

// SessionSource hands out the shared catalog session.
type SessionSource interface {
	Acquire(ctx context.Context) (catalog.Session, error)
}

type Resolver struct {
	sessions   SessionSource
	classifier *Classifier
	limit      int
	log        *slog.Logger
}

type Option func(*Resolver)

// WithCandidateLimit overrides DefaultCandidateLimit.
func WithCandidateLimit(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.limit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func New(sessions SessionSource, opts ...Option) *Resolver {
	r := &Resolver{sessions: sessions, limit: DefaultCandidateLimit}
	for _, opt := range opts {
		opt(r)
	}
	r.log = logger.OrDiscard(r.log).With("component", "resolver")
	r.classifier = NewClassifier(r.log)
	return r
}

// Resolve returns the first candidate, in rank order, that classifies to a
// playable track. It returns failure.ErrNotFound when none does. Candidates
// are tried one at a time so a match stops further catalog calls.
func (r *Resolver) Resolve(ctx context.Context, q Query) (ResolvedTrack, error) {
	if strings.TrimSpace(q.Title) == "" {
		return ResolvedTrack{}, failure.Wrap(failure.CategoryInvalidInput, errors.New("query title is required"))
	}

	session, err := r.sessions.Acquire(ctx)
	if err != nil {
		return ResolvedTrack{}, err
	}

	results, err := session.Search(ctx, q.String(), catalog.SearchOptions{Limit: r.limit})
	if err != nil {
		return ResolvedTrack{}, fmt.Errorf("searching %q: %w", q.String(), err)
	}
	if len(results) > r.limit {
		results = results[:r.limit]
	}
	r.log.Debug("candidates fetched", "query", q.String(), "count", len(results))

	var lookupErrs []error
	for i, raw := range results {
		if err := ctx.Err(); err != nil {
			return ResolvedTrack{}, err
		}
		track, ok, err := r.classifier.Classify(ctx, session, raw, q)
		if err != nil {
			if ctx.Err() != nil {
				return ResolvedTrack{}, ctx.Err()
			}
			r.log.Warn("candidate lookup failed", "rank", i+1, "tag", raw.Tag(), "error", err)
			lookupErrs = append(lookupErrs, err)
			continue
		}
		if ok {
			r.log.Info("track resolved", "query", q.String(), "rank", i+1, "video_id", track.VideoID, "source", track.Source)
			return track, nil
		}
	}

	if len(lookupErrs) > 0 {
		return ResolvedTrack{}, fmt.Errorf("no candidate for %q resolved: %w", q.String(), errors.Join(lookupErrs...))
	}
	return ResolvedTrack{}, fmt.Errorf("%q: %w", q.String(), failure.ErrNotFound)
}
