// Package catalog is the adapter over YouTube Music. It owns the lazily
// created catalog session and exposes search, album and stream lookups as
// typed values.
package catalog

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/logger"
)

// Session is a ready catalog handle. Implementations are safe for
// concurrent use.
type Session interface {
	Search(ctx context.Context, query string, opts SearchOptions) ([]RawResult, error)
	Album(ctx context.Context, albumID string) ([]RawTrack, error)
	StreamInfo(ctx context.Context, videoID string) (RawStreamInfo, error)
}

// Factory builds a new Session. It is called at most once at a time.
type Factory func(ctx context.Context) (Session, error)

// Provider memoizes the process-wide Session. Concurrent first callers
// share a single construction; a failed construction is not remembered so
// a later Acquire may try again.
type Provider struct {
	factory Factory
	log     *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	session Session
}

func NewProvider(factory Factory, log *slog.Logger) *Provider {
	return &Provider{factory: factory, log: logger.OrDiscard(log)}
}

// Acquire returns the shared Session, constructing it on first use.
// Construction is detached from ctx: a caller that gives up only stops
// waiting, it does not abort the construction other callers may share.
func (p *Provider) Acquire(ctx context.Context) (Session, error) {
	if s := p.current(); s != nil {
		return s, nil
	}

	ch := p.group.DoChan("session", func() (any, error) {
		if s := p.current(); s != nil {
			return s, nil
		}
		p.log.Debug("creating catalog session")
		s, err := p.factory(context.WithoutCancel(ctx))
		if err == nil && s == nil {
			err = errors.New("factory returned no session")
		}
		if err != nil {
			p.log.Warn("catalog session init failed", "error", err)
			return nil, &failure.ClientInitError{Err: err}
		}
		p.mu.Lock()
		p.session = s
		p.mu.Unlock()
		p.log.Debug("catalog session ready")
		return s, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		s, ok := res.Val.(Session)
		if !ok || s == nil {
			return nil, &failure.ClientInitError{Err: errors.New("factory returned no session")}
		}
		return s, nil
	}
}

// Prewarm starts construction in the background so the first real request
// does not pay for it. Errors are logged and retried on the next Acquire.
func (p *Provider) Prewarm(ctx context.Context) {
	go func() {
		if _, err := p.Acquire(ctx); err != nil {
			p.log.Debug("catalog prewarm failed", "error", err)
		}
	}()
}

func (p *Provider) current() Session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}
