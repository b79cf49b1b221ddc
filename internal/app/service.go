// Package app wires resolution, stream selection, download and playback
// into the runs the CLI and HTTP server expose.
package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/lvcoi/tunefetch/internal/download"
	"github.com/lvcoi/tunefetch/internal/failure"
	"github.com/lvcoi/tunefetch/internal/logger"
	"github.com/lvcoi/tunefetch/internal/player"
	"github.com/lvcoi/tunefetch/internal/resolver"
	"github.com/lvcoi/tunefetch/internal/stream"
)

type Resolver interface {
	Resolve(ctx context.Context, q resolver.Query) (resolver.ResolvedTrack, error)
}

type StreamSelector interface {
	Select(ctx context.Context, videoID string) (stream.Info, error)
}

type Downloader interface {
	DownloadTrack(ctx context.Context, req download.Request, onProgress func(download.Progress)) (download.Result, error)
}

type Player interface {
	Start(ctx context.Context, url string) (*player.Session, error)
}

// Service runs queries through the pipeline states. Any dependency may be
// nil when the corresponding run is never used.
type Service struct {
	Resolver  Resolver
	Streams   StreamSelector
	Downloads Downloader
	Player    Player
	Log       *slog.Logger
}

// Ready is a resolved track with its chosen stream.
type Ready struct {
	Track  resolver.ResolvedTrack `json:"track"`
	Stream stream.Info            `json:"stream"`
}

func (s *Service) log() *slog.Logger { return logger.OrDiscard(s.Log) }

// Resolve moves p from Idle to Found or NotFound.
func (s *Service) Resolve(ctx context.Context, q resolver.Query, p *Pipeline) (resolver.ResolvedTrack, error) {
	if err := p.To(StateSearching); err != nil {
		return resolver.ResolvedTrack{}, err
	}
	track, err := s.Resolver.Resolve(ctx, q)
	if err != nil {
		if errors.Is(err, failure.ErrNotFound) {
			_ = p.To(StateNotFound)
		} else {
			_ = p.Fail(err)
		}
		return resolver.ResolvedTrack{}, err
	}
	_ = p.To(StateFound)
	return track, nil
}

// Prepare resolves q and selects its stream, ending in StreamReady.
func (s *Service) Prepare(ctx context.Context, q resolver.Query, p *Pipeline) (Ready, error) {
	track, err := s.Resolve(ctx, q, p)
	if err != nil {
		return Ready{}, err
	}
	if err := p.To(StateFetchingStream); err != nil {
		return Ready{}, err
	}
	info, err := s.Streams.Select(ctx, track.VideoID)
	if err != nil {
		if errors.Is(err, failure.ErrNoAudioAvailable) {
			_ = p.To(StateNoAudio)
		} else {
			_ = p.Fail(err)
		}
		return Ready{}, err
	}
	_ = p.To(StateStreamReady)
	return Ready{Track: track, Stream: info}, nil
}

// Download resolves q and saves it, ending in Finished or Failed.
func (s *Service) Download(ctx context.Context, q resolver.Query, p *Pipeline, onProgress func(download.Progress)) (download.Result, error) {
	ready, err := s.Prepare(ctx, q, p)
	if err != nil {
		return download.Result{}, err
	}
	if err := p.To(StateDownloading); err != nil {
		return download.Result{}, err
	}
	res, err := s.Downloads.DownloadTrack(ctx, download.Request{
		VideoID: ready.Track.VideoID,
		Title:   ready.Track.Title,
		Artist:  ready.Track.ArtistName(),
		Album:   ready.Track.AlbumTitle,
		Stream:  &ready.Stream,
	}, onProgress)
	if err != nil {
		_ = p.Fail(err)
		return download.Result{}, err
	}
	_ = p.To(StateFinished)
	return res, nil
}

// Play resolves q and starts playback. p reaches Finished or Failed when
// the session ends.
func (s *Service) Play(ctx context.Context, q resolver.Query, p *Pipeline) (*player.Session, Ready, error) {
	ready, err := s.Prepare(ctx, q, p)
	if err != nil {
		return nil, Ready{}, err
	}
	if err := p.To(StatePlaying); err != nil {
		return nil, Ready{}, err
	}
	session, err := s.Player.Start(ctx, ready.Stream.URL)
	if err != nil {
		_ = p.Fail(err)
		return nil, Ready{}, err
	}
	go func() {
		<-session.Done()
		if err := session.Err(); err != nil {
			s.log().Warn("playback ended with error", "video_id", ready.Track.VideoID, "error", err)
			_ = p.Fail(err)
			return
		}
		_ = p.To(StateFinished)
	}()
	return session, ready, nil
}
