// Package player plays a stream URL through an mpv child process and
// controls it over mpv's JSON IPC socket.
package player

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/lvcoi/tunefetch/internal/logger"
)

type Config struct {
	// MPVPath defaults to "mpv" on PATH.
	MPVPath string
	// ExtraArgs are appended before the URL.
	ExtraArgs []string
	// StartTimeout bounds how long Start waits for the IPC socket.
	StartTimeout time.Duration
	Logger       *slog.Logger
}

type Player struct {
	cfg Config
	log *slog.Logger
}

func New(cfg Config) *Player {
	if cfg.MPVPath == "" {
		cfg.MPVPath = "mpv"
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	return &Player{cfg: cfg, log: logger.OrDiscard(cfg.Logger).With("component", "player")}
}

// Start launches mpv on url, which may also be a local file path, and
// returns once the IPC socket answers.
// Cancelling ctx after Start returns stops playback.
func (p *Player) Start(ctx context.Context, url string) (*Session, error) {
	bin, err := exec.LookPath(p.cfg.MPVPath)
	if err != nil {
		return nil, fmt.Errorf("mpv not found: %w", err)
	}
	dir, err := os.MkdirTemp("", "tunefetch-mpv-")
	if err != nil {
		return nil, fmt.Errorf("creating ipc dir: %w", err)
	}
	sock := filepath.Join(dir, "mpv.sock")

	args := []string{
		"--no-video",
		"--no-terminal",
		"--really-quiet",
		"--idle=no",
		"--input-ipc-server=" + sock,
	}
	args = append(args, p.cfg.ExtraArgs...)
	args = append(args, "--", url)

	cmd := exec.Command(bin, args...)
	cmd.SysProcAttr = procAttr()
	if err := cmd.Start(); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("failed to start mpv: %w", err)
	}

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	dialCtx, cancel := context.WithTimeout(ctx, p.cfg.StartTimeout)
	defer cancel()
	ipcReady := make(chan struct{})
	var (
		client  *ipcClient
		dialErr error
	)
	go func() {
		defer close(ipcReady)
		client, dialErr = dialIPC(dialCtx, sock)
	}()

	select {
	case <-ipcReady:
	case err := <-exited:
		cancel()
		<-ipcReady
		if client != nil {
			client.Close()
		}
		os.RemoveAll(dir)
		return nil, fmt.Errorf("mpv exited before playback started: %w", exitError(err))
	}
	if dialErr != nil {
		_ = killProcess(cmd)
		<-exited
		os.RemoveAll(dir)
		return nil, dialErr
	}

	s := newSession(client, exited, func() error { return killProcess(cmd) }, func() { os.RemoveAll(dir) })
	context.AfterFunc(ctx, func() { _ = s.Stop() })
	p.log.Debug("mpv started", "pid", cmd.Process.Pid, "socket", sock)
	return s, nil
}

func exitError(err error) error {
	if err == nil {
		return errors.New("exit status 0")
	}
	return err
}

// Session controls one running mpv process.
type Session struct {
	ipc     *ipcClient
	kill    func() error
	cleanup func()

	done     chan struct{}
	exitErr  error
	stopOnce sync.Once
	stopping chan struct{}
}

func newSession(ipc *ipcClient, exited <-chan error, kill func() error, cleanup func()) *Session {
	s := &Session{
		ipc:      ipc,
		kill:     kill,
		cleanup:  cleanup,
		done:     make(chan struct{}),
		stopping: make(chan struct{}),
	}
	go func() {
		err := <-exited
		select {
		case <-s.stopping:
			err = nil
		default:
		}
		s.exitErr = err
		ipc.Close()
		if s.cleanup != nil {
			s.cleanup()
		}
		close(s.done)
	}()
	return s
}

// Done is closed when mpv exits. Err reports why afterwards.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err is nil when playback ended normally or was stopped.
func (s *Session) Err() error {
	<-s.done
	return s.exitErr
}

// Wait blocks until playback ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return s.exitErr
	}
}

func (s *Session) Pause(ctx context.Context) error {
	_, err := s.ipc.command(ctx, "set_property", "pause", true)
	return err
}

func (s *Session) Resume(ctx context.Context) error {
	_, err := s.ipc.command(ctx, "set_property", "pause", false)
	return err
}

func (s *Session) Toggle(ctx context.Context) error {
	_, err := s.ipc.command(ctx, "cycle", "pause")
	return err
}

func (s *Session) Paused(ctx context.Context) (bool, error) {
	raw, err := s.ipc.command(ctx, "get_property", "pause")
	if err != nil {
		return false, err
	}
	var paused bool
	err = json.Unmarshal(raw, &paused)
	return paused, err
}

// Position is the playback position. It is 0 before mpv knows it.
func (s *Session) Position(ctx context.Context) (time.Duration, error) {
	return s.seconds(ctx, "time-pos")
}

// Duration is the stream length. It is 0 before mpv knows it.
func (s *Session) Duration(ctx context.Context) (time.Duration, error) {
	return s.seconds(ctx, "duration")
}

// Seek moves the playback position by offset.
func (s *Session) Seek(ctx context.Context, offset time.Duration) error {
	_, err := s.ipc.command(ctx, "seek", offset.Seconds(), "relative")
	return err
}

func (s *Session) seconds(ctx context.Context, property string) (time.Duration, error) {
	raw, err := s.ipc.command(ctx, "get_property", property)
	if err != nil {
		// mpv reports "property unavailable" until the stream is loaded.
		if errors.Is(err, ErrClosed) || ctx.Err() != nil {
			return 0, err
		}
		return 0, nil
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err != nil {
		return 0, nil
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Stop asks mpv to quit and kills it if it has not exited within two
// seconds. It returns once the process is gone.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		close(s.stopping)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, _ = s.ipc.command(ctx, "quit")
		cancel()
		select {
		case <-s.done:
		case <-time.After(2 * time.Second):
			if s.kill != nil {
				_ = s.kill()
			}
		}
	})
	<-s.done
	return nil
}
