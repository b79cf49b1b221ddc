package player

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// When GO_WANT_MPV_HELPER is set the test binary stands in for mpv: it
// serves the IPC socket named on its command line with fakeMPV.
func TestMain(m *testing.M) {
	if os.Getenv("GO_WANT_MPV_HELPER") == "1" {
		runMPVHelper(os.Args[1:])
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func runMPVHelper(args []string) {
	var sock, media string
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--input-ipc-server="); ok {
			sock = v
		}
		if arg == "--" && i+1 < len(args) {
			media = args[i+1]
		}
	}
	ln, err := net.Listen("unix", sock)
	if err != nil {
		os.Exit(3)
	}
	defer ln.Close()
	conn, err := ln.Accept()
	if err != nil {
		os.Exit(3)
	}
	defer conn.Close()
	f := &fakeMPV{
		props: map[string]any{"pause": false, "time-pos": 1.0, "duration": 180.0, "path": media},
		quit:  make(chan struct{}),
	}
	f.serve(conn)
}

// fakeMPV answers IPC requests the way mpv does.
type fakeMPV struct {
	mu       sync.Mutex
	props    map[string]any
	commands [][]any
	quit     chan struct{}
}

func startFakeMPV(t *testing.T) (string, *fakeMPV) {
	t.Helper()
	// Unix socket paths are length limited, so avoid t.TempDir's long names.
	dir, err := os.MkdirTemp("", "mpvt")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "s")

	ln, err := net.Listen("unix", sock)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	f := &fakeMPV{
		props: map[string]any{"pause": false, "time-pos": 12.5, "duration": 245.0},
		quit:  make(chan struct{}),
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f.serve(conn)
	}()
	return sock, f
}

func (f *fakeMPV) serve(conn net.Conn) {
	_, _ = conn.Write([]byte(`{"event":"file-loaded"}` + "\n"))
	scanner := bufio.NewScanner(conn)
	enc := json.NewEncoder(conn)
	for scanner.Scan() {
		var req ipcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue
		}
		f.mu.Lock()
		f.commands = append(f.commands, req.Command)
		reply := map[string]any{"request_id": req.RequestID, "error": "success"}
		switch req.Command[0] {
		case "get_property":
			name := req.Command[1].(string)
			if v, ok := f.props[name]; ok {
				reply["data"] = v
			} else {
				reply["error"] = "property unavailable"
			}
		case "set_property":
			f.props[req.Command[1].(string)] = req.Command[2]
		case "cycle":
			f.props["pause"] = !f.props["pause"].(bool)
		case "quit":
			f.mu.Unlock()
			_ = enc.Encode(reply)
			close(f.quit)
			return
		}
		f.mu.Unlock()
		_ = enc.Encode(reply)
	}
}

func newTestSession(t *testing.T) (*Session, *fakeMPV, chan error) {
	t.Helper()
	sock, f := startFakeMPV(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := dialIPC(ctx, sock)
	require.NoError(t, err)

	exited := make(chan error, 1)
	go func() {
		<-f.quit
		exited <- nil
	}()
	killed := make(chan error, 1)
	s := newSession(client, exited, func() error { killed <- nil; return nil }, nil)
	return s, f, killed
}

func TestSessionControls(t *testing.T) {
	s, f, _ := newTestSession(t)
	ctx := context.Background()

	pos, err := s.Position(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12500*time.Millisecond, pos)

	dur, err := s.Duration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 245*time.Second, dur)

	require.NoError(t, s.Pause(ctx))
	paused, err := s.Paused(ctx)
	require.NoError(t, err)
	assert.True(t, paused)

	require.NoError(t, s.Toggle(ctx))
	paused, err = s.Paused(ctx)
	require.NoError(t, err)
	assert.False(t, paused)

	require.NoError(t, s.Resume(ctx))
	require.NoError(t, s.Stop())

	select {
	case <-s.Done():
	default:
		t.Fatal("Done should be closed after Stop")
	}
	assert.NoError(t, s.Err())

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "quit", f.commands[len(f.commands)-1][0])
}

func TestSessionUnavailablePropertyIsZero(t *testing.T) {
	s, f, _ := newTestSession(t)
	f.mu.Lock()
	delete(f.props, "duration")
	f.mu.Unlock()

	dur, err := s.Duration(context.Background())
	require.NoError(t, err)
	assert.Zero(t, dur)
	require.NoError(t, s.Stop())
}

func TestCommandAfterExit(t *testing.T) {
	s, _, _ := newTestSession(t)
	require.NoError(t, s.Stop())

	err := s.Pause(context.Background())
	assert.True(t, errors.Is(err, ErrClosed), "got %v", err)
}

func TestSessionReportsCrash(t *testing.T) {
	sock, _ := startFakeMPV(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := dialIPC(ctx, sock)
	require.NoError(t, err)

	crash := errors.New("exit status 2")
	exited := make(chan error, 1)
	exited <- crash
	s := newSession(client, exited, nil, nil)

	assert.Equal(t, crash, s.Wait(context.Background()))
}

func TestDialIPCTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err := dialIPC(ctx, filepath.Join(os.TempDir(), "tunefetch-missing.sock"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStartMissingBinary(t *testing.T) {
	p := New(Config{MPVPath: "definitely-not-mpv-binary"})
	_, err := p.Start(context.Background(), "https://example.com/a.m4a")
	assert.Error(t, err)
}

func TestStartPlaysLocalFile(t *testing.T) {
	t.Setenv("GO_WANT_MPV_HELPER", "1")
	media := filepath.Join(t.TempDir(), "Hello - Adele.m4a")
	require.NoError(t, os.WriteFile(media, []byte("audio"), 0o644))

	p := New(Config{MPVPath: os.Args[0], StartTimeout: 5 * time.Second})
	s, err := p.Start(context.Background(), media)
	require.NoError(t, err)

	raw, err := s.ipc.command(context.Background(), "get_property", "path")
	require.NoError(t, err)
	var path string
	require.NoError(t, json.Unmarshal(raw, &path))
	assert.Equal(t, media, path)

	dur, err := s.Duration(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 180*time.Second, dur)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Err())
}
