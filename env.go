package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/pflag"

	"github.com/lvcoi/tunefetch/internal/app"
	"github.com/lvcoi/tunefetch/internal/catalog"
	"github.com/lvcoi/tunefetch/internal/config"
	"github.com/lvcoi/tunefetch/internal/discover"
	"github.com/lvcoi/tunefetch/internal/download"
	"github.com/lvcoi/tunefetch/internal/httpx"
	"github.com/lvcoi/tunefetch/internal/library"
	"github.com/lvcoi/tunefetch/internal/logger"
	"github.com/lvcoi/tunefetch/internal/player"
	"github.com/lvcoi/tunefetch/internal/resolver"
	"github.com/lvcoi/tunefetch/internal/stream"
)

type globalFlags struct {
	config string
	json   bool
	quiet  bool
}

// addGlobalFlags registers the flags every command accepts. The ones named
// in config's flag table override the matching configuration keys.
func addGlobalFlags(fs *pflag.FlagSet) *globalFlags {
	g := &globalFlags{}
	fs.StringVarP(&g.config, "config", "c", "", "config file (.ini, .yaml, .toml or .json)")
	fs.BoolVar(&g.json, "json", false, "emit JSON output")
	fs.BoolVarP(&g.quiet, "quiet", "q", false, "suppress progress output")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("download-dir", "downloads", "directory for downloaded tracks")
	fs.String("format", "m4a", "output format: m4a or mp3")
	fs.String("on-duplicate", "rename", "existing file policy: rename, overwrite or skip")
	fs.Int("jobs", 2, "concurrent downloads")
	fs.String("db", "tunefetch.db", "library database path")
	fs.Duration("timeout", 30*time.Second, "per-request catalog timeout")
	fs.String("addr", "127.0.0.1:8787", "listen address for serve")
	fs.String("mpv", "mpv", "mpv binary")
	return g
}

// env holds the configured components. Each is built on first use so a
// command only pays for what it touches.
type env struct {
	cfg    *config.Config
	log    *slog.Logger
	global *globalFlags
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	provider  *catalog.Provider
	resolver  *resolver.Resolver
	selector  *stream.Selector
	downloads *download.Manager
	library   *library.Library
}

func newEnv(g *globalFlags, fs *pflag.FlagSet, stdin io.Reader, stdout, stderr io.Writer) (*env, error) {
	cfg, err := config.Load(g.config, fs)
	if err != nil {
		return nil, err
	}
	return &env{
		cfg:    cfg,
		log:    logger.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.Source, stderr),
		global: g,
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}, nil
}

func (e *env) Close() error {
	httpx.CloseIdleConnections()
	if e.library != nil {
		return e.library.Close()
	}
	return nil
}

// interactive reports whether progress views may draw on the terminal.
func (e *env) interactive() bool {
	if e.global.json || e.global.quiet {
		return false
	}
	f, ok := e.stderr.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

func (e *env) catalog() *catalog.Provider {
	if e.provider == nil {
		c := e.cfg.Catalog
		e.provider = catalog.NewProvider(catalog.NewFactory(catalog.Config{
			BaseURL:   c.BaseURL,
			Timeout:   c.Timeout,
			RetryMax:  c.RetryMax,
			RateLimit: c.RateLimit,
			RateBurst: c.RateBurst,
			Language:  c.Language,
			Region:    c.Region,
			Logger:    e.log,
		}), e.log)
	}
	return e.provider
}

func (e *env) trackResolver() *resolver.Resolver {
	if e.resolver == nil {
		e.resolver = resolver.New(e.catalog(),
			resolver.WithCandidateLimit(e.cfg.Catalog.SearchLimit),
			resolver.WithLogger(e.log))
	}
	return e.resolver
}

func (e *env) streams() *stream.Selector {
	if e.selector == nil {
		e.selector = stream.NewSelector(e.catalog(), e.log)
	}
	return e.selector
}

func (e *env) openLibrary() (*library.Library, error) {
	if e.library == nil {
		lib, err := library.Open(e.cfg.Library.DBPath)
		if err != nil {
			return nil, err
		}
		e.library = lib
	}
	return e.library, nil
}

func (e *env) downloader() (*download.Manager, error) {
	if e.downloads != nil {
		return e.downloads, nil
	}
	policy, err := download.ParseDuplicatePolicy(e.cfg.Download.OnDuplicate)
	if err != nil {
		return nil, err
	}
	opts := download.Options{
		Dir:         e.cfg.Download.Dir,
		Format:      e.cfg.Download.Format,
		OnDuplicate: policy,
		Tag:         e.cfg.Download.Tag,
		RetryMax:    e.cfg.Catalog.RetryMax,
		Logger:      e.log,
	}
	if lib, err := e.openLibrary(); err != nil {
		e.log.Warn("library unavailable, downloads will not be recorded", "error", err)
	} else {
		opts.Recorder = lib
	}
	e.downloads = download.NewManager(e.streams(), opts)
	return e.downloads, nil
}

func (e *env) discover() *discover.Client {
	return discover.New(discover.Config{
		BaseURL:  e.cfg.Discover.BaseURL,
		Limit:    e.cfg.Discover.Limit,
		Timeout:  e.cfg.Catalog.Timeout,
		RetryMax: e.cfg.Catalog.RetryMax,
		Logger:   e.log,
	})
}

func (e *env) player() *player.Player {
	return player.New(player.Config{MPVPath: e.cfg.Player.MPVPath, Logger: e.log})
}

// service wires the pipeline. The downloader is optional so resolve-only
// commands never open the library.
func (e *env) service(withDownloads bool) (*app.Service, error) {
	svc := &app.Service{
		Resolver: e.trackResolver(),
		Streams:  e.streams(),
		Player:   e.player(),
		Log:      e.log,
	}
	if withDownloads {
		m, err := e.downloader()
		if err != nil {
			return nil, err
		}
		svc.Downloads = m
	}
	return svc, nil
}

// prewarm starts building the catalog session in the background.
func (e *env) prewarm(ctx context.Context) {
	e.catalog().Prewarm(ctx)
}
