package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const envPrefix = "TUNEFETCH"

// Config is the resolved runtime configuration.
type Config struct {
	Catalog  CatalogConfig
	Download DownloadConfig
	Library  LibraryConfig
	Player   PlayerConfig
	Discover DiscoverConfig
	Server   ServerConfig
	Log      LogConfig
}

type CatalogConfig struct {
	BaseURL     string
	Timeout     time.Duration
	RateLimit   float64
	RateBurst   int
	RetryMax    int
	SearchLimit int
	Language    string
	Region      string
}

type DownloadConfig struct {
	Dir         string
	Format      string
	OnDuplicate string
	Tag         bool
	Jobs        int
}

type LibraryConfig struct {
	DBPath string
}

type PlayerConfig struct {
	MPVPath   string
	StatusTTL time.Duration
}

type DiscoverConfig struct {
	BaseURL string
	Limit   int
}

type ServerConfig struct {
	Addr   string
	JobTTL time.Duration
}

type LogConfig struct {
	Level  string
	Format string
	Source bool
}

// flagKeys maps global command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"download-dir": "download.dir",
	"format":       "download.format",
	"on-duplicate": "download.on_duplicate",
	"jobs":         "download.jobs",
	"db":           "library.db_path",
	"timeout":      "catalog.timeout",
	"addr":         "server.addr",
	"mpv":          "player.mpv_path",
}

// Load reads path (optional) and layers environment variables and flags on
// top of the defaults. INI files are parsed with go-ini; everything else goes
// through viper's own decoders.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		if strings.EqualFold(filepath.Ext(path), ".ini") {
			if err := loadINI(v, path); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("catalog.base_url", "https://music.youtube.com")
	v.SetDefault("catalog.timeout", 30*time.Second)
	v.SetDefault("catalog.rate_limit", 5.0)
	v.SetDefault("catalog.rate_burst", 5)
	v.SetDefault("catalog.retry_max", 3)
	v.SetDefault("catalog.search_limit", 5)
	v.SetDefault("catalog.hl", "en")
	v.SetDefault("catalog.gl", "US")
	v.SetDefault("download.dir", "downloads")
	v.SetDefault("download.format", "m4a")
	v.SetDefault("download.on_duplicate", "rename")
	v.SetDefault("download.tag", true)
	v.SetDefault("download.jobs", 2)
	v.SetDefault("library.db_path", "tunefetch.db")
	v.SetDefault("player.mpv_path", "mpv")
	v.SetDefault("player.status_ttl", 3*time.Second)
	v.SetDefault("discover.base_url", "https://itunes.apple.com/search")
	v.SetDefault("discover.limit", 20)
	v.SetDefault("server.addr", "127.0.0.1:8787")
	v.SetDefault("server.job_ttl", 15*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.source", false)
}

func loadINI(v *viper.Viper, path string) error {
	cfg, err := ini.Load(path)
	if err != nil {
		return err
	}
	for _, section := range cfg.Sections() {
		prefix := ""
		if name := section.Name(); name != ini.DefaultSection {
			prefix = strings.ToLower(name) + "."
		}
		for _, key := range section.Keys() {
			v.Set(prefix+strings.ToLower(key.Name()), key.Value())
		}
	}
	return nil
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Catalog: CatalogConfig{
			BaseURL:     strings.TrimRight(v.GetString("catalog.base_url"), "/"),
			Timeout:     v.GetDuration("catalog.timeout"),
			RateLimit:   v.GetFloat64("catalog.rate_limit"),
			RateBurst:   v.GetInt("catalog.rate_burst"),
			RetryMax:    v.GetInt("catalog.retry_max"),
			SearchLimit: v.GetInt("catalog.search_limit"),
			Language:    v.GetString("catalog.hl"),
			Region:      v.GetString("catalog.gl"),
		},
		Download: DownloadConfig{
			Dir:         v.GetString("download.dir"),
			Format:      strings.ToLower(strings.TrimSpace(v.GetString("download.format"))),
			OnDuplicate: v.GetString("download.on_duplicate"),
			Tag:         v.GetBool("download.tag"),
			Jobs:        v.GetInt("download.jobs"),
		},
		Library: LibraryConfig{DBPath: v.GetString("library.db_path")},
		Player: PlayerConfig{
			MPVPath:   v.GetString("player.mpv_path"),
			StatusTTL: v.GetDuration("player.status_ttl"),
		},
		Discover: DiscoverConfig{
			BaseURL: v.GetString("discover.base_url"),
			Limit:   v.GetInt("discover.limit"),
		},
		Server: ServerConfig{
			Addr:   v.GetString("server.addr"),
			JobTTL: v.GetDuration("server.job_ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Source: v.GetBool("log.source"),
		},
	}
	return cfg, cfg.Validate()
}

// Validate checks values that would otherwise fail deep inside a component.
func (c *Config) Validate() error {
	switch c.Download.Format {
	case "m4a", "mp3":
	default:
		return fmt.Errorf("download.format must be m4a or mp3, got %q", c.Download.Format)
	}
	if c.Catalog.SearchLimit < 1 {
		return fmt.Errorf("catalog.search_limit must be positive, got %d", c.Catalog.SearchLimit)
	}
	if c.Download.Dir == "" {
		return fmt.Errorf("download.dir must not be empty")
	}
	if c.Download.Jobs < 1 {
		c.Download.Jobs = 1
	}
	return nil
}
