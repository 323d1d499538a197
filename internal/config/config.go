package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIBaseURL = "https://api.reederapp.net/v1"
	maxPageSize       = 500
)

// Config holds runtime settings for the CLI app. Values come from flags,
// REEDER_* environment variables and an optional YAML file.
type Config struct {
	APIBaseURL      string        `name:"api-base-url" env:"REEDER_API_BASE_URL" default:"https://api.reederapp.net/v1" help:"Feed API base URL."`
	Token           string        `name:"token" env:"REEDER_TOKEN" help:"API bearer token."`
	DBPath          string        `name:"db-path" env:"REEDER_DB_PATH" default:"reeder.db" help:"SQLite warm-start cache."`
	PageSize        int           `name:"page-size" env:"REEDER_PAGE_SIZE" default:"50" help:"Articles per page."`
	CacheTTL        time.Duration `name:"cache-ttl" env:"REEDER_CACHE_TTL" default:"10m" help:"How long an unobserved listing stays cached."`
	CacheMaxEntries int           `name:"cache-max-entries" env:"REEDER_CACHE_MAX_ENTRIES" default:"256" help:"Maximum cached listings."`
	LogFile         string        `name:"log-file" env:"REEDER_LOG_FILE" default:"reeder.log" help:"Log destination."`
	LogLevel        string        `name:"log-level" env:"REEDER_LOG_LEVEL" default:"info" help:"debug, info, warn or error."`
}

// DefaultPath is the YAML file read when no other path is given.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "reeder.yaml"
	}
	return filepath.Join(home, ".config", "reeder", "config.yaml")
}

// Options returns the kong options that resolve flags from the YAML files
// among paths that exist.
func Options(paths ...string) []kong.Option {
	existing := make([]string, 0, len(paths))
	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			existing = append(existing, path)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return []kong.Option{kong.Configuration(yamlKongLoader, existing...)}
}

// Load parses args into a Config and validates it.
func Load(args []string, paths ...string) (Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg, append(Options(paths...), kong.Name("reeder"))...)
	if err != nil {
		return Config{}, fmt.Errorf("build config parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Token == "" {
		return errors.New("REEDER_TOKEN is required")
	}
	if c.APIBaseURL == "" {
		return errors.New("APIBaseURL is required")
	}
	if c.APIBaseURL[len(c.APIBaseURL)-1] == '/' {
		return fmt.Errorf("APIBaseURL must not end with '/': %s", c.APIBaseURL)
	}
	if u, err := url.Parse(c.APIBaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("APIBaseURL must be an absolute URL: %s", c.APIBaseURL)
	}
	if c.DBPath == "" {
		return errors.New("DBPath is required")
	}
	if c.PageSize < 1 || c.PageSize > maxPageSize {
		return fmt.Errorf("PageSize must be between 1 and %d: %d", maxPageSize, c.PageSize)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("CacheTTL must be positive: %s", c.CacheTTL)
	}
	if c.CacheMaxEntries < 1 {
		return fmt.Errorf("CacheMaxEntries must be positive: %d", c.CacheMaxEntries)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// Level is the slog level named by LogLevel.
func (c Config) Level() slog.Level {
	level, _ := parseLevel(c.LogLevel)
	return level
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(name))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LogLevel must be debug, info, warn or error: %s", name)
	}
	return level, nil
}

func yamlKongLoader(r io.Reader) (kong.Resolver, error) {
	values := map[string]any{}
	if err := yaml.NewDecoder(r).Decode(&values); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("decode yaml config: %w", err)
	}

	var f kong.ResolverFunc = func(_ *kong.Context, _ *kong.Path, flag *kong.Flag) (any, error) {
		for _, name := range []string{flag.Name, strings.ReplaceAll(flag.Name, "-", "_")} {
			if v, ok := values[name]; ok {
				return v, nil
			}
		}
		return nil, nil
	}
	return f, nil
}
