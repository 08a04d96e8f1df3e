// Package config loads runtime settings from defaults, an optional YAML
// file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEnv is the environment variable holding the GitHub token.
const TokenEnv = "GITHUB_TOKEN"

// Contribution sources.
const (
	SourceEvents  = "events"
	SourceGraphQL = "graphql"
)

// Cache backends.
const (
	BackendFile     = "file"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Username      string `yaml:"username"`
	Token         string `yaml:"token"`
	APIBaseURL    string `yaml:"api_base_url"`
	ReposPerPage  int    `yaml:"repos_per_page"`
	EventsPerPage int    `yaml:"events_per_page"`
	LanguageLimit int    `yaml:"language_limit"`
	// ContributionSource is "events" (public event feed) or "graphql"
	// (contribution calendar, needs a token).
	ContributionSource string `yaml:"contribution_source"`

	Cache    CacheConfig    `yaml:"cache"`
	Schedule ScheduleConfig `yaml:"schedule"`
	Server   ServerConfig   `yaml:"server"`
}

type CacheConfig struct {
	Backend   string        `yaml:"backend"`
	Dir       string        `yaml:"dir"`
	DSN       string        `yaml:"dsn"`
	Freshness time.Duration `yaml:"freshness"`
	Timeout   time.Duration `yaml:"timeout"`
}

type ScheduleConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	BackupInterval  time.Duration `yaml:"backup_interval"`
	AutoBackup      bool          `yaml:"auto_backup"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Origin is the site mirrored through the offline policy. Empty disables the mirror.
	Origin    string   `yaml:"origin"`
	CacheName string   `yaml:"cache_name"`
	Precache  []string `yaml:"precache"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Username:           "dnyftetch",
		ReposPerPage:       100,
		EventsPerPage:      100,
		LanguageLimit:      8,
		ContributionSource: SourceEvents,
		Cache: CacheConfig{
			Backend:   BackendFile,
			Freshness: 5 * time.Minute,
			Timeout:   10 * time.Second,
		},
		Schedule: ScheduleConfig{
			RefreshInterval: 5 * time.Minute,
			BackupInterval:  24 * time.Hour,
			AutoBackup:      true,
		},
		Server: ServerConfig{
			Addr:      ":8080",
			CacheName: "dnyf-tetch-v3",
			Precache:  []string{"/", "/index.html", "/css/style.css", "/js/main.js", "/manifest.json"},
		},
	}
}

// Load returns the defaults overlaid with the YAML file at path (if path is
// non-empty) and the token from the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
		}
	}
	if token := os.Getenv(TokenEnv); token != "" {
		cfg.Token = token
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if c.ReposPerPage < 1 || c.ReposPerPage > 100 {
		errs = append(errs, fmt.Errorf("repos_per_page must be between 1 and 100, got %d", c.ReposPerPage))
	}
	if c.EventsPerPage < 1 || c.EventsPerPage > 100 {
		errs = append(errs, fmt.Errorf("events_per_page must be between 1 and 100, got %d", c.EventsPerPage))
	}
	switch c.ContributionSource {
	case SourceEvents:
	case SourceGraphQL:
		if c.Token == "" {
			errs = append(errs, fmt.Errorf("contribution_source %q requires %s", SourceGraphQL, TokenEnv))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown contribution_source %q", c.ContributionSource))
	}
	switch c.Cache.Backend {
	case BackendFile, BackendMemory:
	case BackendPostgres:
		if c.Cache.DSN == "" {
			errs = append(errs, errors.New("cache.dsn is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown cache backend %q", c.Cache.Backend))
	}
	if c.Cache.Freshness <= 0 {
		errs = append(errs, errors.New("cache.freshness must be positive"))
	}
	if c.Cache.Timeout <= 0 {
		errs = append(errs, errors.New("cache.timeout must be positive"))
	}
	if c.Schedule.RefreshInterval <= 0 {
		errs = append(errs, errors.New("schedule.refresh_interval must be positive"))
	}
	if c.Schedule.AutoBackup && c.Schedule.BackupInterval <= 0 {
		errs = append(errs, errors.New("schedule.backup_interval must be positive"))
	}
	return errors.Join(errs...)
}
