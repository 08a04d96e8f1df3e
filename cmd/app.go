package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/naka-gawa/portfolio-stats/internal/cache"
	"github.com/naka-gawa/portfolio-stats/internal/config"
	"github.com/naka-gawa/portfolio-stats/internal/domain"
	"github.com/naka-gawa/portfolio-stats/internal/gateway"
	"github.com/naka-gawa/portfolio-stats/internal/store"
	"github.com/naka-gawa/portfolio-stats/internal/usecase"
)

// Store namespaces.
const (
	cachePrefix   = "ghcache_"
	offlinePrefix = "offline_"
)

// app holds the dependencies shared by the commands.
type app struct {
	cfg       config.Config
	logger    logrus.FieldLogger
	store     store.Store
	gateway   *gateway.GitHubGateway
	cache     *cache.Client
	portfolio *usecase.Portfolio
	closers   []io.Closer
}

// newLogger discards all logs unless --verbose is set.
func newLogger(cmd *cobra.Command) *logrus.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	logger := logrus.New()
	logger.SetOutput(io.Discard) // Default: discard all logs.
	if verbose {
		logger.SetOutput(os.Stderr) // If verbose, log to standard error.
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger
}

// loadConfig reads the config file and applies the persistent flag overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if user, _ := cmd.Flags().GetString("user"); user != "" {
		cfg.Username = user
	}
	if backend, _ := cmd.Flags().GetString("cache-backend"); backend != "" {
		cfg.Cache.Backend = backend
	}
	if dir, _ := cmd.Flags().GetString("cache-dir"); dir != "" {
		cfg.Cache.Dir = dir
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStore(cfg config.CacheConfig) (store.Store, io.Closer, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil, nil
	case config.BackendPostgres:
		s, err := store.OpenPostgres(cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := store.NewFileStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	}
}

// newApp injects the dependencies every command needs.
func newApp(cmd *cobra.Command) (*app, error) {
	logger := newLogger(cmd)
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	st, closer, err := openStore(cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Cache.Backend, err)
	}
	a := &app{cfg: cfg, logger: logger, store: st}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.gateway, err = gateway.NewGitHubGateway(cfg.Token, cfg.APIBaseURL, logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create GitHub gateway: %w", err)
	}
	a.cache = cache.NewClient(store.WithPrefix(st, cachePrefix), a.gateway, logger,
		cache.WithFreshness(cfg.Cache.Freshness), cache.WithTimeout(cfg.Cache.Timeout))

	var opts []usecase.PortfolioOption
	if cfg.ContributionSource == config.SourceGraphQL {
		opts = append(opts, usecase.WithContributionSource(a.gateway))
	}
	a.portfolio = usecase.NewPortfolio(a.cache, usecase.PortfolioConfig{
		Username:      cfg.Username,
		ReposPerPage:  cfg.ReposPerPage,
		EventsPerPage: cfg.EventsPerPage,
		LanguageLimit: cfg.LanguageLimit,
	}, logger, opts...)

	logger.WithFields(logrus.Fields{
		"username": cfg.Username,
		"backend":  cfg.Cache.Backend,
		"source":   cfg.ContributionSource,
	}).Debug("Dependencies ready")
	return a, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.WithError(err).Warn("Failed to close resource")
		}
	}
}

// snapshot runs the pipeline, optionally dropping the cache first so every
// endpoint is refetched.
func (a *app) snapshot(ctx context.Context, refresh bool) (*domain.Snapshot, error) {
	if refresh {
		n, err := a.cache.Clear(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to clear cache: %w", err)
		}
		a.logger.WithField("endpoints", n).Info("Cache cleared for refresh")
	}
	return a.portfolio.Refresh(ctx)
}

// printJSON writes v to stdout as pretty-printed JSON.
func printJSON(v any) error {
	jsonData, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results to JSON: %w", err)
	}
	fmt.Println(string(jsonData))
	return nil
}

// exitf prints the message to standard error and exits with status 1.
func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
