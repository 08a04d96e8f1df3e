package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("defaults without a file", func(t *testing.T) {
		t.Setenv(TokenEnv, "")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Default(), cfg)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("file overrides defaults and the environment supplies the token", func(t *testing.T) {
		t.Setenv(TokenEnv, "from-env")
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
username: octocat
events_per_page: 30
contribution_source: graphql
cache:
  backend: memory
  freshness: 2m
schedule:
  auto_backup: false
server:
  origin: https://example.com
`), 0o600))

		cfg, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "octocat", cfg.Username)
		assert.Equal(t, "from-env", cfg.Token)
		assert.Equal(t, 30, cfg.EventsPerPage)
		assert.Equal(t, 100, cfg.ReposPerPage, "unset keys keep their defaults")
		assert.Equal(t, BackendMemory, cfg.Cache.Backend)
		assert.Equal(t, 2*time.Minute, cfg.Cache.Freshness)
		assert.Equal(t, 10*time.Second, cfg.Cache.Timeout)
		assert.False(t, cfg.Schedule.AutoBackup)
		assert.Equal(t, "https://example.com", cfg.Server.Origin)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("error case - missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("error case - invalid yaml", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("cache: [unclosed"), 0o600))
		_, err := Load(path)
		assert.Error(t, err)
	})
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{name: "empty username", mutate: func(c *Config) { c.Username = "" }, errMsg: "username is required"},
		{name: "per page above limit", mutate: func(c *Config) { c.ReposPerPage = 101 }, errMsg: "repos_per_page"},
		{name: "graphql without token", mutate: func(c *Config) { c.ContributionSource = SourceGraphQL }, errMsg: TokenEnv},
		{name: "unknown source", mutate: func(c *Config) { c.ContributionSource = "scrape" }, errMsg: "unknown contribution_source"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Cache.Backend = BackendPostgres }, errMsg: "cache.dsn"},
		{name: "unknown backend", mutate: func(c *Config) { c.Cache.Backend = "redis" }, errMsg: "unknown cache backend"},
		{name: "zero freshness", mutate: func(c *Config) { c.Cache.Freshness = 0 }, errMsg: "cache.freshness"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	t.Run("multiple problems are reported together", func(t *testing.T) {
		cfg := Default()
		cfg.Username = ""
		cfg.Cache.Timeout = 0
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "username")
		assert.Contains(t, err.Error(), "cache.timeout")
	})
}
