package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Type)
	assert.Equal(t, 15*time.Minute, cfg.Gateway.Classes.News.TTL)
	assert.Equal(t, 60*time.Minute, cfg.Gateway.Classes.Search.TTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Gateway.Classes.DeepResearch.TTL)
	assert.Equal(t, 24*time.Hour, cfg.Pipeline.DedupWindow)
	assert.InDelta(t, 0.85, cfg.Pipeline.SimilarityThreshold, 1e-9)
	assert.Equal(t, 10*time.Minute, cfg.Assembler.Window)
	assert.InDelta(t, 0.3, cfg.Risk.Weights.Market, 1e-9)
	assert.InDelta(t, 0.3, cfg.Scoring.UnknownCredibility, 1e-9)
	assert.Equal(t, 3, cfg.Scoring.CorroborationTarget)
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9100
assembler:
  window: 5m
watches:
  - id: acme
    name: Acme Corp
    keywords: [acme, "acme corp"]
    sector: fintech
`), 0o600))

	t.Setenv("IMPACTWATCH_LOGGING_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, 5*time.Minute, cfg.Assembler.Window)
	assert.Equal(t, "debug", cfg.Logging.Level)

	watch, ok := cfg.Watch("acme")
	require.True(t, ok)
	assert.Equal(t, "fintech", watch.Sector)
	assert.Equal(t, []string{"acme", "acme corp"}, watch.Keywords)

	_, ok = cfg.Watch("missing")
	assert.False(t, ok)
}

func TestLoad_ConfigDirEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server:\n  port: 7000\n"), 0o600))
	t.Setenv("IMPACTWATCH_CONFIG_DIR", dir)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Server.Port)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) *Config {
		cfg, err := Load(filepath.Join(t.TempDir(), "none.yaml"))
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"bad database", func(c *Config) { c.Database.Type = "mongo" }},
		{"threshold out of range", func(c *Config) { c.Pipeline.SimilarityThreshold = 1.5 }},
		{"risk weights", func(c *Config) { c.Risk.Weights.Brand = 0.5 }},
		{"confidence weights", func(c *Config) { c.Scoring.Weights.Recency = 0 }},
		{"duplicate watch", func(c *Config) {
			c.Watches = []WatchConfig{{ID: "a"}, {ID: "a"}}
		}},
		{"breaker", func(c *Config) { c.Gateway.Breaker.FailureThreshold = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestPostgresConnString(t *testing.T) {
	p := PostgresConfig{Host: "db", Port: 5432, Database: "iw", User: "u", Password: "p", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/iw?sslmode=disable", p.ConnString())
}
