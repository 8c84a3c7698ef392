package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIConfig_ProfileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, err := LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8090", cfg.PipelineURL(""))

	require.NoError(t, cfg.SaveProfile("staging", "http://staging:8090"))

	reloaded, err := LoadCLI(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", reloaded.CurrentProfile)
	assert.Equal(t, "http://staging:8090", reloaded.PipelineURL(""))
	assert.Equal(t, "http://localhost:8090", reloaded.PipelineURL("missing"))

	_, err = reloaded.GetProfile("missing")
	assert.Error(t, err)
}

func TestCLIConfig_EnvOverride(t *testing.T) {
	t.Setenv("IWCTL_PIPELINE_URL", "http://env:1234")
	cfg, err := LoadCLI(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://env:1234", cfg.PipelineURL(""))
}

func TestCLIConfig_NATSURL(t *testing.T) {
	cfg, err := LoadCLI(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL(""))

	cfg.Profiles["prod"] = &CLIProfile{PipelineURL: "http://prod:8090", NATSURL: "nats://prod:4222"}
	assert.Equal(t, "nats://prod:4222", cfg.NATSURL("prod"))
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL("missing"))

	t.Setenv("IWCTL_NATS_URL", "nats://env:4222")
	cfg, err = LoadCLI(filepath.Join(t.TempDir(), "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "nats://env:4222", cfg.NATSURL(""))
}
