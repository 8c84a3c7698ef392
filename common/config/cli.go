package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CLIConfig holds iwctl configuration: named profiles pointing at pipeline endpoints.
type CLIConfig struct {
	CurrentProfile string                 `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*CLIProfile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       CLIDefaults            `yaml:"defaults" mapstructure:"defaults"`
	path           string
}

// CLIProfile holds the endpoints for one environment.
type CLIProfile struct {
	PipelineURL string `yaml:"pipeline_url" mapstructure:"pipeline_url"`
	NATSURL     string `yaml:"nats_url,omitempty" mapstructure:"nats_url"`
}

// CLIDefaults holds fallback endpoint URLs.
type CLIDefaults struct {
	PipelineURL string `yaml:"pipeline_url" mapstructure:"pipeline_url"`
	NATSURL     string `yaml:"nats_url" mapstructure:"nats_url"`
}

// DefaultCLI returns a CLIConfig with default values.
func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		CurrentProfile: "default",
		Profiles:       make(map[string]*CLIProfile),
		Defaults:       CLIDefaults{PipelineURL: "http://localhost:8090", NATSURL: "nats://localhost:4222"},
	}
}

// LoadCLI loads CLI configuration from path, or $HOME/.iwctl/config.yaml when empty.
// IWCTL_* environment variables override file values.
func LoadCLI(path string) (*CLIConfig, error) {
	v := viper.New()
	v.SetDefault("current_profile", "default")
	v.SetDefault("defaults.pipeline_url", "http://localhost:8090")
	v.SetDefault("defaults.nats_url", "nats://localhost:4222")

	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		path = filepath.Join(home, ".iwctl", "config.yaml")
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("IWCTL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("defaults.pipeline_url", "IWCTL_PIPELINE_URL")
	_ = v.BindEnv("defaults.nats_url", "IWCTL_NATS_URL")

	// The file may not exist yet.
	_ = v.ReadInConfig()

	cfg := DefaultCLI()
	cfg.path = path
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*CLIProfile)
	}
	return cfg, nil
}

// Save writes the CLI config to disk.
func (c *CLIConfig) Save() error {
	if c.path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(home, ".iwctl", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0o600)
}

// SaveProfile stores a profile and makes it current.
func (c *CLIConfig) SaveProfile(name, pipelineURL string) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*CLIProfile)
	}
	c.Profiles[name] = &CLIProfile{PipelineURL: pipelineURL}
	c.CurrentProfile = name
	return c.Save()
}

// GetProfile retrieves a profile by name (or the current profile if name is empty).
func (c *CLIConfig) GetProfile(name string) (*CLIProfile, error) {
	if name == "" {
		name = c.CurrentProfile
	}
	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}
	return profile, nil
}

// PipelineURL returns the pipeline URL for profile, falling back to defaults.
func (c *CLIConfig) PipelineURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.PipelineURL != "" {
		return p.PipelineURL
	}
	return c.Defaults.PipelineURL
}

// NATSURL returns the broker URL for profile, falling back to defaults.
func (c *CLIConfig) NATSURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.NATSURL != "" {
		return p.NATSURL
	}
	return c.Defaults.NATSURL
}
