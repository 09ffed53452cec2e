// Package config handles configuration loading and management for Foreman.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Foreman.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Heartbeat  HeartbeatConfig  `mapstructure:"heartbeat"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Quota      QuotaConfig      `mapstructure:"quota"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
	// UseAWSBedrock routes API calls through AWS Bedrock.
	UseAWSBedrock bool   `mapstructure:"use_aws_bedrock"`
	AWSRegion     string `mapstructure:"aws_region"`
	AWSProfile    string `mapstructure:"aws_profile"`
}

// HeartbeatConfig holds agent liveness settings.
type HeartbeatConfig struct {
	// Interval is the cadence supervised agents beat at.
	Interval time.Duration `mapstructure:"interval"`
	// Timeout is how long a missing heartbeat is tolerated before the
	// agent is force-killed.
	Timeout time.Duration `mapstructure:"timeout"`
}

// SupervisorConfig holds agent restart policy.
type SupervisorConfig struct {
	AutoRestart  bool          `mapstructure:"auto_restart"`
	MaxRestarts  int           `mapstructure:"max_restarts"`
	RestartDelay time.Duration `mapstructure:"restart_delay"`
}

// EngineConfig holds workflow engine settings.
type EngineConfig struct {
	// TickInterval is the cadence of the scheduling loop.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// AskTimeout is the default deadline for human-decision requests.
	AskTimeout time.Duration `mapstructure:"ask_timeout"`
}

// QuotaConfig selects the execution policy.
type QuotaConfig struct {
	// Preset names a built-in policy: default, high-performance, conservative.
	Preset string `mapstructure:"preset"`
	// PolicyFile points at a YAML policy document; overrides the preset
	// and is hot-reloaded while running.
	PolicyFile string `mapstructure:"policy_file"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (FOREMAN_*, ANTHROPIC_API_KEY)
// 2. Project config (.foreman/config.yaml in current directory or parent)
// 3. User config (~/.config/foreman/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("FOREMAN")
	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "FOREMAN_MODEL")
	v.BindEnv("heartbeat.timeout", "FOREMAN_HEARTBEAT_TIMEOUT")
	v.BindEnv("quota.policy_file", "FOREMAN_QUOTA_POLICY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// Save writes the current configuration to the user config file.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	configPath := filepath.Join(userConfigDir, "config.yaml")

	v := viper.New()
	v.SetConfigFile(configPath)

	v.Set("anthropic.api_key", cfg.Anthropic.APIKey)
	v.Set("anthropic.model", cfg.Anthropic.Model)
	v.Set("anthropic.use_aws_bedrock", cfg.Anthropic.UseAWSBedrock)
	v.Set("anthropic.aws_region", cfg.Anthropic.AWSRegion)
	v.Set("anthropic.aws_profile", cfg.Anthropic.AWSProfile)
	v.Set("heartbeat.interval", cfg.Heartbeat.Interval.String())
	v.Set("heartbeat.timeout", cfg.Heartbeat.Timeout.String())
	v.Set("supervisor.auto_restart", cfg.Supervisor.AutoRestart)
	v.Set("supervisor.max_restarts", cfg.Supervisor.MaxRestarts)
	v.Set("supervisor.restart_delay", cfg.Supervisor.RestartDelay.String())
	v.Set("engine.tick_interval", cfg.Engine.TickInterval.String())
	v.Set("engine.ask_timeout", cfg.Engine.AskTimeout.String())
	v.Set("quota.preset", cfg.Quota.Preset)
	v.Set("quota.policy_file", cfg.Quota.PolicyFile)

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_aws_bedrock", false)

	v.SetDefault("heartbeat.interval", "5s")
	v.SetDefault("heartbeat.timeout", "30s")

	v.SetDefault("supervisor.auto_restart", true)
	v.SetDefault("supervisor.max_restarts", 3)
	v.SetDefault("supervisor.restart_delay", "1s")

	v.SetDefault("engine.tick_interval", "500ms")
	v.SetDefault("engine.ask_timeout", "5m")

	v.SetDefault("quota.preset", "default")
	v.SetDefault("quota.policy_file", "")
}

// getUserConfigDir returns the XDG config directory for Foreman.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "foreman")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "foreman")
	}
	return filepath.Join(home, ".config", "foreman")
}

// findProjectConfig searches for .foreman/config.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".foreman", "config.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Heartbeat: HeartbeatConfig{
			Interval: 5 * time.Second,
			Timeout:  30 * time.Second,
		},
		Supervisor: SupervisorConfig{
			AutoRestart:  true,
			MaxRestarts:  3,
			RestartDelay: time.Second,
		},
		Engine: EngineConfig{
			TickInterval: 500 * time.Millisecond,
			AskTimeout:   5 * time.Minute,
		},
		Quota: QuotaConfig{
			Preset: "default",
		},
	}
}
