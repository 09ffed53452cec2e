package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/foremanhq/foreman/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify Foreman configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/foreman/config.yaml
Project-specific overrides can be placed in .foreman/config.yaml`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	fmt.Printf("anthropic.api_key: %s\n", config.MaskAPIKey(cfg.Anthropic.APIKey))
	fmt.Printf("anthropic.model: %s\n", orUnset(cfg.Anthropic.Model))
	fmt.Printf("anthropic.use_aws_bedrock: %t\n", cfg.Anthropic.UseAWSBedrock)
	fmt.Printf("heartbeat.interval: %s\n", cfg.Heartbeat.Interval)
	fmt.Printf("heartbeat.timeout: %s\n", cfg.Heartbeat.Timeout)
	fmt.Printf("supervisor.auto_restart: %t\n", cfg.Supervisor.AutoRestart)
	fmt.Printf("supervisor.max_restarts: %d\n", cfg.Supervisor.MaxRestarts)
	fmt.Printf("supervisor.restart_delay: %s\n", cfg.Supervisor.RestartDelay)
	fmt.Printf("engine.tick_interval: %s\n", cfg.Engine.TickInterval)
	fmt.Printf("engine.ask_timeout: %s\n", cfg.Engine.AskTimeout)
	fmt.Printf("quota.preset: %s\n", cfg.Quota.Preset)
	fmt.Printf("quota.policy_file: %s\n", orUnset(cfg.Quota.PolicyFile))
}

func orUnset(s string) string {
	if s == "" {
		return "(not set)"
	}
	return s
}

// displayConfigKey prints the value for a single key.
func displayConfigKey(cfg *config.Config, key string) {
	switch key {
	case "anthropic.api_key":
		fmt.Println(config.MaskAPIKey(cfg.Anthropic.APIKey))
	case "anthropic.model":
		fmt.Println(orUnset(cfg.Anthropic.Model))
	case "anthropic.use_aws_bedrock":
		fmt.Println(cfg.Anthropic.UseAWSBedrock)
	case "heartbeat.interval":
		fmt.Println(cfg.Heartbeat.Interval)
	case "heartbeat.timeout":
		fmt.Println(cfg.Heartbeat.Timeout)
	case "supervisor.auto_restart":
		fmt.Println(cfg.Supervisor.AutoRestart)
	case "supervisor.max_restarts":
		fmt.Println(cfg.Supervisor.MaxRestarts)
	case "supervisor.restart_delay":
		fmt.Println(cfg.Supervisor.RestartDelay)
	case "engine.tick_interval":
		fmt.Println(cfg.Engine.TickInterval)
	case "engine.ask_timeout":
		fmt.Println(cfg.Engine.AskTimeout)
	case "quota.preset":
		fmt.Println(cfg.Quota.Preset)
	case "quota.policy_file":
		fmt.Println(orUnset(cfg.Quota.PolicyFile))
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
}

// setConfigKey updates a single key and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	var err error
	switch key {
	case "anthropic.api_key":
		cfg.Anthropic.APIKey = value
	case "anthropic.model":
		cfg.Anthropic.Model = value
	case "anthropic.use_aws_bedrock":
		cfg.Anthropic.UseAWSBedrock, err = strconv.ParseBool(value)
	case "heartbeat.interval":
		cfg.Heartbeat.Interval, err = time.ParseDuration(value)
	case "heartbeat.timeout":
		cfg.Heartbeat.Timeout, err = time.ParseDuration(value)
	case "supervisor.auto_restart":
		cfg.Supervisor.AutoRestart, err = strconv.ParseBool(value)
	case "supervisor.max_restarts":
		cfg.Supervisor.MaxRestarts, err = strconv.Atoi(value)
	case "supervisor.restart_delay":
		cfg.Supervisor.RestartDelay, err = time.ParseDuration(value)
	case "engine.tick_interval":
		cfg.Engine.TickInterval, err = time.ParseDuration(value)
	case "engine.ask_timeout":
		cfg.Engine.AskTimeout, err = time.ParseDuration(value)
	case "quota.preset":
		cfg.Quota.Preset = value
	case "quota.policy_file":
		cfg.Quota.PolicyFile = value
	default:
		fmt.Fprintf(os.Stderr, "Unknown config key: %s\n", key)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid value for %s: %v\n", key, err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Set %s = %s\n", key, value)
}
