package model

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// AIConfig holds settings for the classification and draft gateways.
type AIConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Model      string `mapstructure:"model" yaml:"model"`
	APIKeyEnv  string `mapstructure:"api_key_env" yaml:"api_key_env"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// PipelineConfig tunes the per-run triage behavior.
type PipelineConfig struct {
	// LookbackHours bounds how far back the inbox fetch reaches.
	LookbackHours int `mapstructure:"lookback_hours" yaml:"lookback_hours"`

	// FetchLimit caps how many recent messages one run considers.
	FetchLimit int `mapstructure:"fetch_limit" yaml:"fetch_limit"`

	// BodyLimit is the maximum number of characters of body text sent to
	// the classifier.
	BodyLimit int `mapstructure:"body_limit" yaml:"body_limit"`
}

// SchedulerConfig controls the periodic account dispatch loop.
type SchedulerConfig struct {
	IntervalSec int `mapstructure:"interval_sec" yaml:"interval_sec"`
}

// AppConfig is the top-level service configuration.
type AppConfig struct {
	DBPath    string          `mapstructure:"db_path" yaml:"db_path"`
	AI        AIConfig        `mapstructure:"ai" yaml:"ai"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mailtriage/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mailtriage", "config.yaml")
}

func defaultAppConfig() *AppConfig {
	return &AppConfig{
		DBPath: filepath.Join(filepath.Dir(DefaultConfigPath()), "mailtriage.db"),
		AI: AIConfig{
			BaseURL:    "https://api.openai.com/v1",
			Model:      "gpt-4o-mini",
			APIKeyEnv:  "OPENAI_API_KEY",
			TimeoutSec: 10,
		},
		Pipeline: PipelineConfig{
			LookbackHours: 24,
			FetchLimit:    10,
			BodyLimit:     1000,
		},
		Scheduler: SchedulerConfig{
			IntervalSec: 900,
		},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// If the file does not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("ai.base_url", "https://api.openai.com/v1")
	v.SetDefault("ai.model", "gpt-4o-mini")
	v.SetDefault("ai.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("ai.timeout_sec", 10)
	v.SetDefault("pipeline.lookback_hours", 24)
	v.SetDefault("pipeline.fetch_limit", 10)
	v.SetDefault("pipeline.body_limit", 1000)
	v.SetDefault("scheduler.interval_sec", 900)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return defaultAppConfig(), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return defaultAppConfig(), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("db_path", cfg.DBPath)
	v.Set("ai", cfg.AI)
	v.Set("pipeline", cfg.Pipeline)
	v.Set("scheduler", cfg.Scheduler)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
