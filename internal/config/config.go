// Package config loads and validates NarraForge configuration.
//
// The configuration is an immutable struct passed explicitly into the
// scheduler, sequencer, and stores at construction. There is no ambient
// global settings object.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full daemon configuration.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `yaml:"db_path"`
	// Listen is the HTTP API bind address.
	Listen string `yaml:"listen"`

	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// PipelineConfig bounds retries, timeouts, and spend per job.
type PipelineConfig struct {
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	ExponentialBackoff bool          `yaml:"exponential_backoff"`
	StageTimeout       time.Duration `yaml:"stage_timeout"`
	MaxCostPerJobUSD   float64       `yaml:"max_cost_per_job_usd"`
	MaxTokensPerJob    int           `yaml:"max_tokens_per_job"`
	StrictValidation   bool          `yaml:"strict_validation"`
	MinValidationScore float64       `yaml:"min_validation_score"`
}

// SchedulerConfig bounds worker concurrency and lease lifetime.
type SchedulerConfig struct {
	GlobalMax    int           `yaml:"global_max"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LeaseTTLSec  int           `yaml:"lease_ttl_sec"`
}

// Default returns the built-in configuration.
func Default() Config {
	homeDir, _ := os.UserHomeDir()
	return Config{
		DBPath: filepath.Join(homeDir, ".narraforge", "narraforge.db"),
		Listen: "127.0.0.1:7521",
		Pipeline: PipelineConfig{
			MaxRetries:         3,
			RetryBackoff:       2 * time.Second,
			StageTimeout:       5 * time.Minute,
			MaxCostPerJobUSD:   10.0,
			MinValidationScore: 0.7,
		},
		Scheduler: SchedulerConfig{
			GlobalMax:    4,
			PollInterval: 1 * time.Second,
			LeaseTTLSec:  300,
		},
	}
}

// Load reads a YAML config file over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot honor.
func (c Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path required")
	}
	if c.Pipeline.MaxRetries < 1 {
		return fmt.Errorf("pipeline.max_retries must be >= 1")
	}
	if c.Pipeline.RetryBackoff < 0 {
		return fmt.Errorf("pipeline.retry_backoff must not be negative")
	}
	if c.Pipeline.MaxCostPerJobUSD < 0 {
		return fmt.Errorf("pipeline.max_cost_per_job_usd must not be negative")
	}
	if c.Pipeline.MinValidationScore < 0 || c.Pipeline.MinValidationScore > 1 {
		return fmt.Errorf("pipeline.min_validation_score must be in [0,1]")
	}
	if c.Scheduler.GlobalMax < 1 {
		return fmt.Errorf("scheduler.global_max must be >= 1")
	}
	return nil
}
