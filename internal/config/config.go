// Package config loads engine configuration from .remedy/config.yaml
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// File represents the structure of .remedy/config.yaml
type File struct {
	// Database settings
	Database DatabaseConfig `yaml:"database"`

	// Work queue settings
	Queue QueueConfig `yaml:"queue"`

	// Remediation worker settings
	Workers WorkerConfig `yaml:"workers"`

	// External agent settings
	Agent AgentConfig `yaml:"agent"`

	// Event retention settings
	Retention RetentionConfig `yaml:"retention"`
}

// DatabaseConfig defines storage settings in the config file
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig defines work queue settings in the config file
type QueueConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// WorkerConfig defines remediation pool settings in the config file
type WorkerConfig struct {
	Count               int    `yaml:"count"`
	MaxConcurrentAgents int    `yaml:"max_concurrent_agents"`
	MaxAttempts         int    `yaml:"max_attempts"`
	BackoffBase         string `yaml:"backoff_base"` // Duration string like "30s"
	BackoffCap          string `yaml:"backoff_cap"`  // Duration string like "15m"
	HeartbeatPeriod     string `yaml:"heartbeat_period"`
}

// AgentConfig defines external agent settings in the config file
type AgentConfig struct {
	Command    string   `yaml:"command"`
	Args       []string `yaml:"args"`
	WorkingDir string   `yaml:"working_dir"`
	Timeout    string   `yaml:"timeout"` // Duration string like "30m"
	SpawnRate  float64  `yaml:"spawn_rate"`
	SpawnBurst int      `yaml:"spawn_burst"`
}

// RetentionConfig defines event pruning settings in the config file
type RetentionConfig struct {
	EventDays     int `yaml:"event_days"`
	KeepPerReport int `yaml:"keep_per_report"`
}

// Config is the resolved runtime configuration
type Config struct {
	DatabasePath        string
	QueueMaxDepth       int
	WorkerCount         int
	MaxConcurrentAgents int
	MaxAttempts         int
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	HeartbeatPeriod     time.Duration
	AgentCommand        string
	AgentArgs           []string
	AgentWorkingDir     string
	AgentTimeout        time.Duration
	AgentSpawnRate      float64
	AgentSpawnBurst     int
	EventRetentionDays  int
	EventKeepPerReport  int
}

// Default returns the default runtime configuration
func Default() *Config {
	return &Config{
		DatabasePath:        ".remedy/remedy.db",
		QueueMaxDepth:       1000,
		WorkerCount:         2,
		MaxConcurrentAgents: 2,
		MaxAttempts:         3,
		BackoffBase:         30 * time.Second,
		BackoffCap:          15 * time.Minute,
		HeartbeatPeriod:     30 * time.Second,
		AgentCommand:        "claude",
		AgentTimeout:        30 * time.Minute,
		AgentSpawnRate:      1,
		AgentSpawnBurst:     1,
		EventRetentionDays:  90,
		EventKeepPerReport:  20,
	}
}

// Load reads .remedy/config.yaml under the project root. A missing file
// yields the defaults; a malformed one is an error.
func Load(projectRoot string) (*Config, error) {
	configPath := filepath.Join(projectRoot, ".remedy", "config.yaml")

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return file.ToConfig()
}

// ToConfig converts a File to a Config, applying defaults for anything
// the file leaves unset
func (f *File) ToConfig() (*Config, error) {
	cfg := Default()

	if f.Database.Path != "" {
		cfg.DatabasePath = f.Database.Path
	}
	if f.Queue.MaxDepth > 0 {
		cfg.QueueMaxDepth = f.Queue.MaxDepth
	}
	if f.Workers.Count > 0 {
		cfg.WorkerCount = f.Workers.Count
	}
	if f.Workers.MaxConcurrentAgents > 0 {
		cfg.MaxConcurrentAgents = f.Workers.MaxConcurrentAgents
	}
	if f.Workers.MaxAttempts > 0 {
		cfg.MaxAttempts = f.Workers.MaxAttempts
	}
	if f.Workers.BackoffBase != "" {
		d, err := time.ParseDuration(f.Workers.BackoffBase)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff_base: %w", err)
		}
		cfg.BackoffBase = d
	}
	if f.Workers.BackoffCap != "" {
		d, err := time.ParseDuration(f.Workers.BackoffCap)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff_cap: %w", err)
		}
		cfg.BackoffCap = d
	}
	if f.Workers.HeartbeatPeriod != "" {
		d, err := time.ParseDuration(f.Workers.HeartbeatPeriod)
		if err != nil {
			return nil, fmt.Errorf("invalid heartbeat_period: %w", err)
		}
		cfg.HeartbeatPeriod = d
	}
	if f.Agent.Command != "" {
		cfg.AgentCommand = f.Agent.Command
	}
	if len(f.Agent.Args) > 0 {
		cfg.AgentArgs = f.Agent.Args
	}
	if f.Agent.WorkingDir != "" {
		cfg.AgentWorkingDir = f.Agent.WorkingDir
	}
	if f.Agent.Timeout != "" {
		d, err := time.ParseDuration(f.Agent.Timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid agent timeout: %w", err)
		}
		cfg.AgentTimeout = d
	}
	if f.Agent.SpawnRate > 0 {
		cfg.AgentSpawnRate = f.Agent.SpawnRate
	}
	if f.Agent.SpawnBurst > 0 {
		cfg.AgentSpawnBurst = f.Agent.SpawnBurst
	}
	if f.Retention.EventDays > 0 {
		cfg.EventRetentionDays = f.Retention.EventDays
	}
	if f.Retention.KeepPerReport > 0 {
		cfg.EventKeepPerReport = f.Retention.KeepPerReport
	}

	if cfg.BackoffCap < cfg.BackoffBase {
		return nil, fmt.Errorf("backoff_cap (%v) must be at least backoff_base (%v)", cfg.BackoffCap, cfg.BackoffBase)
	}
	return cfg, nil
}
