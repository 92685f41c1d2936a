// Package config loads and validates the engine configuration from
// YAML files with ${VAR_NAME} environment interpolation.
package config

import (
	"time"
)

// Config is the root configuration for tide.
type Config struct {
	Core      CoreConfig      `mapstructure:"core" yaml:"core"`
	Database  DBConfig        `mapstructure:"database" yaml:"database"`
	Validator ValidatorConfig `mapstructure:"validator" yaml:"validator"`
	Scheduler SchedulerConfig `mapstructure:"scheduler" yaml:"scheduler"`
	LLM       LLMConfig       `mapstructure:"llm" yaml:"llm"`
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
}

// CoreConfig contains engine execution settings.
type CoreConfig struct {
	MaxParallelNodes int           `mapstructure:"max_parallel_nodes" yaml:"max_parallel_nodes"`
	NodeTimeout      time.Duration `mapstructure:"node_timeout" yaml:"node_timeout"`
	Debug            bool          `mapstructure:"debug" yaml:"debug"`
}

// DBConfig contains SQLite settings.
type DBConfig struct {
	Path           string        `mapstructure:"path" yaml:"path"`
	MaxConnections int           `mapstructure:"max_connections" yaml:"max_connections"`
	BusyTimeout    time.Duration `mapstructure:"busy_timeout" yaml:"busy_timeout"`
}

// ValidatorConfig bounds how much work definition validation may do.
type ValidatorConfig struct {
	MaxNodes   int           `mapstructure:"max_nodes" yaml:"max_nodes"`
	MaxEdges   int           `mapstructure:"max_edges" yaml:"max_edges"`
	TimeBudget time.Duration `mapstructure:"time_budget" yaml:"time_budget"`
}

// SchedulerConfig controls the recurring trigger runner.
type SchedulerConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Timezone string `mapstructure:"timezone" yaml:"timezone"`
}

// LLMConfig configures the agent node invoker.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"`
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			MaxParallelNodes: 8,
			NodeTimeout:      5 * time.Minute,
		},
		Database: DBConfig{
			Path:           "tide.db",
			MaxConnections: 10,
			BusyTimeout:    5 * time.Second,
		},
		Validator: ValidatorConfig{
			MaxNodes:   1000,
			MaxEdges:   5000,
			TimeBudget: 5 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:  true,
			Timezone: "UTC",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			MaxTokens:   1024,
			Temperature: 0.2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
