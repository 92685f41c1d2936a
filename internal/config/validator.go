package config

import (
	"fmt"
	"time"
)

// Validator rejects configurations the engine cannot run with.
type Validator interface {
	Validate(cfg *Config) error
}

type configValidator struct{}

// NewValidator creates a Validator with the standard rules.
func NewValidator() Validator {
	return &configValidator{}
}

func (configValidator) Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Core.MaxParallelNodes < 1 || cfg.Core.MaxParallelNodes > 100 {
		return fmt.Errorf("core.max_parallel_nodes must be between 1 and 100, got %d", cfg.Core.MaxParallelNodes)
	}
	if cfg.Core.NodeTimeout < 0 {
		return fmt.Errorf("core.node_timeout must not be negative, got %s", cfg.Core.NodeTimeout)
	}
	if cfg.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if cfg.Database.MaxConnections < 1 || cfg.Database.MaxConnections > 100 {
		return fmt.Errorf("database.max_connections must be between 1 and 100, got %d", cfg.Database.MaxConnections)
	}
	if cfg.Validator.MaxNodes < 1 {
		return fmt.Errorf("validator.max_nodes must be positive, got %d", cfg.Validator.MaxNodes)
	}
	if cfg.Validator.MaxEdges < 1 {
		return fmt.Errorf("validator.max_edges must be positive, got %d", cfg.Validator.MaxEdges)
	}
	if cfg.Validator.TimeBudget <= 0 {
		return fmt.Errorf("validator.time_budget must be positive, got %s", cfg.Validator.TimeBudget)
	}
	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", cfg.Logging.Format)
	}
	if cfg.Scheduler.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Scheduler.Timezone); err != nil {
			return fmt.Errorf("scheduler.timezone %q is not a valid location: %w", cfg.Scheduler.Timezone, err)
		}
	}
	if cfg.LLM.MaxTokens < 1 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", cfg.LLM.MaxTokens)
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2, got %g", cfg.LLM.Temperature)
	}
	return nil
}
