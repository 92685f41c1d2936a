package llm

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/tidegraph/tide/internal/config"
	"github.com/tidegraph/tide/internal/processor"
)

// NewInvokerFromConfig builds an AgentInvoker for the configured
// provider. Supported providers are openai, anthropic, and ollama.
func NewInvokerFromConfig(cfg config.LLMConfig, logger *slog.Logger) (processor.AgentInvoker, error) {
	opts := []InvokerOption{
		WithInvokerLogger(logger),
		WithDefaultMaxTokens(cfg.MaxTokens),
		WithDefaultTemperature(cfg.Temperature),
	}

	switch cfg.Provider {
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("openai provider requires an api key")
		}
		clientOpts := []openai.Option{openai.WithToken(apiKey)}
		if cfg.Model != "" {
			clientOpts = append(clientOpts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("openai client: %w", err)
		}
		return NewInvoker(client, cfg.Model, opts...), nil

	case "anthropic":
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an api key")
		}
		clientOpts := []anthropic.Option{anthropic.WithToken(apiKey)}
		if cfg.Model != "" {
			clientOpts = append(clientOpts, anthropic.WithModel(cfg.Model))
		}
		client, err := anthropic.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("anthropic client: %w", err)
		}
		return NewInvoker(client, cfg.Model, opts...), nil

	case "ollama":
		clientOpts := []ollama.Option{}
		if cfg.Model != "" {
			clientOpts = append(clientOpts, ollama.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			clientOpts = append(clientOpts, ollama.WithServerURL(cfg.BaseURL))
		}
		client, err := ollama.New(clientOpts...)
		if err != nil {
			return nil, fmt.Errorf("ollama client: %w", err)
		}
		return NewInvoker(client, cfg.Model, opts...), nil

	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
