// Package llm provides langchaingo-backed agent invokers for agent
// nodes, plus a static invoker for offline use.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/tidegraph/tide/internal/processor"
)

// Invoker runs agent requests against a langchaingo model.
type Invoker struct {
	model       llms.Model
	modelName   string
	maxTokens   int
	temperature float64
	logger      *slog.Logger
}

// InvokerOption configures an Invoker.
type InvokerOption func(*Invoker)

// WithInvokerLogger sets the logger used for invocation telemetry.
func WithInvokerLogger(logger *slog.Logger) InvokerOption {
	return func(inv *Invoker) {
		if logger != nil {
			inv.logger = logger
		}
	}
}

// WithDefaultMaxTokens sets the token cap used when a node does not
// specify one.
func WithDefaultMaxTokens(n int) InvokerOption {
	return func(inv *Invoker) {
		if n > 0 {
			inv.maxTokens = n
		}
	}
}

// WithDefaultTemperature sets the sampling temperature used when a node
// does not specify one.
func WithDefaultTemperature(t float64) InvokerOption {
	return func(inv *Invoker) {
		inv.temperature = t
	}
}

// NewInvoker wraps a langchaingo model as a processor.AgentInvoker.
func NewInvoker(model llms.Model, modelName string, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		model:       model,
		modelName:   modelName,
		maxTokens:   1024,
		temperature: 0.2,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Invoke renders the agent prompt, calls the model, and extracts the
// response text, structured output, and token usage.
func (inv *Invoker) Invoke(ctx context.Context, req processor.AgentRequest) (processor.AgentResponse, error) {
	prompt := renderPrompt(req)

	callOpts := []llms.CallOption{}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = inv.maxTokens
	}
	if maxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(maxTokens))
	}
	temperature := req.Temperature
	if temperature == 0 {
		temperature = inv.temperature
	}
	callOpts = append(callOpts, llms.WithTemperature(temperature))

	messages := []llms.MessageContent{
		llms.TextParts(schema.ChatMessageTypeSystem,
			fmt.Sprintf("You are agent %q running inside a workflow. Respond with the result of your task.", req.AgentID)),
		llms.TextParts(schema.ChatMessageTypeHuman, prompt),
	}

	resp, err := inv.model.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return processor.AgentResponse{}, fmt.Errorf("agent %s: model call failed: %w", req.AgentID, err)
	}

	out := fromContentResponse(resp, inv.modelName)
	inv.logger.Debug("agent invocation complete",
		"agent_id", req.AgentID,
		"model", out.Model,
		"total_tokens", out.Usage.TotalTokens)
	return out, nil
}

// renderPrompt builds the model prompt from the request variables. A
// "prompt" variable becomes the instruction body; remaining variables
// are appended as a context block in stable order.
func renderPrompt(req processor.AgentRequest) string {
	var b strings.Builder

	if p, ok := req.Variables["prompt"].(string); ok && p != "" {
		b.WriteString(p)
	} else {
		fmt.Fprintf(&b, "Execute agent task %s.", req.AgentID)
	}

	keys := make([]string, 0, len(req.Variables))
	for k := range req.Variables {
		if k == "prompt" {
			continue
		}
		keys = append(keys, k)
	}
	if len(keys) == 0 {
		return b.String()
	}
	sort.Strings(keys)

	b.WriteString("\n\nContext:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, formatVariable(req.Variables[k]))
	}
	return b.String()
}

func formatVariable(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(encoded)
	}
}

// fromContentResponse extracts text, structured output, and token usage
// from a langchaingo response.
func fromContentResponse(resp *llms.ContentResponse, model string) processor.AgentResponse {
	out := processor.AgentResponse{Model: model}
	if resp == nil || len(resp.Choices) == 0 {
		return out
	}

	choice := resp.Choices[0]
	out.Response = choice.Content
	out.Usage = usageFromGenerationInfo(choice.GenerationInfo)

	// A response that parses as a JSON object is surfaced structured.
	trimmed := strings.TrimSpace(choice.Content)
	if strings.HasPrefix(trimmed, "{") {
		var structured map[string]any
		if err := json.Unmarshal([]byte(trimmed), &structured); err == nil {
			out.StructuredOutput = structured
		}
	}
	return out
}

// usageFromGenerationInfo reads token counts out of the provider
// metadata map. Providers disagree on key names.
func usageFromGenerationInfo(info map[string]any) processor.TokenUsage {
	usage := processor.TokenUsage{
		PromptTokens:     intFromInfo(info, "PromptTokens", "prompt_tokens", "input_tokens"),
		CompletionTokens: intFromInfo(info, "CompletionTokens", "completion_tokens", "output_tokens"),
		TotalTokens:      intFromInfo(info, "TotalTokens", "total_tokens"),
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}

func intFromInfo(info map[string]any, keys ...string) int {
	for _, key := range keys {
		switch v := info[key].(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
