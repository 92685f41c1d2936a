package processor

import (
	"context"
	"time"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// AgentRequest is the call an agent node issues to its invoker.
type AgentRequest struct {
	AgentID     string
	Variables   map[string]any
	MaxTokens   int
	Temperature float64
}

// TokenUsage reports token consumption of one agent invocation.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// AgentResponse is what an invoker returns for one request.
type AgentResponse struct {
	Response         string
	StructuredOutput map[string]any
	Usage            TokenUsage
	Model            string
}

// AgentInvoker is the external collaborator that runs agents. The llm
// package provides a langchaingo-backed implementation.
type AgentInvoker interface {
	Invoke(ctx context.Context, req AgentRequest) (AgentResponse, error)
}

// AgentInput is the validated input of an agent node.
type AgentInput struct {
	AgentID     string
	Variables   map[string]any
	MaxTokens   int
	Temperature float64
}

// AgentOutput carries the invocation result plus timing.
type AgentOutput struct {
	Response AgentResponse
	Duration time.Duration
}

type agentProcessor struct {
	base
	invoker AgentInvoker
}

func newAgentProcessor(node *workflow.Node, execCtx *execution.Context, config Config) Processor {
	return &agentProcessor{
		base:    base{node: node, execCtx: execCtx},
		invoker: config.AgentInvoker,
	}
}

func (p *agentProcessor) Type() workflow.NodeType {
	return workflow.NodeTypeAgent
}

func (p *agentProcessor) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	return Run[AgentInput, AgentOutput](ctx, p, raw)
}

func (p *agentProcessor) PreProcess(raw map[string]any) (AgentInput, error) {
	fc := p.collector(workflow.NodeTypeAgent)

	agentID, ok := stringField(raw, "agent_id")
	if !ok || agentID == "" {
		fc.add("agent_id", KindMissing, "agent_id is required and must be a non-empty string")
	}

	vars, ok := mapField(raw, "prompt_variables")
	if !ok {
		fc.add("prompt_variables", KindType, "prompt_variables must be a mapping")
	}

	maxTokens := 0
	if n, present, valid := numberField(raw, "max_tokens"); !valid {
		fc.add("max_tokens", KindType, "max_tokens must be a number")
	} else if present {
		if n < 1 {
			fc.add("max_tokens", KindRange, "max_tokens must be positive")
		} else {
			maxTokens = int(n)
		}
	}

	temperature := 0.0
	if n, present, valid := numberField(raw, "temperature"); !valid {
		fc.add("temperature", KindType, "temperature must be a number")
	} else if present {
		if n < 0 || n > 2 {
			fc.add("temperature", KindRange, "temperature must be between 0 and 2")
		} else {
			temperature = n
		}
	}

	if err := fc.err(); err != nil {
		return AgentInput{}, err
	}

	return AgentInput{
		AgentID:     agentID,
		Variables:   vars,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}, nil
}

func (p *agentProcessor) Process(ctx context.Context, input AgentInput) (AgentOutput, error) {
	started := time.Now()

	if p.invoker == nil {
		return AgentOutput{
			Response: AgentResponse{
				Response:         "agent " + input.AgentID + " has no invoker configured",
				StructuredOutput: map[string]any{"placeholder": true},
				Model:            "none",
			},
			Duration: time.Since(started),
		}, nil
	}

	resp, err := p.invoker.Invoke(ctx, AgentRequest{
		AgentID:     input.AgentID,
		Variables:   input.Variables,
		MaxTokens:   input.MaxTokens,
		Temperature: input.Temperature,
	})
	if err != nil {
		return AgentOutput{}, &ExecutionError{
			NodeType: workflow.NodeTypeAgent,
			NodeID:   p.nodeID(),
			Message:  "agent " + input.AgentID + " failed",
			Cause:    err,
		}
	}

	return AgentOutput{Response: resp, Duration: time.Since(started)}, nil
}

func (p *agentProcessor) PostProcess(output AgentOutput) (map[string]any, error) {
	return map[string]any{
		"response":          output.Response.Response,
		"structured_output": output.Response.StructuredOutput,
		"token_usage": map[string]any{
			"prompt_tokens":     output.Response.Usage.PromptTokens,
			"completion_tokens": output.Response.Usage.CompletionTokens,
			"total_tokens":      output.Response.Usage.TotalTokens,
		},
		"model":       output.Response.Model,
		"duration_ms": output.Duration.Milliseconds(),
	}, nil
}
