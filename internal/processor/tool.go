package processor

import (
	"context"
	"time"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// Tool timeout bounds in seconds.
const (
	toolTimeoutMin     = 1
	toolTimeoutMax     = 300
	toolTimeoutDefault = 30
)

// ToolRunner is the external collaborator that actually invokes tools.
type ToolRunner interface {
	RunTool(ctx context.Context, toolID string, params map[string]any, timeout time.Duration) (map[string]any, error)
}

// ToolInput is the validated input of a tool node.
type ToolInput struct {
	ToolID     string
	Parameters map[string]any
	Timeout    time.Duration
}

// ToolOutput is the result of a tool invocation.
type ToolOutput struct {
	ToolID   string
	Result   map[string]any
	Duration time.Duration
	Metadata map[string]any
}

// toolProcessor validates tool configuration and delegates the actual
// invocation to the configured ToolRunner. Without a runner it produces a
// placeholder result while still honoring the full three-phase contract.
type toolProcessor struct {
	base
	runner ToolRunner
}

func newToolProcessor(node *workflow.Node, execCtx *execution.Context, config Config) Processor {
	return &toolProcessor{
		base:   base{node: node, execCtx: execCtx},
		runner: config.ToolRunner,
	}
}

func (p *toolProcessor) Type() workflow.NodeType {
	return workflow.NodeTypeTool
}

func (p *toolProcessor) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	return Run[ToolInput, ToolOutput](ctx, p, raw)
}

func (p *toolProcessor) PreProcess(raw map[string]any) (ToolInput, error) {
	fc := p.collector(workflow.NodeTypeTool)

	toolID, ok := stringField(raw, "tool_id")
	if !ok || toolID == "" {
		fc.add("tool_id", KindMissing, "tool_id is required and must be a non-empty string")
	}

	params, ok := mapField(raw, "parameters")
	if !ok {
		fc.add("parameters", KindType, "parameters must be a mapping")
	}

	timeoutSeconds := float64(toolTimeoutDefault)
	if n, present, valid := numberField(raw, "timeout_seconds"); !valid {
		fc.add("timeout_seconds", KindType, "timeout_seconds must be a number")
	} else if present {
		if n < toolTimeoutMin || n > toolTimeoutMax {
			fc.add("timeout_seconds", KindRange, "timeout_seconds must be between %d and %d", toolTimeoutMin, toolTimeoutMax)
		} else {
			timeoutSeconds = n
		}
	}

	if err := fc.err(); err != nil {
		return ToolInput{}, err
	}

	return ToolInput{
		ToolID:     toolID,
		Parameters: params,
		Timeout:    time.Duration(timeoutSeconds * float64(time.Second)),
	}, nil
}

func (p *toolProcessor) Process(ctx context.Context, input ToolInput) (ToolOutput, error) {
	started := time.Now()

	if p.runner == nil {
		// External tool integration pending: echo the call so downstream
		// nodes still receive the documented output shape.
		return ToolOutput{
			ToolID: input.ToolID,
			Result: map[string]any{
				"status":     "completed",
				"parameters": input.Parameters,
			},
			Duration: time.Since(started),
			Metadata: map[string]any{"placeholder": true},
		}, nil
	}

	result, err := p.runner.RunTool(ctx, input.ToolID, input.Parameters, input.Timeout)
	if err != nil {
		return ToolOutput{}, &ExecutionError{
			NodeType: workflow.NodeTypeTool,
			NodeID:   p.nodeID(),
			Message:  "tool " + input.ToolID + " failed",
			Cause:    err,
		}
	}

	return ToolOutput{
		ToolID:   input.ToolID,
		Result:   result,
		Duration: time.Since(started),
		Metadata: map[string]any{"timeout_seconds": input.Timeout.Seconds()},
	}, nil
}

func (p *toolProcessor) PostProcess(output ToolOutput) (map[string]any, error) {
	return map[string]any{
		"tool_id":     output.ToolID,
		"result":      output.Result,
		"duration_ms": output.Duration.Milliseconds(),
		"metadata":    output.Metadata,
	}, nil
}
