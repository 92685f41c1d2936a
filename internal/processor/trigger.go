package processor

import (
	"context"
	"time"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// TriggerInput is the validated input of a trigger node.
type TriggerInput struct {
	TriggerType string
	Payload     map[string]any
	Metadata    map[string]any
}

// TriggerOutput describes how the run was started.
type TriggerOutput struct {
	TriggerType string
	Variables   map[string]any
	TriggeredAt time.Time
}

// triggerProcessor seeds the execution context with the variables a run
// starts from. Webhook triggers expose the request payload and metadata,
// scheduled triggers expose the schedule identity and fire time, manual
// triggers expose the invoking user and fire time. Unrecognized trigger
// types pass payload and metadata through verbatim under "trigger".
type triggerProcessor struct {
	base
}

func newTriggerProcessor(node *workflow.Node, execCtx *execution.Context, _ Config) Processor {
	return &triggerProcessor{base: base{node: node, execCtx: execCtx}}
}

func (p *triggerProcessor) Type() workflow.NodeType {
	return workflow.NodeTypeTrigger
}

func (p *triggerProcessor) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	return Run[TriggerInput, TriggerOutput](ctx, p, raw)
}

func (p *triggerProcessor) PreProcess(raw map[string]any) (TriggerInput, error) {
	fc := p.collector(workflow.NodeTypeTrigger)

	triggerType, ok := stringField(raw, "trigger_type")
	if !ok {
		fc.add("trigger_type", KindType, "trigger_type must be a string")
	}
	if triggerType == "" {
		triggerType = "manual"
	}

	payload, ok := mapField(raw, "payload")
	if !ok {
		fc.add("payload", KindType, "payload must be a mapping")
	}

	metadata, ok := mapField(raw, "metadata")
	if !ok {
		fc.add("metadata", KindType, "metadata must be a mapping")
	}

	if err := fc.err(); err != nil {
		return TriggerInput{}, err
	}

	return TriggerInput{TriggerType: triggerType, Payload: payload, Metadata: metadata}, nil
}

func (p *triggerProcessor) Process(_ context.Context, input TriggerInput) (TriggerOutput, error) {
	now := time.Now().UTC()
	firedAt := now.Format(time.RFC3339)

	vars := map[string]any{
		"trigger_type": input.TriggerType,
		"triggered_at": firedAt,
	}
	switch input.TriggerType {
	case "webhook":
		vars["webhook"] = map[string]any{
			"payload":  input.Payload,
			"metadata": input.Metadata,
			"headers":  input.Payload["headers"],
		}
	case "schedule":
		vars["schedule"] = map[string]any{
			"schedule_id": input.Payload["schedule_id"],
			"fired_at":    firedAt,
		}
	case "manual":
		vars["manual"] = map[string]any{
			"user_id":  input.Payload["user_id"],
			"fired_at": firedAt,
		}
	default:
		vars["trigger"] = map[string]any{
			"payload":  input.Payload,
			"metadata": input.Metadata,
		}
	}

	if p.execCtx != nil {
		for k, v := range vars {
			p.execCtx.SetVariable(k, v)
		}
	}

	return TriggerOutput{TriggerType: input.TriggerType, Variables: vars, TriggeredAt: now}, nil
}

func (p *triggerProcessor) PostProcess(output TriggerOutput) (map[string]any, error) {
	return map[string]any{
		"trigger_type": output.TriggerType,
		"variables":    output.Variables,
		"triggered_at": output.TriggeredAt.Format(time.RFC3339),
	}, nil
}
