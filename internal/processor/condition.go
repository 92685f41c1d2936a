package processor

import (
	"context"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/expr"
	"github.com/tidegraph/tide/internal/workflow"
)

// Condition is one branch of a condition node: an expression and the node
// to route to when it holds.
type Condition struct {
	Name         string
	Expression   string
	TargetNodeID string
}

// ConditionInput is the validated input of a condition node.
type ConditionInput struct {
	Conditions []Condition
	Context    map[string]any
}

// EvaluatedCondition records the outcome of evaluating one branch.
type EvaluatedCondition struct {
	Name   string
	Result bool
	Error  string
}

// ConditionOutput is the routing decision of a condition node.
type ConditionOutput struct {
	SelectedBranch string
	TargetNodeID   string
	Evaluated      []EvaluatedCondition
	Matched        bool
}

// conditionProcessor evaluates branches in declaration order and routes to
// the first one whose expression is true. Expressions that fail to
// evaluate are recorded and treated as false rather than failing the node.
// When nothing matches, the last branch is the default route.
type conditionProcessor struct {
	base
}

func newConditionProcessor(node *workflow.Node, execCtx *execution.Context, _ Config) Processor {
	return &conditionProcessor{base: base{node: node, execCtx: execCtx}}
}

func (p *conditionProcessor) Type() workflow.NodeType {
	return workflow.NodeTypeCondition
}

func (p *conditionProcessor) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	return Run[ConditionInput, ConditionOutput](ctx, p, raw)
}

func (p *conditionProcessor) PreProcess(raw map[string]any) (ConditionInput, error) {
	fc := p.collector(workflow.NodeTypeCondition)

	evalCtx, ok := mapField(raw, "context")
	if !ok {
		fc.add("context", KindType, "context must be a mapping")
	}

	var conditions []Condition
	rawList, present := raw["conditions"]
	if !present {
		fc.add("conditions", KindMissing, "conditions is required")
	} else {
		list, ok := rawList.([]any)
		if !ok || len(list) == 0 {
			fc.add("conditions", KindType, "conditions must be a non-empty list")
		} else {
			for i, item := range list {
				m, ok := item.(map[string]any)
				if !ok {
					fc.add("conditions", KindType, "conditions[%d] must be a mapping", i)
					continue
				}
				name, _ := stringField(m, "name")
				expression, okE := stringField(m, "expression")
				target, okT := stringField(m, "target_node_id")
				if !okE || expression == "" {
					fc.add("conditions", KindValue, "conditions[%d] is missing an expression", i)
				}
				if !okT || target == "" {
					fc.add("conditions", KindValue, "conditions[%d] is missing a target_node_id", i)
				}
				if name == "" {
					name = expression
				}
				conditions = append(conditions, Condition{
					Name:         name,
					Expression:   expression,
					TargetNodeID: target,
				})
			}
		}
	}

	if err := fc.err(); err != nil {
		return ConditionInput{}, err
	}

	return ConditionInput{Conditions: conditions, Context: evalCtx}, nil
}

func (p *conditionProcessor) Process(_ context.Context, input ConditionInput) (ConditionOutput, error) {
	out := ConditionOutput{
		Evaluated: make([]EvaluatedCondition, 0, len(input.Conditions)),
	}

	for _, cond := range input.Conditions {
		ec := EvaluatedCondition{Name: cond.Name}
		result, err := expr.Evaluate(cond.Expression, input.Context)
		if err != nil {
			ec.Error = err.Error()
		} else {
			ec.Result = result
		}
		out.Evaluated = append(out.Evaluated, ec)

		if ec.Result && !out.Matched {
			out.Matched = true
			out.SelectedBranch = cond.Name
			out.TargetNodeID = cond.TargetNodeID
		}
	}

	if !out.Matched {
		last := input.Conditions[len(input.Conditions)-1]
		out.SelectedBranch = last.Name
		out.TargetNodeID = last.TargetNodeID
	}

	return out, nil
}

func (p *conditionProcessor) PostProcess(output ConditionOutput) (map[string]any, error) {
	evaluated := make([]map[string]any, 0, len(output.Evaluated))
	for _, ec := range output.Evaluated {
		entry := map[string]any{
			"name":   ec.Name,
			"result": ec.Result,
		}
		if ec.Error != "" {
			entry["error"] = ec.Error
		}
		evaluated = append(evaluated, entry)
	}

	return map[string]any{
		"selected_branch":      output.SelectedBranch,
		"target_node_id":       output.TargetNodeID,
		"evaluated_conditions": evaluated,
		"matched":              output.Matched,
	}, nil
}
