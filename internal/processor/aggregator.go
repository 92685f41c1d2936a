package processor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// Aggregation strategies.
const (
	AggregateMerge  = "merge"
	AggregateList   = "list"
	AggregateReduce = "reduce"
	AggregateCustom = "custom"
)

// AggregatorInput is the validated input of an aggregator node.
type AggregatorInput struct {
	Strategy string
	// Sources lists the upstream node IDs to aggregate, in the order
	// their outputs are combined.
	Sources   []string
	Operation string
	Field     string
}

// AggregatorOutput is the combined result of the configured sources.
type AggregatorOutput struct {
	Strategy    string
	Result      map[string]any
	SourceCount int
}

// aggregatorProcessor joins the outputs of multiple upstream nodes into
// one result. It is the terminal-capable node type: a workflow's sinks
// are expected to be aggregators.
type aggregatorProcessor struct {
	base
}

func newAggregatorProcessor(node *workflow.Node, execCtx *execution.Context, _ Config) Processor {
	return &aggregatorProcessor{base: base{node: node, execCtx: execCtx}}
}

func (p *aggregatorProcessor) Type() workflow.NodeType {
	return workflow.NodeTypeAggregator
}

func (p *aggregatorProcessor) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	return Run[AggregatorInput, AggregatorOutput](ctx, p, raw)
}

func (p *aggregatorProcessor) PreProcess(raw map[string]any) (AggregatorInput, error) {
	fc := p.collector(workflow.NodeTypeAggregator)

	strategy, ok := stringField(raw, "strategy")
	if !ok {
		fc.add("strategy", KindType, "strategy must be a string")
	}
	if strategy == "" {
		strategy = AggregateMerge
	}
	switch strategy {
	case AggregateMerge, AggregateList, AggregateReduce, AggregateCustom:
	default:
		fc.add("strategy", KindValue, "unknown aggregation strategy %q", strategy)
	}

	sources, err := sourceOrder(raw["input_sources"])
	if err != nil {
		fc.add("input_sources", KindType, "%s", err.Error())
	} else if len(sources) == 0 {
		fc.add("input_sources", KindMissing, "input_sources must name at least one upstream node")
	}

	operation, _ := stringField(raw, "operation")
	field, _ := stringField(raw, "field")

	if err := fc.err(); err != nil {
		return AggregatorInput{}, err
	}

	return AggregatorInput{
		Strategy:  strategy,
		Sources:   sources,
		Operation: operation,
		Field:     field,
	}, nil
}

// sourceOrder normalizes input_sources. A list keeps its declared order;
// a mapping of alias to node ID falls back to sorted alias order so the
// result is deterministic.
func sourceOrder(v any) ([]string, error) {
	switch src := v.(type) {
	case nil:
		return nil, nil
	case []any:
		out := make([]string, 0, len(src))
		for i, item := range src {
			s, ok := item.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("input_sources[%d] must be a node ID string", i)
			}
			out = append(out, s)
		}
		return out, nil
	case []string:
		return src, nil
	case map[string]any:
		aliases := make([]string, 0, len(src))
		for alias := range src {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)
		out := make([]string, 0, len(aliases))
		for _, alias := range aliases {
			s, ok := src[alias].(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("input_sources[%q] must be a node ID string", alias)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("input_sources must be a list or mapping of node IDs")
	}
}

func (p *aggregatorProcessor) Process(_ context.Context, input AggregatorInput) (AggregatorOutput, error) {
	outputs := map[string]map[string]any{}
	if p.execCtx != nil {
		outputs = p.execCtx.NodeOutputs()
	}

	collected := make([]map[string]any, 0, len(input.Sources))
	for _, id := range input.Sources {
		out, ok := outputs[id]
		if !ok {
			out = map[string]any{}
		}
		collected = append(collected, out)
	}

	var result map[string]any
	switch input.Strategy {
	case AggregateMerge:
		merged := map[string]any{}
		for _, out := range collected {
			for k, v := range out {
				merged[k] = v
			}
		}
		result = merged
	case AggregateList:
		items := make([]any, 0, len(collected))
		for _, out := range collected {
			items = append(items, out)
		}
		result = map[string]any{"items": items}
	case AggregateReduce:
		reduced, err := reduceOutputs(collected, input.Operation, input.Field)
		if err != nil {
			return AggregatorOutput{}, &ExecutionError{
				NodeType: workflow.NodeTypeAggregator,
				NodeID:   p.nodeID(),
				Message:  "reduce aggregation failed",
				Cause:    err,
			}
		}
		result = reduced
	case AggregateCustom:
		byID := make(map[string]any, len(input.Sources))
		for i, id := range input.Sources {
			byID[id] = collected[i]
		}
		result = map[string]any{"sources": byID}
	}

	return AggregatorOutput{
		Strategy:    input.Strategy,
		Result:      result,
		SourceCount: len(input.Sources),
	}, nil
}

// reduceOutputs folds one field of each source output. When no field is
// configured the source's "result" value is used.
func reduceOutputs(collected []map[string]any, operation, field string) (map[string]any, error) {
	if field == "" {
		field = "result"
	}

	values := make([]any, 0, len(collected))
	for _, out := range collected {
		if v, ok := out[field]; ok {
			values = append(values, v)
		}
	}

	switch operation {
	case "concatenate":
		parts := make([]string, 0, len(values))
		for _, v := range values {
			parts = append(parts, fmt.Sprintf("%v", v))
		}
		return map[string]any{"value": strings.Join(parts, "")}, nil
	case "sum", "average":
		total := 0.0
		count := 0
		for _, v := range values {
			n, ok := asNumber(v)
			if !ok {
				return nil, fmt.Errorf("cannot %s non-numeric value %v", operation, v)
			}
			total += n
			count++
		}
		if operation == "average" {
			if count == 0 {
				return map[string]any{"value": 0.0}, nil
			}
			return map[string]any{"value": total / float64(count)}, nil
		}
		return map[string]any{"value": total}, nil
	default:
		// Unrecognized operations fall back to the raw values list.
		return map[string]any{"values": values}, nil
	}
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func (p *aggregatorProcessor) PostProcess(output AggregatorOutput) (map[string]any, error) {
	return map[string]any{
		"strategy":     output.Strategy,
		"result":       output.Result,
		"source_count": output.SourceCount,
	}, nil
}
