package processor

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/workflow"
)

// Adapter transformation types.
const (
	TransformFieldMapping   = "field_mapping"
	TransformTypeConversion = "type_conversion"
	TransformFiltering      = "filtering"
	TransformAggregation    = "aggregation"
	TransformCustom         = "custom"
)

// AdapterInput is the validated input of an adapter node.
type AdapterInput struct {
	Transformation string
	Data           map[string]any
	Config         map[string]any
}

// AdapterOutput is the transformed data plus bookkeeping.
type AdapterOutput struct {
	Transformation string
	Data           map[string]any
	Records        int
}

// adapterProcessor reshapes data between nodes whose output and input
// schemas do not line up.
type adapterProcessor struct {
	base
}

func newAdapterProcessor(node *workflow.Node, execCtx *execution.Context, _ Config) Processor {
	return &adapterProcessor{base: base{node: node, execCtx: execCtx}}
}

func (p *adapterProcessor) Type() workflow.NodeType {
	return workflow.NodeTypeAdapter
}

func (p *adapterProcessor) Execute(ctx context.Context, raw map[string]any) (map[string]any, error) {
	return Run[AdapterInput, AdapterOutput](ctx, p, raw)
}

func (p *adapterProcessor) PreProcess(raw map[string]any) (AdapterInput, error) {
	fc := p.collector(workflow.NodeTypeAdapter)

	transformation, ok := stringField(raw, "transformation_type")
	if !ok || transformation == "" {
		fc.add("transformation_type", KindMissing, "transformation_type is required")
	} else {
		switch transformation {
		case TransformFieldMapping, TransformTypeConversion, TransformFiltering,
			TransformAggregation, TransformCustom:
		default:
			fc.add("transformation_type", KindValue, "unknown transformation type %q", transformation)
		}
	}

	data, ok := mapField(raw, "data")
	if !ok {
		fc.add("data", KindType, "data must be a mapping")
	}

	config, ok := mapField(raw, "config")
	if !ok {
		fc.add("config", KindType, "config must be a mapping")
	}

	if err := fc.err(); err != nil {
		return AdapterInput{}, err
	}

	return AdapterInput{Transformation: transformation, Data: data, Config: config}, nil
}

func (p *adapterProcessor) Process(_ context.Context, input AdapterInput) (AdapterOutput, error) {
	var (
		data    map[string]any
		records int
		err     error
	)

	switch input.Transformation {
	case TransformFieldMapping:
		data, records = mapFields(input.Data, input.Config)
	case TransformTypeConversion:
		data, records, err = convertTypes(input.Data, input.Config)
	case TransformFiltering:
		data, records, err = filterItems(input.Data, input.Config)
	case TransformAggregation:
		data, records = aggregateData(input.Data)
	case TransformCustom:
		data, records = input.Data, len(input.Data)
	}
	if err != nil {
		return AdapterOutput{}, &ExecutionError{
			NodeType: workflow.NodeTypeAdapter,
			NodeID:   p.nodeID(),
			Message:  input.Transformation + " transformation failed",
			Cause:    err,
		}
	}

	return AdapterOutput{
		Transformation: input.Transformation,
		Data:           data,
		Records:        records,
	}, nil
}

func (p *adapterProcessor) PostProcess(output AdapterOutput) (map[string]any, error) {
	return map[string]any{
		"transformation_type": output.Transformation,
		"data":                output.Data,
		"records_processed":   output.Records,
	}, nil
}

// mapFields renames fields according to config's mapping and drops fields
// the mapping does not cover.
func mapFields(data, config map[string]any) (map[string]any, int) {
	mapping, _ := mapField(config, "mapping")
	out := make(map[string]any, len(mapping))
	for from, to := range mapping {
		target, ok := to.(string)
		if !ok || target == "" {
			continue
		}
		if v, present := data[from]; present {
			out[target] = v
		}
	}
	return out, len(out)
}

// convertTypes coerces fields to the types named in config's conversions
// map. Supported targets are integer, float, and string.
func convertTypes(data, config map[string]any) (map[string]any, int, error) {
	conversions, _ := mapField(config, "conversions")
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}

	converted := 0
	for field, target := range conversions {
		v, present := out[field]
		if !present {
			continue
		}
		targetType, ok := target.(string)
		if !ok {
			return nil, 0, fmt.Errorf("conversion target for %q must be a string", field)
		}
		coerced, err := coerce(v, targetType)
		if err != nil {
			return nil, 0, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = coerced
		converted++
	}
	return out, converted, nil
}

func coerce(v any, target string) (any, error) {
	switch target {
	case "string":
		return fmt.Sprintf("%v", v), nil
	case "integer":
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			return int(n), nil
		case float64:
			return int(n), nil
		case string:
			i, err := strconv.Atoi(n)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to integer", n)
			}
			return i, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to integer", v)
		}
	case "float":
		switch n := v.(type) {
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case float64:
			return n, nil
		case string:
			f, err := strconv.ParseFloat(n, 64)
			if err != nil {
				return nil, fmt.Errorf("cannot convert %q to float", n)
			}
			return f, nil
		default:
			return nil, fmt.Errorf("cannot convert %T to float", v)
		}
	default:
		return nil, fmt.Errorf("unknown conversion target %q", target)
	}
}

// filterItems keeps the elements of data's "items" list whose filter field
// exceeds the configured threshold.
func filterItems(data, config map[string]any) (map[string]any, int, error) {
	rawItems, present := data["items"]
	if !present {
		return map[string]any{"items": []any{}}, 0, nil
	}
	items, ok := rawItems.([]any)
	if !ok {
		return nil, 0, fmt.Errorf("data.items must be a list")
	}

	field, _ := stringField(config, "field")
	threshold, _, valid := numberField(config, "threshold")
	if field == "" || !valid {
		return nil, 0, fmt.Errorf("filtering requires a field name and a numeric threshold")
	}

	kept := make([]any, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		n, present, valid := numberField(m, field)
		if !present || !valid {
			continue
		}
		if n > threshold {
			kept = append(kept, item)
		}
	}
	return map[string]any{"items": kept}, len(items), nil
}

// aggregateData collapses the mapping to its key count under
// "aggregated". A per-key breakdown is kept under "counts", where a list
// value contributes its length and any other value counts as one record.
func aggregateData(data map[string]any) (map[string]any, int) {
	counts := make(map[string]any, len(data))
	total := 0
	for k, v := range data {
		n := 1
		if list, ok := v.([]any); ok {
			n = len(list)
		}
		counts[k] = n
		total += n
	}
	return map[string]any{"aggregated": len(data), "counts": counts}, total
}
