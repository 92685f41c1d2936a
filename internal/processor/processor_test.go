package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegraph/tide/internal/execution"
	"github.com/tidegraph/tide/internal/types"
	"github.com/tidegraph/tide/internal/workflow"
)

func testNode(id string, nodeType workflow.NodeType) *workflow.Node {
	return &workflow.Node{ID: id, Type: nodeType, Name: id}
}

func testExecCtx(t *testing.T) *execution.Context {
	t.Helper()
	return execution.NewContext(types.NewID())
}

type stubRunner struct {
	result map[string]any
	err    error

	gotToolID  string
	gotParams  map[string]any
	gotTimeout time.Duration
}

func (s *stubRunner) RunTool(_ context.Context, toolID string, params map[string]any, timeout time.Duration) (map[string]any, error) {
	s.gotToolID = toolID
	s.gotParams = params
	s.gotTimeout = timeout
	return s.result, s.err
}

type stubInvoker struct {
	resp AgentResponse
	err  error
	got  AgentRequest
}

func (s *stubInvoker) Invoke(_ context.Context, req AgentRequest) (AgentResponse, error) {
	s.got = req
	return s.resp, s.err
}

func TestToolProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates to runner", func(t *testing.T) {
		runner := &stubRunner{result: map[string]any{"hosts": 12}}
		p := newToolProcessor(testNode("scan", workflow.NodeTypeTool), testExecCtx(t), Config{ToolRunner: runner})

		out, err := p.Execute(ctx, map[string]any{
			"tool_id":         "port-scan",
			"parameters":      map[string]any{"target": "10.0.0.0/24"},
			"timeout_seconds": 60,
		})
		require.NoError(t, err)

		assert.Equal(t, "port-scan", out["tool_id"])
		assert.Equal(t, map[string]any{"hosts": 12}, out["result"])
		assert.Equal(t, "port-scan", runner.gotToolID)
		assert.Equal(t, 60*time.Second, runner.gotTimeout)
	})

	t.Run("defaults timeout", func(t *testing.T) {
		runner := &stubRunner{result: map[string]any{}}
		p := newToolProcessor(testNode("scan", workflow.NodeTypeTool), testExecCtx(t), Config{ToolRunner: runner})

		_, err := p.Execute(ctx, map[string]any{"tool_id": "port-scan"})
		require.NoError(t, err)
		assert.Equal(t, 30*time.Second, runner.gotTimeout)
	})

	t.Run("placeholder without runner", func(t *testing.T) {
		p := newToolProcessor(testNode("scan", workflow.NodeTypeTool), testExecCtx(t), Config{})

		out, err := p.Execute(ctx, map[string]any{"tool_id": "port-scan"})
		require.NoError(t, err)
		meta, ok := out["metadata"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, true, meta["placeholder"])
	})

	t.Run("missing tool_id fails validation", func(t *testing.T) {
		p := newToolProcessor(testNode("scan", workflow.NodeTypeTool), testExecCtx(t), Config{})

		_, err := p.Execute(ctx, map[string]any{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, workflow.NodeTypeTool, verr.NodeType)
		require.Len(t, verr.Fields, 1)
		assert.Equal(t, "tool_id", verr.Fields[0].Field)
		assert.Equal(t, KindMissing, verr.Fields[0].Kind)
	})

	t.Run("timeout out of range", func(t *testing.T) {
		p := newToolProcessor(testNode("scan", workflow.NodeTypeTool), testExecCtx(t), Config{})

		_, err := p.Execute(ctx, map[string]any{"tool_id": "x", "timeout_seconds": 301})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "timeout_seconds", verr.Fields[0].Field)
		assert.Equal(t, KindRange, verr.Fields[0].Kind)
	})

	t.Run("runner failure wraps cause", func(t *testing.T) {
		cause := errors.New("connection refused")
		p := newToolProcessor(testNode("scan", workflow.NodeTypeTool), testExecCtx(t), Config{ToolRunner: &stubRunner{err: cause}})

		_, err := p.Execute(ctx, map[string]any{"tool_id": "port-scan"})
		var eerr *ExecutionError
		require.ErrorAs(t, err, &eerr)
		assert.Equal(t, "scan", eerr.NodeID)
		assert.ErrorIs(t, err, cause)
	})
}

func TestAgentProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("delegates to invoker", func(t *testing.T) {
		invoker := &stubInvoker{resp: AgentResponse{
			Response:         "three findings",
			StructuredOutput: map[string]any{"findings": 3},
			Usage:            TokenUsage{PromptTokens: 120, CompletionTokens: 40, TotalTokens: 160},
			Model:            "gpt-4o",
		}}
		p := newAgentProcessor(testNode("triage", workflow.NodeTypeAgent), testExecCtx(t), Config{AgentInvoker: invoker})

		out, err := p.Execute(ctx, map[string]any{
			"agent_id":         "triage-agent",
			"prompt_variables": map[string]any{"severity": "high"},
			"max_tokens":       512,
			"temperature":      0.2,
		})
		require.NoError(t, err)

		assert.Equal(t, "three findings", out["response"])
		assert.Equal(t, "gpt-4o", out["model"])
		usage, ok := out["token_usage"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, 160, usage["total_tokens"])
		assert.Equal(t, "triage-agent", invoker.got.AgentID)
		assert.Equal(t, 512, invoker.got.MaxTokens)
	})

	t.Run("missing agent_id fails validation", func(t *testing.T) {
		p := newAgentProcessor(testNode("triage", workflow.NodeTypeAgent), testExecCtx(t), Config{})

		_, err := p.Execute(ctx, map[string]any{})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "agent_id", verr.Fields[0].Field)
	})

	t.Run("temperature out of range", func(t *testing.T) {
		p := newAgentProcessor(testNode("triage", workflow.NodeTypeAgent), testExecCtx(t), Config{})

		_, err := p.Execute(ctx, map[string]any{"agent_id": "a", "temperature": 3.5})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, KindRange, verr.Fields[0].Kind)
	})

	t.Run("placeholder without invoker", func(t *testing.T) {
		p := newAgentProcessor(testNode("triage", workflow.NodeTypeAgent), testExecCtx(t), Config{})

		out, err := p.Execute(ctx, map[string]any{"agent_id": "triage-agent"})
		require.NoError(t, err)
		assert.Equal(t, "none", out["model"])
	})
}

func TestConditionProcessor(t *testing.T) {
	ctx := context.Background()

	conditions := []any{
		map[string]any{"name": "critical", "expression": "severity == 'critical'", "target_node_id": "page"},
		map[string]any{"name": "elevated", "expression": "score > 7", "target_node_id": "ticket"},
		map[string]any{"name": "default", "expression": "true", "target_node_id": "log"},
	}

	t.Run("first match wins", func(t *testing.T) {
		p := newConditionProcessor(testNode("route", workflow.NodeTypeCondition), testExecCtx(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"conditions": conditions,
			"context":    map[string]any{"severity": "critical", "score": 9},
		})
		require.NoError(t, err)

		assert.Equal(t, "critical", out["selected_branch"])
		assert.Equal(t, "page", out["target_node_id"])
		assert.Equal(t, true, out["matched"])
		evaluated, ok := out["evaluated_conditions"].([]map[string]any)
		require.True(t, ok)
		assert.Len(t, evaluated, 3)
	})

	t.Run("later branch matches", func(t *testing.T) {
		p := newConditionProcessor(testNode("route", workflow.NodeTypeCondition), testExecCtx(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"conditions": conditions,
			"context":    map[string]any{"severity": "low", "score": 8},
		})
		require.NoError(t, err)
		assert.Equal(t, "elevated", out["selected_branch"])
		assert.Equal(t, "ticket", out["target_node_id"])
	})

	t.Run("no match falls back to last branch", func(t *testing.T) {
		p := newConditionProcessor(testNode("route", workflow.NodeTypeCondition), testExecCtx(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"conditions": []any{
				map[string]any{"name": "hot", "expression": "score > 7", "target_node_id": "page"},
				map[string]any{"name": "cold", "expression": "score > 100", "target_node_id": "archive"},
			},
			"context": map[string]any{"score": 1},
		})
		require.NoError(t, err)
		assert.Equal(t, false, out["matched"])
		assert.Equal(t, "cold", out["selected_branch"])
		assert.Equal(t, "archive", out["target_node_id"])
	})

	t.Run("evaluation error treated as false", func(t *testing.T) {
		p := newConditionProcessor(testNode("route", workflow.NodeTypeCondition), testExecCtx(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"conditions": []any{
				map[string]any{"name": "broken", "expression": "len(items) > 2", "target_node_id": "a"},
				map[string]any{"name": "ok", "expression": "true", "target_node_id": "b"},
			},
			"context": map[string]any{},
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", out["selected_branch"])

		evaluated := out["evaluated_conditions"].([]map[string]any)
		assert.Contains(t, evaluated[0], "error")
		assert.Equal(t, false, evaluated[0]["result"])
	})

	t.Run("empty conditions fail validation", func(t *testing.T) {
		p := newConditionProcessor(testNode("route", workflow.NodeTypeCondition), testExecCtx(t), Config{})

		_, err := p.Execute(ctx, map[string]any{"conditions": []any{}})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
	})
}

func TestAdapterProcessor(t *testing.T) {
	ctx := context.Background()

	newAdapter := func(t *testing.T) Processor {
		return newAdapterProcessor(testNode("shape", workflow.NodeTypeAdapter), testExecCtx(t), Config{})
	}

	t.Run("field mapping renames and drops", func(t *testing.T) {
		out, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": TransformFieldMapping,
			"data":                map[string]any{"ip": "10.0.0.1", "hostname": "db01", "extra": true},
			"config":              map[string]any{"mapping": map[string]any{"ip": "address", "hostname": "host"}},
		})
		require.NoError(t, err)

		data := out["data"].(map[string]any)
		assert.Equal(t, "10.0.0.1", data["address"])
		assert.Equal(t, "db01", data["host"])
		assert.NotContains(t, data, "extra")
		assert.Equal(t, 2, out["records_processed"])
	})

	t.Run("type conversion", func(t *testing.T) {
		out, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": TransformTypeConversion,
			"data":                map[string]any{"port": "443", "score": 7},
			"config": map[string]any{"conversions": map[string]any{
				"port":  "integer",
				"score": "string",
			}},
		})
		require.NoError(t, err)

		data := out["data"].(map[string]any)
		assert.Equal(t, 443, data["port"])
		assert.Equal(t, "7", data["score"])
	})

	t.Run("type conversion failure", func(t *testing.T) {
		_, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": TransformTypeConversion,
			"data":                map[string]any{"port": "not-a-number"},
			"config":              map[string]any{"conversions": map[string]any{"port": "integer"}},
		})
		var eerr *ExecutionError
		require.ErrorAs(t, err, &eerr)
	})

	t.Run("filtering keeps items above threshold", func(t *testing.T) {
		out, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": TransformFiltering,
			"data": map[string]any{"items": []any{
				map[string]any{"host": "a", "risk": 9.1},
				map[string]any{"host": "b", "risk": 3.0},
				map[string]any{"host": "c", "risk": 7.5},
			}},
			"config": map[string]any{"field": "risk", "threshold": 7},
		})
		require.NoError(t, err)

		data := out["data"].(map[string]any)
		items := data["items"].([]any)
		require.Len(t, items, 2)
		assert.Equal(t, 3, out["records_processed"])
	})

	t.Run("aggregation collapses to key count", func(t *testing.T) {
		out, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": TransformAggregation,
			"data": map[string]any{
				"findings": []any{1, 2, 3},
				"target":   "10.0.0.1",
			},
		})
		require.NoError(t, err)

		data := out["data"].(map[string]any)
		assert.Equal(t, 2, data["aggregated"])
		counts := data["counts"].(map[string]any)
		assert.Equal(t, 3, counts["findings"])
		assert.Equal(t, 1, counts["target"])
		assert.Equal(t, 4, out["records_processed"])
	})

	t.Run("custom passes through", func(t *testing.T) {
		payload := map[string]any{"a": 1, "b": 2}
		out, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": TransformCustom,
			"data":                payload,
		})
		require.NoError(t, err)
		assert.Equal(t, payload, out["data"])
	})

	t.Run("unknown transformation fails validation", func(t *testing.T) {
		_, err := newAdapter(t).Execute(ctx, map[string]any{
			"transformation_type": "pivot",
			"data":                map[string]any{},
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, KindValue, verr.Fields[0].Kind)
	})
}

func TestTriggerProcessor(t *testing.T) {
	ctx := context.Background()

	t.Run("webhook exposes payload and metadata", func(t *testing.T) {
		execCtx := testExecCtx(t)
		p := newTriggerProcessor(testNode("start", workflow.NodeTypeTrigger), execCtx, Config{})

		out, err := p.Execute(ctx, map[string]any{
			"trigger_type": "webhook",
			"payload":      map[string]any{"body": "ping"},
			"metadata":     map[string]any{"source_ip": "203.0.113.9"},
		})
		require.NoError(t, err)

		assert.Equal(t, "webhook", out["trigger_type"])
		assert.NotEmpty(t, out["triggered_at"])

		hook, ok := execCtx.GetVariable("webhook", nil).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"body": "ping"}, hook["payload"])
		assert.Equal(t, map[string]any{"source_ip": "203.0.113.9"}, hook["metadata"])
	})

	t.Run("manual seeds user and fire time", func(t *testing.T) {
		execCtx := testExecCtx(t)
		p := newTriggerProcessor(testNode("start", workflow.NodeTypeTrigger), execCtx, Config{})

		_, err := p.Execute(ctx, map[string]any{
			"payload": map[string]any{"user_id": "oncall"},
		})
		require.NoError(t, err)

		assert.Equal(t, "manual", execCtx.GetVariable("trigger_type", nil))
		manual, ok := execCtx.GetVariable("manual", nil).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "oncall", manual["user_id"])
		assert.NotEmpty(t, manual["fired_at"])
	})

	t.Run("unrecognized type passes payload and metadata through", func(t *testing.T) {
		execCtx := testExecCtx(t)
		p := newTriggerProcessor(testNode("start", workflow.NodeTypeTrigger), execCtx, Config{})

		_, err := p.Execute(ctx, map[string]any{
			"trigger_type": "sensor",
			"payload":      map[string]any{"reading": 42},
			"metadata":     map[string]any{"unit": "celsius"},
		})
		require.NoError(t, err)

		passthrough, ok := execCtx.GetVariable("trigger", nil).(map[string]any)
		require.True(t, ok)
		assert.Equal(t, map[string]any{"reading": 42}, passthrough["payload"])
		assert.Equal(t, map[string]any{"unit": "celsius"}, passthrough["metadata"])
	})

	t.Run("non-mapping metadata fails validation", func(t *testing.T) {
		p := newTriggerProcessor(testNode("start", workflow.NodeTypeTrigger), testExecCtx(t), Config{})

		_, err := p.Execute(ctx, map[string]any{
			"trigger_type": "webhook",
			"metadata":     "not-a-map",
		})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "metadata", verr.Fields[0].Field)
	})

	t.Run("schedule stamps fired_at", func(t *testing.T) {
		execCtx := testExecCtx(t)
		p := newTriggerProcessor(testNode("start", workflow.NodeTypeTrigger), execCtx, Config{})

		out, err := p.Execute(ctx, map[string]any{
			"trigger_type": "schedule",
			"payload":      map[string]any{"schedule_id": "nightly"},
		})
		require.NoError(t, err)

		vars := out["variables"].(map[string]any)
		sched := vars["schedule"].(map[string]any)
		assert.Equal(t, "nightly", sched["schedule_id"])
		assert.NotEmpty(t, sched["fired_at"])
	})
}

func TestAggregatorProcessor(t *testing.T) {
	ctx := context.Background()

	seeded := func(t *testing.T) *execution.Context {
		execCtx := testExecCtx(t)
		execCtx.SetNodeOutput("scan", map[string]any{"result": 3.0, "target": "10.0.0.1"})
		execCtx.SetNodeOutput("probe", map[string]any{"result": 4.0, "target": "10.0.0.2"})
		return execCtx
	}

	t.Run("merge later wins", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateMerge,
			"input_sources": []any{"scan", "probe"},
		})
		require.NoError(t, err)

		result := out["result"].(map[string]any)
		assert.Equal(t, "10.0.0.2", result["target"])
		assert.Equal(t, 2, out["source_count"])
	})

	t.Run("list preserves declared order", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateList,
			"input_sources": []any{"probe", "scan"},
		})
		require.NoError(t, err)

		items := out["result"].(map[string]any)["items"].([]any)
		require.Len(t, items, 2)
		first := items[0].(map[string]any)
		assert.Equal(t, "10.0.0.2", first["target"])
	})

	t.Run("map sources use sorted alias order", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy": AggregateList,
			"input_sources": map[string]any{
				"b_probe": "probe",
				"a_scan":  "scan",
			},
		})
		require.NoError(t, err)

		items := out["result"].(map[string]any)["items"].([]any)
		first := items[0].(map[string]any)
		assert.Equal(t, "10.0.0.1", first["target"])
	})

	t.Run("reduce sum", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateReduce,
			"operation":     "sum",
			"input_sources": []any{"scan", "probe"},
		})
		require.NoError(t, err)
		result := out["result"].(map[string]any)
		assert.Equal(t, 7.0, result["value"])
	})

	t.Run("reduce average", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateReduce,
			"operation":     "average",
			"input_sources": []any{"scan", "probe"},
		})
		require.NoError(t, err)
		assert.Equal(t, 3.5, out["result"].(map[string]any)["value"])
	})

	t.Run("reduce concatenate on named field", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateReduce,
			"operation":     "concatenate",
			"field":         "target",
			"input_sources": []any{"scan", "probe"},
		})
		require.NoError(t, err)
		assert.Equal(t, "10.0.0.110.0.0.2", out["result"].(map[string]any)["value"])
	})

	t.Run("reduce sum rejects non-numeric", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		_, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateReduce,
			"operation":     "sum",
			"field":         "target",
			"input_sources": []any{"scan", "probe"},
		})
		var eerr *ExecutionError
		require.ErrorAs(t, err, &eerr)
	})

	t.Run("reduce unknown operation returns raw values", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateReduce,
			"operation":     "median",
			"input_sources": []any{"scan", "probe"},
		})
		require.NoError(t, err)
		values := out["result"].(map[string]any)["values"].([]any)
		assert.Equal(t, []any{3.0, 4.0}, values)
	})

	t.Run("custom groups by source id", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		out, err := p.Execute(ctx, map[string]any{
			"strategy":      AggregateCustom,
			"input_sources": []any{"scan"},
		})
		require.NoError(t, err)
		sources := out["result"].(map[string]any)["sources"].(map[string]any)
		assert.Contains(t, sources, "scan")
	})

	t.Run("missing sources fail validation", func(t *testing.T) {
		p := newAggregatorProcessor(testNode("collect", workflow.NodeTypeAggregator), seeded(t), Config{})

		_, err := p.Execute(ctx, map[string]any{"strategy": AggregateMerge})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "input_sources", verr.Fields[0].Field)
	})
}

func TestRegistry(t *testing.T) {
	t.Run("builtin registry covers the six node types", func(t *testing.T) {
		r := NewBuiltinRegistry()
		for _, nodeType := range []workflow.NodeType{
			workflow.NodeTypeTrigger,
			workflow.NodeTypeTool,
			workflow.NodeTypeAgent,
			workflow.NodeTypeCondition,
			workflow.NodeTypeAdapter,
			workflow.NodeTypeAggregator,
		} {
			factory, err := r.Get(nodeType)
			require.NoError(t, err, "node type %s", nodeType)

			p := factory(testNode("n", nodeType), testExecCtx(t), Config{})
			assert.Equal(t, nodeType, p.Type())
		}
	})

	t.Run("register rejects duplicates", func(t *testing.T) {
		r := NewRegistry()
		require.NoError(t, r.Register(workflow.NodeTypeTool, newToolProcessor))
		assert.Error(t, r.Register(workflow.NodeTypeTool, newToolProcessor))
	})

	t.Run("replace overwrites", func(t *testing.T) {
		r := NewBuiltinRegistry()
		r.Replace(workflow.NodeTypeTool, newAdapterProcessor)

		factory, err := r.Get(workflow.NodeTypeTool)
		require.NoError(t, err)
		p := factory(testNode("n", workflow.NodeTypeAdapter), testExecCtx(t), Config{})
		assert.Equal(t, workflow.NodeTypeAdapter, p.Type())
	})

	t.Run("unknown type", func(t *testing.T) {
		r := NewRegistry()
		_, err := r.Get(workflow.NodeTypeTool)
		var nfe *NotFoundError
		require.ErrorAs(t, err, &nfe)
	})

	t.Run("create builds from node type", func(t *testing.T) {
		r := NewBuiltinRegistry()
		p, err := r.Create(testNode("route", workflow.NodeTypeCondition), testExecCtx(t), Config{})
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeTypeCondition, p.Type())
	})
}
