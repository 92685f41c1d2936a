package expr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() map[string]any {
	return map[string]any{
		"count":  int(5),
		"name":   "alice",
		"active": true,
		"nodes": map[string]any{
			"fetch": map[string]any{
				"status": "completed",
				"output": map[string]any{"rows": 12.0},
			},
		},
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"!false", true},
		{"count == 5", true},
		{"count != 5", false},
		{"count > 3", true},
		{"count >= 5", true},
		{"count < 3", false},
		{"name == 'alice'", true},
		{`name == "bob"`, false},
		{"name < 'bob'", true},
		{"active", true},
		{"active && count > 3", true},
		{"active && count > 10", false},
		{"count > 10 || name == 'alice'", true},
		{"(count > 10 || active) && name == 'alice'", true},
		{"nodes.fetch.status == 'completed'", true},
		{"nodes.fetch.output.rows >= 12", true},
		{"3 < 4", true},
	}

	ctx := testContext()
	for _, tc := range tests {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := Evaluate(tc.expr, ctx)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestEvaluateErrors(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"unknown reference", "ghost == 1"},
		{"unknown nested reference", "nodes.ghost.status == 'x'"},
		{"non-boolean result", "count"},
		{"non-boolean operand for and", "count && active"},
		{"non-boolean operand for not", "!count"},
		{"incomparable operands", "name > 3"},
		{"unterminated string", "name == 'alice"},
		{"unexpected character", "count @ 3"},
		{"trailing garbage", "true true"},
		{"unbalanced paren", "(count > 3"},
		{"function calls are not part of the grammar", "len(name) > 2"},
		{"indexing is not part of the grammar", "items[0] == 1"},
	}

	ctx := testContext()
	ctx["items"] = []any{1.0}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Evaluate(tc.expr, ctx)
			assert.Error(t, err)
		})
	}
}

func TestEvaluateNumericWidening(t *testing.T) {
	ctx := map[string]any{"a": int64(7), "b": float64(7)}
	got, err := Evaluate("a == b", ctx)
	require.NoError(t, err)
	assert.True(t, got)
}
