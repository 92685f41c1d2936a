package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/tidegraph/tide/internal/processor"
)

// fakeModel records the last call and returns a scripted response.
type fakeModel struct {
	lastMessages []llms.MessageContent
	lastOpts     llms.CallOptions
	resp         *llms.ContentResponse
	err          error
}

func (f *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	f.lastMessages = messages
	for _, opt := range opts {
		opt(&f.lastOpts)
	}
	return f.resp, f.err
}

func (f *fakeModel) Call(_ context.Context, _ string, _ ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func textResponse(content string, info map[string]any) *llms.ContentResponse {
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{
			{Content: content, GenerationInfo: info},
		},
	}
}

func TestInvokeReturnsResponseAndUsage(t *testing.T) {
	model := &fakeModel{
		resp: textResponse("scan finished", map[string]any{
			"PromptTokens":     12,
			"CompletionTokens": 5,
			"TotalTokens":      17,
		}),
	}
	inv := NewInvoker(model, "gpt-4o-mini")

	resp, err := inv.Invoke(context.Background(), processor.AgentRequest{
		AgentID:   "recon",
		Variables: map[string]any{"prompt": "scan the target"},
	})
	require.NoError(t, err)

	assert.Equal(t, "scan finished", resp.Response)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 12, resp.Usage.PromptTokens)
	assert.Equal(t, 5, resp.Usage.CompletionTokens)
	assert.Equal(t, 17, resp.Usage.TotalTokens)
	assert.Nil(t, resp.StructuredOutput)
}

func TestInvokeParsesStructuredOutput(t *testing.T) {
	model := &fakeModel{
		resp: textResponse(`{"verdict": "pass", "score": 0.9}`, nil),
	}
	inv := NewInvoker(model, "gpt-4o-mini")

	resp, err := inv.Invoke(context.Background(), processor.AgentRequest{AgentID: "judge"})
	require.NoError(t, err)

	require.NotNil(t, resp.StructuredOutput)
	assert.Equal(t, "pass", resp.StructuredOutput["verdict"])
	assert.Equal(t, 0.9, resp.StructuredOutput["score"])
}

func TestInvokeAppliesRequestOptions(t *testing.T) {
	model := &fakeModel{resp: textResponse("ok", nil)}
	inv := NewInvoker(model, "m", WithDefaultMaxTokens(256), WithDefaultTemperature(0.7))

	_, err := inv.Invoke(context.Background(), processor.AgentRequest{
		AgentID:     "a",
		MaxTokens:   64,
		Temperature: 1.3,
	})
	require.NoError(t, err)
	assert.Equal(t, 64, model.lastOpts.MaxTokens)
	assert.InDelta(t, 1.3, model.lastOpts.Temperature, 1e-9)

	// defaults apply when the request leaves options unset
	_, err = inv.Invoke(context.Background(), processor.AgentRequest{AgentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 256, model.lastOpts.MaxTokens)
	assert.InDelta(t, 0.7, model.lastOpts.Temperature, 1e-9)
}

func TestInvokePromptIncludesVariables(t *testing.T) {
	model := &fakeModel{resp: textResponse("ok", nil)}
	inv := NewInvoker(model, "m")

	_, err := inv.Invoke(context.Background(), processor.AgentRequest{
		AgentID: "recon",
		Variables: map[string]any{
			"prompt": "enumerate hosts",
			"target": "10.0.0.0/24",
			"depth":  3,
		},
	})
	require.NoError(t, err)

	require.Len(t, model.lastMessages, 2)
	human := model.lastMessages[1]
	require.Len(t, human.Parts, 1)
	text, ok := human.Parts[0].(llms.TextContent)
	require.True(t, ok)
	assert.Contains(t, text.Text, "enumerate hosts")
	assert.Contains(t, text.Text, "target: 10.0.0.0/24")
	assert.Contains(t, text.Text, "depth: 3")
}

func TestInvokePropagatesModelError(t *testing.T) {
	model := &fakeModel{err: errors.New("rate limited")}
	inv := NewInvoker(model, "m")

	_, err := inv.Invoke(context.Background(), processor.AgentRequest{AgentID: "a"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestStaticInvoker(t *testing.T) {
	s := &StaticInvoker{}
	resp, err := s.Invoke(context.Background(), processor.AgentRequest{
		AgentID:   "triage",
		Variables: map[string]any{"severity": "high"},
	})
	require.NoError(t, err)
	assert.Equal(t, "agent triage executed", resp.Response)
	assert.Equal(t, "static", resp.Model)
	assert.Equal(t, "triage", resp.StructuredOutput["agent_id"])

	canned := &StaticInvoker{Response: "done", Structured: map[string]any{"ok": true}}
	resp, err = canned.Invoke(context.Background(), processor.AgentRequest{AgentID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Response)
	assert.Equal(t, map[string]any{"ok": true}, resp.StructuredOutput)
}
