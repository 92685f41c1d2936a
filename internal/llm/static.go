package llm

import (
	"context"

	"github.com/tidegraph/tide/internal/processor"
)

// StaticInvoker returns a canned response for every request. It exists
// for workflows that must run without a model backend, and for tests.
type StaticInvoker struct {
	Response   string
	Structured map[string]any
}

// Invoke returns the configured response. The request's variables are
// echoed into the structured output when none is configured.
func (s *StaticInvoker) Invoke(_ context.Context, req processor.AgentRequest) (processor.AgentResponse, error) {
	structured := s.Structured
	if structured == nil {
		structured = map[string]any{
			"agent_id":  req.AgentID,
			"variables": req.Variables,
		}
	}
	response := s.Response
	if response == "" {
		response = "agent " + req.AgentID + " executed"
	}
	return processor.AgentResponse{
		Response:         response,
		StructuredOutput: structured,
		Model:            "static",
	}, nil
}
