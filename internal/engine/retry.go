package engine

import (
	"time"

	"github.com/tidegraph/tide/internal/workflow"
)

// Backoff strategies accepted in a node's retry configuration.
const (
	backoffConstant    = "constant"
	backoffLinear      = "linear"
	backoffExponential = "exponential"
)

const (
	defaultRetryDelay  = 500 * time.Millisecond
	maxRetryAttempts   = 10
	maxBackoffInterval = 30 * time.Second
)

// retryPolicy controls how often a failing node is re-run. The zero
// policy runs the node exactly once.
type retryPolicy struct {
	maxAttempts int
	backoff     string
	delay       time.Duration
}

// retryPolicyFor reads the node's retry block:
//
//	retry:
//	  max_attempts: 3
//	  backoff: exponential
//	  delay_ms: 250
func retryPolicyFor(node *workflow.Node) retryPolicy {
	policy := retryPolicy{maxAttempts: 1, backoff: backoffConstant, delay: defaultRetryDelay}
	if node == nil || node.Config == nil {
		return policy
	}
	raw, ok := node.Config["retry"].(map[string]any)
	if !ok {
		return policy
	}

	if n, ok := asInt(raw["max_attempts"]); ok && n > 1 {
		policy.maxAttempts = min(n, maxRetryAttempts)
	}
	if b, ok := raw["backoff"].(string); ok {
		switch b {
		case backoffConstant, backoffLinear, backoffExponential:
			policy.backoff = b
		}
	}
	if ms, ok := asInt(raw["delay_ms"]); ok && ms > 0 {
		policy.delay = time.Duration(ms) * time.Millisecond
	}
	return policy
}

// wait returns how long to sleep before the given attempt number,
// counting from 1 for the first retry.
func (p retryPolicy) wait(attempt int) time.Duration {
	var d time.Duration
	switch p.backoff {
	case backoffLinear:
		d = p.delay * time.Duration(attempt)
	case backoffExponential:
		d = p.delay << (attempt - 1)
	default:
		d = p.delay
	}
	if d > maxBackoffInterval {
		return maxBackoffInterval
	}
	return d
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
