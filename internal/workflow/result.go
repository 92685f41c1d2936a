package workflow

// Issue is a single structured validation finding. Errors make the
// workflow invalid; warnings are advisory and never block execution.
type Issue struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	NodeID  string    `json:"node_id,omitempty"`
	Edge    *Edge     `json:"edge,omitempty"`
}

// Topology is the computed execution order of a valid workflow: a
// topological order plus each node's dependency depth (roots at 0).
type Topology struct {
	Order  []string       `json:"order"`
	Depths map[string]int `json:"depths"`
}

// ValidationResult is the structured outcome of a validation call. It is
// always fully populated, even on failure: callers receive every error in
// Errors, advisory findings in Warnings, cycle detail in Cycle when the
// failure is a cycle, and Topology when the graph is acyclic.
type ValidationResult struct {
	Valid    bool      `json:"valid"`
	Errors   []Issue   `json:"errors,omitempty"`
	Warnings []Issue   `json:"warnings,omitempty"`
	Topology *Topology `json:"topology,omitempty"`
	Cycle    []string  `json:"cycle,omitempty"`
}

// addError records an error and marks the result invalid.
func (r *ValidationResult) addError(issue Issue) {
	r.Valid = false
	r.Errors = append(r.Errors, issue)
}

// addWarning records an advisory finding.
func (r *ValidationResult) addWarning(issue Issue) {
	r.Warnings = append(r.Warnings, issue)
}

// FirstError returns the first recorded error as a *Error, or nil when the
// result is valid.
func (r *ValidationResult) FirstError() *Error {
	if len(r.Errors) == 0 {
		return nil
	}
	issue := r.Errors[0]
	return &Error{
		Code:    issue.Code,
		Message: issue.Message,
		NodeID:  issue.NodeID,
		Edge:    issue.Edge,
		Cycle:   r.Cycle,
	}
}

// CycleCheckResult is the outcome of the cheap cycle-only check used for
// fast-path UI feedback.
type CycleCheckResult struct {
	HasCycle bool     `json:"has_cycle"`
	Cycle    []string `json:"cycle,omitempty"`
}
