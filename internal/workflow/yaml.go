package workflow

// YAML-based workflow definitions.
//
// Workflows can be written in a human-readable YAML format and parsed into
// executable Workflow structures:
//
//	name: nightly-report
//	description: Pull metrics, summarize, store
//	nodes:
//	  - id: start
//	    type: trigger
//	    config:
//	      trigger_type: schedule
//	  - id: fetch
//	    type: tool
//	    timeout: 45s
//	    depends_on: [start]
//	    config:
//	      tool_id: metrics-fetch
//	  - id: summarize
//	    type: agent
//	    depends_on: [fetch]
//	    config:
//	      agent_id: summarizer
//	edges:
//	  - source: summarize
//	    target: collect
//
// Dependencies can be declared either as explicit edges or per-node via
// depends_on; both forms produce the same Edge rows. Timeout values use Go
// duration syntax ("300ms", "45s", "5m").

import (
	"fmt"
	"os"
	"time"

	"github.com/tidegraph/tide/internal/types"
	"gopkg.in/yaml.v3"
)

// yamlWorkflow is the top-level structure of a workflow YAML file.
type yamlWorkflow struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description"`
	Nodes       []yamlNode `yaml:"nodes"`
	Edges       []Edge     `yaml:"edges"`
}

// yamlNode is a single node entry in a workflow YAML file.
type yamlNode struct {
	ID        string         `yaml:"id"`
	Type      string         `yaml:"type"`
	Name      string         `yaml:"name"`
	Timeout   string         `yaml:"timeout"`
	DependsOn []string       `yaml:"depends_on"`
	Config    map[string]any `yaml:"config"`
}

// ParseYAML parses YAML workflow definition bytes into a Workflow.
func ParseYAML(data []byte) (*Workflow, error) {
	var raw yamlWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	if raw.Name == "" {
		return nil, fmt.Errorf("workflow must have a name")
	}
	if len(raw.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %q must define at least one node", raw.Name)
	}

	now := time.Now()
	w := &Workflow{
		ID:          types.NewID(),
		Name:        raw.Name,
		Description: raw.Description,
		Version:     1,
		Edges:       raw.Edges,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	seen := make(map[string]bool, len(raw.Nodes))
	for _, rn := range raw.Nodes {
		if rn.ID == "" {
			return nil, fmt.Errorf("workflow %q contains a node without an id", raw.Name)
		}
		if seen[rn.ID] {
			return nil, fmt.Errorf("workflow %q declares node %q more than once", raw.Name, rn.ID)
		}
		seen[rn.ID] = true

		nodeType := NodeType(rn.Type)
		if !nodeType.Valid() {
			return nil, fmt.Errorf("node %q has unknown type %q", rn.ID, rn.Type)
		}

		node := &Node{
			ID:     rn.ID,
			Type:   nodeType,
			Name:   rn.Name,
			Config: rn.Config,
		}
		if rn.Timeout != "" {
			d, err := time.ParseDuration(rn.Timeout)
			if err != nil {
				return nil, fmt.Errorf("node %q has invalid timeout %q: %w", rn.ID, rn.Timeout, err)
			}
			node.Timeout = d
		}
		w.Nodes = append(w.Nodes, node)

		// depends_on entries become regular edges.
		for _, dep := range rn.DependsOn {
			w.Edges = append(w.Edges, Edge{Source: dep, Target: rn.ID})
		}
	}

	for _, e := range w.Edges {
		if !seen[e.Source] {
			return nil, fmt.Errorf("edge references unknown source node %q", e.Source)
		}
		if !seen[e.Target] {
			return nil, fmt.Errorf("edge references unknown target node %q", e.Target)
		}
	}

	return w, nil
}

// LoadYAMLFile reads and parses a workflow definition from a YAML file.
func LoadYAMLFile(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", path, err)
	}
	return ParseYAML(data)
}
