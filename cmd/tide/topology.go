package main

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/tidegraph/tide/internal/workflow"
)

var topologyJSON bool

var topologyCmd = &cobra.Command{
	Use:   "topology <workflow.yaml>",
	Short: "Print the execution order of a workflow",
	Long: `Topology validates a workflow and prints its execution order as
waves: each wave lists the nodes that run concurrently once every
node in the previous waves has completed.`,
	Args: cobra.ExactArgs(1),
	RunE: runTopology,
}

func init() {
	topologyCmd.Flags().BoolVar(&topologyJSON, "json", false, "Emit the topology as JSON")
}

func runTopology(cmd *cobra.Command, args []string) error {
	w, err := workflow.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}

	validator := workflow.NewDAGValidator(nil,
		workflow.WithMaxGraphSize(cfg.Validator.MaxNodes, cfg.Validator.MaxEdges),
		workflow.WithTimeBudget(cfg.Validator.TimeBudget),
		workflow.WithValidatorLogger(logger),
	)
	result := validator.ValidateDefinition(cmd.Context(), w)
	if !result.Valid {
		if err := result.FirstError(); err != nil {
			return err
		}
		return fmt.Errorf("workflow %s is invalid", w.Name)
	}

	if topologyJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result.Topology)
	}

	waves := wavesByDepth(result.Topology)
	cmd.Printf("%s: %d nodes in %d waves\n", w.Name, len(result.Topology.Order), len(waves))
	for i, wave := range waves {
		cmd.Printf("  wave %d: %v\n", i, wave)
	}
	return nil
}

// wavesByDepth groups node IDs by depth, each wave sorted for stable
// output.
func wavesByDepth(topo *workflow.Topology) [][]string {
	maxDepth := 0
	for _, d := range topo.Depths {
		if d > maxDepth {
			maxDepth = d
		}
	}
	waves := make([][]string, maxDepth+1)
	for _, id := range topo.Order {
		d := topo.Depths[id]
		waves[d] = append(waves[d], id)
	}
	for _, wave := range waves {
		sort.Strings(wave)
	}
	return waves
}
