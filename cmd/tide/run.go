package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tidegraph/tide/internal/engine"
	"github.com/tidegraph/tide/internal/llm"
	"github.com/tidegraph/tide/internal/processor"
	"github.com/tidegraph/tide/internal/store"
	"github.com/tidegraph/tide/internal/workflow"
)

var (
	runInputs    []string
	runInputJSON string
	runNoPersist bool
	runLive      bool
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run <workflow.yaml>",
	Short: "Execute a workflow",
	Long: `Run validates a workflow, then executes its nodes concurrently in
dependency order. Agent nodes use a static invoker unless --live is
set, in which case the configured LLM provider is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runInputs, "input", "i", nil, "Input variable as key=value (repeatable)")
	runCmd.Flags().StringVar(&runInputJSON, "input-json", "", "Input variables as a JSON object")
	runCmd.Flags().BoolVar(&runNoPersist, "no-persist", false, "Run without writing execution records to the database")
	runCmd.Flags().BoolVar(&runLive, "live", false, "Invoke the configured LLM provider for agent nodes")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Emit the execution record as JSON")
}

func runRun(cmd *cobra.Command, args []string) error {
	w, err := workflow.LoadYAMLFile(args[0])
	if err != nil {
		return err
	}

	input, err := parseInputs(runInputs, runInputJSON)
	if err != nil {
		return err
	}

	var invoker processor.AgentInvoker = &llm.StaticInvoker{}
	if runLive {
		invoker, err = llm.NewInvokerFromConfig(cfg.LLM, logger)
		if err != nil {
			return err
		}
	}

	opts := []engine.ExecutorOption{
		engine.WithLogger(logger),
		engine.WithMaxParallel(cfg.Core.MaxParallelNodes),
		engine.WithProcessorConfig(processor.Config{AgentInvoker: invoker}),
	}
	if !runNoPersist {
		db, err := store.OpenSQLite(cfg.Database.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.SaveWorkflow(cmd.Context(), w); err != nil {
			return err
		}
		opts = append(opts, engine.WithExecutionStore(db))
	}

	executor := engine.NewWorkflowExecutor(opts...)
	exec, err := executor.Execute(cmd.Context(), w, workflow.TriggerTypeManual, input)
	if exec == nil {
		return err
	}

	if runJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(exec); encErr != nil {
			return encErr
		}
		return err
	}

	cmd.Printf("execution %s: %s\n", exec.ID, exec.Status)
	if exec.Error != "" {
		cmd.Printf("  error: %s\n", exec.Error)
	}
	for _, node := range w.Nodes {
		if out, ok := exec.Output[node.ID]; ok {
			encoded, _ := json.Marshal(out)
			cmd.Printf("  %s: %s\n", node.ID, encoded)
		}
	}
	return err
}

// parseInputs merges --input key=value pairs over an optional
// --input-json object.
func parseInputs(pairs []string, rawJSON string) (map[string]any, error) {
	input := map[string]any{}
	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &input); err != nil {
			return nil, fmt.Errorf("invalid --input-json: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("invalid --input %q, expected key=value", pair)
		}
		input[key] = value
	}
	if len(input) == 0 {
		return nil, nil
	}
	return input, nil
}
