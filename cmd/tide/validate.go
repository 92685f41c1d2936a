package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/tidegraph/tide/internal/workflow"
)

var validateJSON bool

var validateCmd = &cobra.Command{
	Use:   "validate <workflow.yaml>",
	Short: "Validate a workflow definition",
	Long: `Validate checks a workflow definition for structural problems:
duplicate or dangling identifiers, cycles, unreachable nodes, and
dead ends. Exits non-zero when the definition is invalid.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().BoolVar(&validateJSON, "json", false, "Emit the full validation result as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
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

	if validateJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printValidation(cmd, w, result)
	}

	if !result.Valid {
		os.Exit(1)
	}
	return nil
}

func printValidation(cmd *cobra.Command, w *workflow.Workflow, result *workflow.ValidationResult) {
	if result.Valid {
		cmd.Printf("%s: valid (%d nodes, %d edges)\n", w.Name, len(w.Nodes), len(w.Edges))
	} else {
		cmd.Printf("%s: INVALID\n", w.Name)
	}
	for _, issue := range result.Errors {
		cmd.Printf("  error   [%s] %s\n", issue.Code, issue.Message)
	}
	for _, issue := range result.Warnings {
		cmd.Printf("  warning [%s] %s\n", issue.Code, issue.Message)
	}
	if len(result.Cycle) > 0 {
		cmd.Printf("  cycle: %v\n", result.Cycle)
	}
}
