package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackform/stackform/pkg/engine"
)

func newPlanCommand() *cobra.Command {
	var (
		deployment string
		outFile    string
		dotFile    string
	)

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the operations needed to converge",
		Long: `Compute the plan that moves observed provider state to the deployment's
desired state.

The plan:
  - Validates the deployment against the catalog
  - Resolves cross-component references into a dependency graph
  - Diffs desired fields and tags against observed resources
  - Orders creates and updates along the graph, pairs replacements,
    and deletes resources no longer declared`,
		Example: `  # Show the plan
  stackform plan

  # Persist the plan for apply
  stackform plan --out plan.json

  # Also render the dependency graph
  stackform plan --out plan.json --dot graph.dot`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			env, err := setup()
			if err != nil {
				return err
			}

			path, err := env.deploymentPath(deployment)
			if err != nil {
				return err
			}

			store, err := env.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			providers, err := env.buildProviders(ctx, store)
			if err != nil {
				return err
			}

			plan, graph, err := env.computePlan(ctx, path, store, providers)
			if err != nil {
				if printManifestError(err) {
					return fmt.Errorf("deployment %s is invalid", path)
				}
				return err
			}

			if dotFile != "" {
				if err := os.WriteFile(dotFile, []byte(graph.ToDOT()), 0o644); err != nil {
					return fmt.Errorf("failed to write graph: %w", err)
				}
			}
			if outFile != "" {
				data, err := json.MarshalIndent(plan, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(outFile, data, 0o644); err != nil {
					return fmt.Errorf("failed to write plan: %w", err)
				}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(plan)
			}
			printPlan(plan)
			return nil
		},
	}

	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment document path")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the plan to a file")
	cmd.Flags().StringVar(&dotFile, "dot", "", "write the dependency graph in DOT format")

	return cmd
}

func printPlan(plan *engine.Plan) {
	fmt.Printf("Plan %s: %d to create, %d to update, %d to delete, %d unchanged\n\n",
		plan.ID, plan.Summary.Creates, plan.Summary.Updates,
		plan.Summary.Deletes, plan.Summary.Noops)

	for _, op := range plan.Operations {
		switch op.Type {
		case engine.OperationCreate:
			fmt.Printf("  + create %s (%s)\n", op.Component, op.ComponentType)
		case engine.OperationUpdate:
			fmt.Printf("  ~ update %s (%s): %v\n", op.Component, op.ComponentType, op.ChangedFields)
		case engine.OperationDelete:
			fmt.Printf("  - delete %s (%s)\n", op.Component, op.ComponentType)
		case engine.OperationNoop:
			fmt.Printf("    noop   %s (%s)\n", op.Component, op.ComponentType)
		}
		if op.Reason != "" {
			fmt.Printf("           %s\n", op.Reason)
		}
	}
}
