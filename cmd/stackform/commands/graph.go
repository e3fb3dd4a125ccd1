package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newGraphCommand() *cobra.Command {
	var (
		deployment string
		outFile    string
	)

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Render the dependency graph in DOT format",
		Long: `Resolve the deployment's cross-component references and render the
resulting dependency graph for Graphviz. Instances in the same cluster
can be applied in parallel.`,
		Example: `  # Print the graph
  stackform graph

  # Render to a file and convert with Graphviz
  stackform graph --out graph.dot && dot -Tsvg graph.dot -o graph.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}

			path, err := env.deploymentPath(deployment)
			if err != nil {
				return err
			}

			instances, err := env.loadInstances(cmd.Context(), path, nil)
			if err != nil {
				if printManifestError(err) {
					return fmt.Errorf("deployment %s is invalid", path)
				}
				return err
			}

			graph, err := resolveGraph(instances)
			if err != nil {
				return err
			}

			dot := graph.ToDOT()
			if outFile != "" {
				return os.WriteFile(outFile, []byte(dot), 0o644)
			}
			fmt.Print(dot)
			return nil
		},
	}

	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment document path")
	cmd.Flags().StringVarP(&outFile, "out", "o", "", "write the graph to a file")

	return cmd
}
