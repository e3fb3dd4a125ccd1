package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var deployment string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a deployment document",
		Long: `Validate a deployment document against the component catalog.

Every instance is checked against its component definition: required
fields, unknown fields, enum membership, numeric bounds, and value
types. All failures across all instances are reported at once.`,
		Example: `  # Validate the configured deployment
  stackform validate

  # Validate a specific document
  stackform validate --deployment ./staging.json`,
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

			if _, err := resolveGraph(instances); err != nil {
				return err
			}

			fmt.Printf("Deployment %s is valid: %d instance(s)\n", path, len(instances))
			for _, inst := range instances {
				fmt.Printf("  %s (%s)\n", inst.Name, inst.Type)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment document path")

	return cmd
}
