package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackform/stackform/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	var (
		deployment string
		guardrails bool
	)

	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Show the aggregated IAM policy for a deployment",
		Long: `Aggregate the minimal IAM policy the deployment needs.

Each component definition carries the IAM statements its provider
requires. Allow statements sharing a resource scope are merged and
their actions deduplicated; Deny statements pass through untouched.
The {region}, {account_id} and {name} placeholders are substituted
from the configuration.`,
		Example: `  # Print the aggregated policy document
  stackform policy

  # List the guardrail policies that gate apply
  stackform policy --guardrails`,
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := setup()
			if err != nil {
				return err
			}

			if guardrails {
				guard := policy.NewGuard(env.logger)
				if dir := env.cfg.Policy.GuardrailDir; dir != "" {
					if err := guard.LoadDir(dir); err != nil {
						return err
					}
				}
				for _, p := range guard.Policies() {
					state := "enabled"
					if !p.Enabled {
						state = "disabled"
					}
					fmt.Printf("  %s [%s, %s]\n      %s\n", p.Name, p.Severity, state, p.Description)
				}
				return nil
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

			doc := policy.NewAggregator(policy.Vars{
				Region:    env.cfg.Vars.Region,
				AccountID: env.cfg.Vars.AccountID,
			}).Aggregate(instances)

			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(doc)
		},
	}

	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment document path")
	cmd.Flags().BoolVar(&guardrails, "guardrails", false, "list guardrail policies instead")

	return cmd
}
