package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stackform/stackform/pkg/engine"
	"github.com/stackform/stackform/pkg/policy"
	"github.com/stackform/stackform/pkg/telemetry"
)

func newApplyCommand() *cobra.Command {
	var (
		deployment  string
		autoApprove bool
		parallelism int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Plan and execute the changes to converge",
		Long: `Compute a plan and execute it against the providers.

Before anything runs, the aggregated IAM policy and the plan are
checked against the guardrail policies. A guardrail violation of error
severity blocks the run; warnings are printed and the run proceeds.

Operations with no dependency between them run in parallel. Transient
provider failures are retried with exponential backoff; dependents of a
failed operation are blocked rather than attempted.`,
		Example: `  # Plan and apply with an approval prompt
  stackform apply

  # Apply without prompting
  stackform apply --auto-approve

  # Limit provider concurrency
  stackform apply --parallelism 2`,
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

			instances, err := env.loadInstances(ctx, path, store)
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

			observed, err := providers.Observe(ctx)
			if err != nil {
				return err
			}

			plan, err := engine.NewReconciler(env.logger).Plan(graph, observed)
			if err != nil {
				return err
			}

			metrics := telemetry.NewMetrics()
			metrics.RecordPlan(plan.Summary.Creates, plan.Summary.Updates,
				plan.Summary.Deletes, plan.Summary.Noops)

			if env.cfg.Telemetry.Metrics.Enabled {
				server := telemetry.NewMetricsServer(env.cfg.Telemetry.Metrics, metrics, env.logger)
				go func() {
					if err := server.Start(); err != nil {
						env.logger.Error().Err(err).Msg("metrics server failed")
					}
				}()
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = server.Shutdown(shutdownCtx)
				}()
			}

			tracer, err := telemetry.NewTracer(env.cfg.Telemetry.Tracing,
				env.cfg.Telemetry.ServiceName, env.cfg.Telemetry.ServiceVersion,
				env.cfg.Telemetry.Environment)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tracer.Shutdown(shutdownCtx)
			}()

			doc := policy.NewAggregator(policy.Vars{
				Region:    env.cfg.Vars.Region,
				AccountID: env.cfg.Vars.AccountID,
			}).Aggregate(instances)

			guard := policy.NewGuard(env.logger)
			if dir := env.cfg.Policy.GuardrailDir; dir != "" {
				if err := guard.LoadDir(dir); err != nil {
					return err
				}
			}

			result, err := guard.EvaluatePlan(ctx, plan, &doc, env.cfg.Policy.Protected)
			if err != nil {
				return err
			}
			for _, violation := range result.Violations {
				fmt.Printf("  [%s] %s: %s\n", violation.Severity, violation.Policy, violation.Message)
				metrics.RecordViolation(violation.Policy, string(violation.Severity))
			}
			if !result.Allowed {
				return fmt.Errorf("guardrail policies block this plan")
			}

			printPlan(plan)
			if len(plan.Changes()) == 0 {
				fmt.Println("Nothing to do.")
				return nil
			}

			if !autoApprove {
				if !confirm("Apply these changes?") {
					fmt.Println("Apply cancelled.")
					return nil
				}
			}

			opts := engine.ExecutorOptions{
				MaxParallel:      env.cfg.Executor.MaxParallel,
				MaxAttempts:      env.cfg.Executor.MaxAttempts,
				OperationTimeout: env.cfg.Executor.OperationTimeout,
			}
			if parallelism > 0 {
				opts.MaxParallel = parallelism
			}

			executor := engine.NewExecutor(providers, store, metrics, opts, env.logger)
			started := time.Now()
			runCtx, span := tracer.StartRunSpan(ctx, "", plan.ID)
			run, err := executor.Execute(runCtx, plan, graph)
			if run != nil {
				span.SetAttributes(telemetry.AttrRunID.String(run.ID),
					telemetry.AttrRunStatus.String(string(run.Status)))
				metrics.RecordRun(string(run.Status), time.Since(started))
				printRun(run)
			}
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
			span.End()
			if err != nil {
				return err
			}
			if run.Status != engine.RunStatusSucceeded {
				return fmt.Errorf("run %s finished with status %s", run.ID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&deployment, "deployment", "d", "", "deployment document path")
	cmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "skip approval prompt")
	cmd.Flags().IntVar(&parallelism, "parallelism", 0, "max parallel operations (overrides config)")

	return cmd
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printRun(run *engine.Run) {
	fmt.Printf("\nRun %s: %s (%d succeeded, %d failed, %d blocked, %d cancelled)\n",
		run.ID, run.Status, run.Summary.Succeeded, run.Summary.Failed,
		run.Summary.Blocked, run.Summary.Cancelled)

	for _, result := range run.Results {
		if result.Status == engine.OperationStatusSucceeded {
			fmt.Printf("  ok   %s %s", result.Type, result.Component)
			if result.ResourceID != "" {
				fmt.Printf(" (%s)", result.ResourceID)
			}
			fmt.Println()
			continue
		}
		fmt.Printf("  %s %s %s: %s\n", result.Status, result.Type, result.Component, result.Error)
	}
}
