package provider

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackform/stackform/pkg/engine"
)

// Drives the full cycle: plan against empty provider state, execute the
// creates, observe what the providers report, and plan again. With no
// drift the second plan must be all noops, reference fields included.
func TestReplanAfterApplyConverges(t *testing.T) {
	ctx := context.Background()

	network := &engine.ComponentInstance{
		Name:      "network",
		Type:      "vpc.network",
		DeclOrder: 0,
		Fields: map[string]interface{}{
			"cidr": "10.0.0.0/16",
		},
	}
	lb := &engine.ComponentInstance{
		Name:      "web-lb",
		Type:      "alb.load_balancer",
		DeclOrder: 1,
		Fields: map[string]interface{}{
			"vpc":     "&vpc.network",
			"subnets": []interface{}{"subnet-a", "subnet-b"},
			"port":    int64(443),
		},
	}

	graph, errs := engine.NewResolver().Resolve([]*engine.ComponentInstance{network, lb})
	if len(errs) != 0 {
		t.Fatalf("Resolve() errors = %v, want none", errs)
	}

	registry, err := NewRegistry(
		NewMemoryProvider("vpc.network"),
		NewMemoryProvider("alb.load_balancer"),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	observed, err := registry.Observe(ctx)
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if len(observed) != 0 {
		t.Fatalf("Observe() = %d resources, want none before apply", len(observed))
	}

	reconciler := engine.NewReconciler(zerolog.Nop())
	plan, err := reconciler.Plan(graph, observed)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if plan.Summary.Creates != 2 {
		t.Fatalf("first plan = %+v, want two creates", plan.Summary)
	}

	executor := engine.NewExecutor(registry, nil, nil, engine.ExecutorOptions{
		MaxParallel: 2,
		MaxAttempts: 1,
	}, zerolog.Nop())

	run, err := executor.Execute(ctx, plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status != engine.RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}

	observed, err = registry.Observe(ctx)
	if err != nil {
		t.Fatalf("Observe() after apply error = %v", err)
	}
	if len(observed) != 2 {
		t.Fatalf("Observe() = %d resources after apply, want 2", len(observed))
	}

	replan, err := reconciler.Plan(graph, observed)
	if err != nil {
		t.Fatalf("re-Plan() error = %v", err)
	}
	if changes := replan.Changes(); len(changes) != 0 {
		for _, op := range changes {
			t.Logf("unexpected %s on %s, changed fields %v", op.Type, op.Component, op.ChangedFields)
		}
		t.Fatalf("re-plan after apply with no drift produced %d change(s), want 0", len(changes))
	}
	if replan.Summary.Noops != 2 {
		t.Errorf("re-plan = %+v, want two noops", replan.Summary)
	}
}
