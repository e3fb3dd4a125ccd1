package policy

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/stackform/stackform/pkg/engine"
)

func TestGuardBlocksProtectedDelete(t *testing.T) {
	guard := NewGuard(zerolog.Nop())

	plan := &engine.Plan{
		ID: "plan-1",
		Operations: []*engine.Operation{
			{ID: "op-1", Type: engine.OperationDelete, Component: "prod-db"},
		},
	}

	result, err := guard.EvaluatePlan(context.Background(), plan, nil, []string{"prod-db"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	if result.Allowed {
		t.Error("expected plan to be denied")
	}

	found := false
	for _, violation := range result.Violations {
		if violation.Policy == "protected-delete" && violation.Component == "prod-db" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected protected-delete violation, got %v", result.Violations)
	}
}

func TestGuardAllowsUnprotectedDelete(t *testing.T) {
	guard := NewGuard(zerolog.Nop())

	plan := &engine.Plan{
		ID: "plan-1",
		Operations: []*engine.Operation{
			{ID: "op-1", Type: engine.OperationDelete, Component: "scratch"},
		},
	}

	result, err := guard.EvaluatePlan(context.Background(), plan, nil, []string{"prod-db"})
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if !result.Allowed {
		t.Errorf("expected plan to be allowed, violations: %v", result.Violations)
	}
}

func TestGuardRejectsWildcardAction(t *testing.T) {
	guard := NewGuard(zerolog.Nop())

	plan := &engine.Plan{ID: "plan-1"}
	doc := &Document{
		Version: PolicyVersion,
		Statement: []Statement{
			{Effect: "Allow", Action: []string{"*"}, Resource: []string{"*"}},
		},
	}

	result, err := guard.EvaluatePlan(context.Background(), plan, doc, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}
	if result.Allowed {
		t.Error("expected wildcard action to be denied")
	}
}

func TestGuardWarnsOnReplacement(t *testing.T) {
	guard := NewGuard(zerolog.Nop())

	plan := &engine.Plan{
		ID: "plan-1",
		Operations: []*engine.Operation{
			{ID: "op-1", Type: engine.OperationDelete, Component: "edge", PairedWith: "op-2"},
			{ID: "op-2", Type: engine.OperationCreate, Component: "edge", PairedWith: "op-1", DependsOn: []string{"op-1"}},
		},
	}

	result, err := guard.EvaluatePlan(context.Background(), plan, nil, nil)
	if err != nil {
		t.Fatalf("EvaluatePlan failed: %v", err)
	}

	// A replacement is a warning, not a blocker.
	if !result.Allowed {
		t.Errorf("expected plan to be allowed, violations: %v", result.Violations)
	}

	found := false
	for _, violation := range result.Violations {
		if violation.Policy == "replacement-warning" && violation.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("expected replacement warning, got %v", result.Violations)
	}
}

func TestGuardPoliciesSorted(t *testing.T) {
	guard := NewGuard(zerolog.Nop())

	policies := guard.Policies()
	if len(policies) != len(BuiltinGuardrails()) {
		t.Fatalf("expected %d policies, got %d", len(BuiltinGuardrails()), len(policies))
	}
	for i := 1; i < len(policies); i++ {
		if policies[i-1].Name > policies[i].Name {
			t.Errorf("policies not sorted: %s before %s", policies[i-1].Name, policies[i].Name)
		}
	}
}
