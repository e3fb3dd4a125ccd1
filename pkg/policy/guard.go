package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/stackform/stackform/pkg/engine"
)

// Guard evaluates Rego guardrail policies against computed plans,
// between planning and execution. A denying error-severity rule blocks
// the apply.
type Guard struct {
	mu       sync.RWMutex
	policies map[string]*GuardrailPolicy
	logger   zerolog.Logger
}

// guardInput is the document handed to Rego as input.
type guardInput struct {
	Plan      *engine.Plan `json:"plan"`
	Policy    *Document    `json:"policy,omitempty"`
	Protected []string     `json:"protected"`
	Timestamp time.Time    `json:"timestamp"`
}

// NewGuard creates a guard with the built-in policies loaded.
func NewGuard(logger zerolog.Logger) *Guard {
	g := &Guard{
		policies: make(map[string]*GuardrailPolicy),
		logger:   logger.With().Str("component", "guard").Logger(),
	}
	for _, policy := range BuiltinGuardrails() {
		p := policy
		g.policies[p.Name] = &p
	}
	return g
}

// LoadDir loads additional *.rego guardrails from a directory. Each
// file becomes one error-severity policy named after the file.
func (g *Guard) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("failed to read guardrail dir %s: %w", dir, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".rego") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read guardrail %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), ".rego")
		g.policies[name] = &GuardrailPolicy{
			Name:     name,
			Rego:     string(data),
			Severity: SeverityError,
			Enabled:  true,
		}
		count++
	}

	g.logger.Info().Int("count", count).Str("dir", dir).Msg("Guardrails loaded")
	return nil
}

// Policies returns the loaded guardrails, sorted by name.
func (g *Guard) Policies() []GuardrailPolicy {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]GuardrailPolicy, 0, len(g.policies))
	for _, policy := range g.policies {
		out = append(out, *policy)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// EvaluatePlan runs every enabled guardrail against the plan and its
// aggregated policy document. protected lists instance names that must
// never be deleted; the rules see it as input.protected.
func (g *Guard) EvaluatePlan(ctx context.Context, plan *engine.Plan, doc *Document, protected []string) (*GuardResult, error) {
	input := guardInput{
		Plan:      plan,
		Policy:    doc,
		Protected: protected,
		Timestamp: time.Now().UTC(),
	}

	result := &GuardResult{
		Allowed:     true,
		EvaluatedAt: time.Now().UTC(),
	}

	for _, policy := range g.Policies() {
		if !policy.Enabled {
			continue
		}

		violations, err := g.evaluate(ctx, &policy, input)
		if err != nil {
			return nil, fmt.Errorf("guardrail %s failed: %w", policy.Name, err)
		}
		result.Violations = append(result.Violations, violations...)
	}

	for _, violation := range result.Violations {
		if violation.Severity == SeverityError {
			result.Allowed = false
			break
		}
	}

	g.logger.Debug().
		Str("plan_id", plan.ID).
		Int("violations", len(result.Violations)).
		Bool("allowed", result.Allowed).
		Msg("Plan guardrail evaluation completed")

	return result, nil
}

// evaluate queries the policy's deny set and converts each entry into a
// violation.
func (g *Guard) evaluate(ctx context.Context, policy *GuardrailPolicy, input guardInput) ([]Violation, error) {
	query := fmt.Sprintf("data.%s.deny", packageName(policy.Rego))

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, entry := range denySet {
				violations = append(violations, g.toViolation(policy, entry))
			}
		}
	}
	return violations, nil
}

func (g *Guard) toViolation(policy *GuardrailPolicy, entry interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := entry.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if component, ok := v["component"].(string); ok {
			violation.Component = component
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
	default:
		violation.Message = fmt.Sprintf("%v", entry)
	}
	return violation
}

// packageName extracts the package path from Rego source.
func packageName(source string) string {
	for _, line := range strings.Split(source, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "stackform.guardrails"
}
