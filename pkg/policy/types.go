// Package policy aggregates per-component IAM templates into a single
// deployment policy document and evaluates Rego guardrails against
// computed plans.
package policy

import "time"

// Statement is one IAM statement in an aggregated document.
type Statement struct {
	// Effect is Allow or Deny.
	Effect string `json:"Effect"`

	// Action lists the permitted or denied actions, sorted.
	Action []string `json:"Action"`

	// Resource lists the resource scopes, sorted.
	Resource []string `json:"Resource"`
}

// Document is the aggregated IAM policy for a deployment. Aggregating
// the same instance set always yields a byte-identical document, so the
// serialized form can be diffed for drift.
type Document struct {
	// Version is the IAM policy language version.
	Version string `json:"Version"`

	// Statement holds the aggregated statements in deterministic order.
	Statement []Statement `json:"Statement"`
}

// Severity represents the severity level of a guardrail violation.
type Severity string

const (
	// SeverityWarning is for findings that should be reviewed but do
	// not block the apply.
	SeverityWarning Severity = "warning"

	// SeverityError is for findings that block the apply.
	SeverityError Severity = "error"
)

// GuardrailPolicy is one Rego guardrail rule.
type GuardrailPolicy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`
}

// Violation represents one guardrail finding.
type Violation struct {
	// Policy is the name of the policy that produced the finding.
	Policy string `json:"policy"`

	// Component is the instance name the finding concerns, if any.
	Component string `json:"component,omitempty"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Severity is the finding severity.
	Severity Severity `json:"severity"`
}

// GuardResult is the outcome of evaluating guardrails against a plan.
type GuardResult struct {
	// Allowed is false when any error-severity violation was found.
	Allowed bool `json:"allowed"`

	// Violations lists every finding.
	Violations []Violation `json:"violations,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}
