package policy

// BuiltinGuardrails returns the guardrails every deployment gets.
func BuiltinGuardrails() []GuardrailPolicy {
	return []GuardrailPolicy{
		protectedDeletePolicy(),
		wildcardActionPolicy(),
		replacementWarningPolicy(),
	}
}

// protectedDeletePolicy blocks deletes of instances listed as
// protected.
func protectedDeletePolicy() GuardrailPolicy {
	return GuardrailPolicy{
		Name:        "protected-delete",
		Description: "Blocks delete operations against protected instances",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package stackform.guardrails.protected

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.type == "delete"
	some name in input.protected
	op.component == name
	violation := {
		"message": sprintf("instance %s is protected and must not be deleted", [name]),
		"component": name,
		"severity": "error",
	}
}
`,
	}
}

// wildcardActionPolicy rejects aggregated policies that would grant
// every action.
func wildcardActionPolicy() GuardrailPolicy {
	return GuardrailPolicy{
		Name:        "no-wildcard-action",
		Description: "Rejects deployments whose aggregated policy grants the wildcard action",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package stackform.guardrails.wildcard

import rego.v1

deny contains violation if {
	some stmt in input.policy.Statement
	stmt.Effect == "Allow"
	some action in stmt.Action
	action == "*"
	violation := {
		"message": "aggregated policy grants the wildcard action",
		"severity": "error",
	}
}
`,
	}
}

// replacementWarningPolicy surfaces replacements so a destroy-and-
// recreate never happens silently.
func replacementWarningPolicy() GuardrailPolicy {
	return GuardrailPolicy{
		Name:        "replacement-warning",
		Description: "Warns when a plan replaces an existing resource",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package stackform.guardrails.replacement

import rego.v1

deny contains violation if {
	some op in input.plan.operations
	op.type == "delete"
	op.paired_with != ""
	violation := {
		"message": sprintf("instance %s will be destroyed and recreated", [op.component]),
		"component": op.component,
		"severity": "warning",
	}
}
`,
	}
}
