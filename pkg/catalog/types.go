package catalog

import (
	"encoding/json"
	"fmt"
)

// FieldKind enumerates the value kinds a component input field may declare.
type FieldKind string

const (
	// KindString is a scalar string field.
	KindString FieldKind = "string"

	// KindInteger is a scalar integer field.
	KindInteger FieldKind = "integer"

	// KindBoolean is a scalar boolean field.
	KindBoolean FieldKind = "boolean"

	// KindArray is a list field; Items describes the element schema.
	KindArray FieldKind = "array"

	// KindObject is a mapping field, opaque unless Properties is declared.
	KindObject FieldKind = "object"
)

// Validate checks if the field kind is one of the supported kinds.
func (k FieldKind) Validate() error {
	switch k {
	case KindString, KindInteger, KindBoolean, KindArray, KindObject:
		return nil
	default:
		return fmt.Errorf("invalid field kind: %s", k)
	}
}

// FieldSpec describes a single input property of a component definition.
// It is the tagged-variant descriptor processed by the generic validator:
// one Kind plus optional enum, default, bounds, and element/nested schemas.
type FieldSpec struct {
	// Type is the declared value kind.
	Type FieldKind `json:"type"`

	// Description is the author-facing documentation for the field.
	Description string `json:"description,omitempty"`

	// Enum restricts the value to one of the listed members.
	// When the member type contradicts Type, the enum is authoritative
	// and the contradiction is reported as a descriptor issue.
	Enum []interface{} `json:"enum,omitempty"`

	// Default is applied when the property is omitted.
	Default interface{} `json:"default,omitempty"`

	// Minimum is the inclusive lower bound for numeric fields.
	Minimum *float64 `json:"minimum,omitempty"`

	// Maximum is the inclusive upper bound for numeric fields.
	Maximum *float64 `json:"maximum,omitempty"`

	// Items describes the element schema for array fields.
	Items *FieldSpec `json:"items,omitempty"`

	// Properties declares a nested schema for object fields.
	// Objects without Properties pass through as opaque mappings.
	Properties map[string]FieldSpec `json:"properties,omitempty"`

	// Common marks frequently-used fields for documentation purposes.
	Common bool `json:"common,omitempty"`

	// Immutable marks fields whose change forces resource replacement.
	Immutable bool `json:"immutable,omitempty"`
}

// EffectiveKind returns the kind the validator should enforce.
// A declared kind contradicted by the enum member type defers to the enum.
func (f *FieldSpec) EffectiveKind() FieldKind {
	if len(f.Enum) == 0 {
		return f.Type
	}
	switch f.Enum[0].(type) {
	case string:
		return KindString
	case bool:
		return KindBoolean
	case float64, int, int64:
		return KindInteger
	default:
		return f.Type
	}
}

// InputSchema is the input contract of a component definition.
type InputSchema struct {
	// Type is always "object" for component inputs.
	Type string `json:"type"`

	// Properties maps property names to their field descriptors.
	Properties map[string]FieldSpec `json:"properties" validate:"required"`

	// Required lists property names that must be present or defaulted.
	Required []string `json:"required_properties,omitempty"`
}

// PropSpec describes one output property populated after provisioning.
type PropSpec struct {
	// Type is the value kind of the output property.
	Type FieldKind `json:"type"`

	// Description documents what the property holds.
	Description string `json:"description,omitempty"`
}

// PolicyStatement is one template IAM statement carried by a definition.
// Action and Resource accept both a single string and a list in the
// source documents. Statements may contain {region}, {account_id} and
// {name} placeholders resolved at aggregation time.
type PolicyStatement struct {
	// Sid is the optional statement identifier.
	Sid string `json:"Sid,omitempty"`

	// Effect is "Allow" or "Deny".
	Effect string `json:"Effect" validate:"required,oneof=Allow Deny"`

	// Action lists the IAM actions granted or denied.
	Action StringList `json:"Action" validate:"required,min=1"`

	// Resource lists the resource scopes the statement applies to.
	Resource StringList `json:"Resource" validate:"required,min=1"`
}

// PolicyTemplate is the minimal IAM policy carried by a definition.
type PolicyTemplate struct {
	// Version is the IAM policy language version.
	Version string `json:"Version,omitempty"`

	// Statement lists the template statements.
	Statement []PolicyStatement `json:"Statement"`
}

// StringList unmarshals from either a JSON string or an array of strings.
type StringList []string

// UnmarshalJSON accepts "x" and ["x","y"] forms.
func (l *StringList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = StringList{single}
		return nil
	}

	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected string or list of strings: %w", err)
	}
	*l = StringList(many)
	return nil
}

// MarshalJSON always emits the list form for deterministic output.
func (l StringList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(l))
}

// ComponentDefinition is the static descriptor of one provisionable
// resource kind: schema, minimal IAM policy, output properties and
// metadata. Definitions are loaded once at startup and are read-only
// for the process lifetime.
type ComponentDefinition struct {
	// Name is the unique component key, e.g. "cloudfront.cache_policy".
	Name string `json:"type" validate:"required"`

	// DisplayName is the human-readable component name.
	DisplayName string `json:"displayname,omitempty"`

	// Description documents the component.
	Description string `json:"description,omitempty"`

	// Cloud is the provider tag, e.g. "AWS".
	Cloud string `json:"cloud,omitempty"`

	// PluginTier is the catalog tier of the component plugin.
	PluginTier int `json:"ck_plugin_tier,omitempty"`

	// Resources lists the provider resource types this component manages.
	Resources []string `json:"resources,omitempty"`

	// Policy is the template IAM statement set for this component.
	Policy PolicyTemplate `json:"policy,omitempty"`

	// Input is the input schema authors write against.
	Input InputSchema `json:"input" validate:"required"`

	// Props is the output schema populated post-provisioning.
	Props map[string]PropSpec `json:"props" validate:"required"`

	// Examples are illustrative instances. They are documentation and
	// test fixtures only; they are never executed.
	Examples []json.RawMessage `json:"examples,omitempty"`

	// Issues collects descriptor inconsistencies found at load time,
	// such as a boolean-typed field carrying a string enum.
	Issues []DescriptorIssue `json:"-"`
}

// DescriptorIssue records a schema inconsistency in a loaded definition.
// Issues do not fail the load; the contradicted declaration is overridden
// by the authoritative part (the enum) and the issue is surfaced here.
type DescriptorIssue struct {
	// Field is the input property the issue concerns.
	Field string `json:"field"`

	// Message describes the inconsistency.
	Message string `json:"message"`
}

// IsRequired reports whether the named input property is required.
func (d *ComponentDefinition) IsRequired(property string) bool {
	for _, r := range d.Input.Required {
		if r == property {
			return true
		}
	}
	return false
}

// ImmutableFields returns the names of input properties whose change
// forces a replace instead of an in-place update.
func (d *ComponentDefinition) ImmutableFields() []string {
	var out []string
	for name, spec := range d.Input.Properties {
		if spec.Immutable {
			out = append(out, name)
		}
	}
	return out
}
