// Package schema implements the generic input validator for component
// definitions. A single validator walks the tagged-variant field
// descriptors declared by a catalog definition; there are no
// per-component validators.
package schema

import (
	"fmt"
	"sort"

	"github.com/stackform/stackform/pkg/catalog"
)

// ErrorCode identifies a class of validation failure.
type ErrorCode string

const (
	// CodeMissingRequiredField is returned when a required property is
	// absent and declares no default.
	CodeMissingRequiredField ErrorCode = "MissingRequiredField"

	// CodeUnknownField is returned for properties not declared in the
	// input schema. Typos fail fast instead of being silently ignored.
	CodeUnknownField ErrorCode = "UnknownField"

	// CodeInvalidEnumValue is returned when a value is not a member of
	// the declared enum.
	CodeInvalidEnumValue ErrorCode = "InvalidEnumValue"

	// CodeOutOfRange is returned when a numeric value violates the
	// inclusive minimum/maximum bounds.
	CodeOutOfRange ErrorCode = "OutOfRange"

	// CodeTypeMismatch is returned when a value has the wrong kind.
	CodeTypeMismatch ErrorCode = "TypeMismatch"
)

// ValidationError describes one validation failure with the offending
// field path for diagnostics.
type ValidationError struct {
	// Code is the failure class.
	Code ErrorCode `json:"code"`

	// Field is the path of the offending property, e.g. "headers[1]".
	Field string `json:"field"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Value is the offending value, when applicable.
	Value interface{} `json:"value,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Field, e.Message)
}

// Validator type-checks and normalizes raw definition objects against a
// component's input schema. Validation is pure: it never contacts the
// provider and has no side effects on its inputs.
type Validator struct{}

// NewValidator creates a validator.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks rawObject against the definition's input schema and
// returns the normalized field mapping. Defaults are applied for
// omitted properties that declare one; properties without a default
// remain absent, so "unset" stays distinguishable from an explicit
// falsy value. Normalization is idempotent: validating the returned
// mapping again yields an equal mapping.
func (v *Validator) Validate(def *catalog.ComponentDefinition, rawObject map[string]interface{}) (map[string]interface{}, []ValidationError) {
	var errs []ValidationError

	// Unknown fields first, in sorted order for deterministic output.
	keys := make([]string, 0, len(rawObject))
	for k := range rawObject {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		if _, declared := def.Input.Properties[key]; !declared {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownField,
				Field:   key,
				Message: fmt.Sprintf("property %q is not declared by %s", key, def.Name),
				Value:   rawObject[key],
			})
		}
	}

	normalized := make(map[string]interface{}, len(rawObject))

	props := make([]string, 0, len(def.Input.Properties))
	for name := range def.Input.Properties {
		props = append(props, name)
	}
	sort.Strings(props)

	for _, name := range props {
		spec := def.Input.Properties[name]
		value, present := rawObject[name]

		if !present {
			if spec.Default != nil {
				value = spec.Default
				present = true
			} else if def.IsRequired(name) {
				errs = append(errs, ValidationError{
					Code:    CodeMissingRequiredField,
					Field:   name,
					Message: fmt.Sprintf("required property %q is missing", name),
				})
				continue
			} else {
				continue
			}
		}

		out, fieldErrs := v.checkValue(name, spec, value)
		if len(fieldErrs) > 0 {
			errs = append(errs, fieldErrs...)
			continue
		}
		normalized[name] = out
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return normalized, nil
}

// checkValue validates a single value against its descriptor and
// returns the normalized form. Reference tokens defer to the resolver
// and pass through untouched.
func (v *Validator) checkValue(path string, spec catalog.FieldSpec, value interface{}) (interface{}, []ValidationError) {
	if catalog.IsReferenceToken(value) {
		return value, nil
	}

	kind := spec.EffectiveKind()

	switch kind {
	case catalog.KindString:
		s, ok := value.(string)
		if !ok {
			return nil, []ValidationError{typeMismatch(path, "string", value)}
		}
		if errs := v.checkEnum(path, spec, s); errs != nil {
			return nil, errs
		}
		return s, nil

	case catalog.KindInteger:
		n, ok := asInt64(value)
		if !ok {
			return nil, []ValidationError{typeMismatch(path, "integer", value)}
		}
		if spec.Minimum != nil && float64(n) < *spec.Minimum {
			return nil, []ValidationError{{
				Code:    CodeOutOfRange,
				Field:   path,
				Message: fmt.Sprintf("value %d is below minimum %v", n, *spec.Minimum),
				Value:   value,
			}}
		}
		if spec.Maximum != nil && float64(n) > *spec.Maximum {
			return nil, []ValidationError{{
				Code:    CodeOutOfRange,
				Field:   path,
				Message: fmt.Sprintf("value %d is above maximum %v", n, *spec.Maximum),
				Value:   value,
			}}
		}
		if errs := v.checkEnum(path, spec, n); errs != nil {
			return nil, errs
		}
		return n, nil

	case catalog.KindBoolean:
		b, ok := value.(bool)
		if !ok {
			return nil, []ValidationError{typeMismatch(path, "boolean", value)}
		}
		return b, nil

	case catalog.KindArray:
		items, ok := value.([]interface{})
		if !ok {
			return nil, []ValidationError{typeMismatch(path, "array", value)}
		}
		out := make([]interface{}, len(items))
		var errs []ValidationError
		for i, item := range items {
			elemPath := fmt.Sprintf("%s[%d]", path, i)
			if spec.Items == nil {
				out[i] = item
				continue
			}
			normalized, elemErrs := v.checkValue(elemPath, *spec.Items, item)
			if len(elemErrs) > 0 {
				errs = append(errs, elemErrs...)
				continue
			}
			out[i] = normalized
		}
		if len(errs) > 0 {
			return nil, errs
		}
		return out, nil

	case catalog.KindObject:
		obj, ok := value.(map[string]interface{})
		if !ok {
			return nil, []ValidationError{typeMismatch(path, "object", value)}
		}
		if len(spec.Properties) == 0 {
			// Opaque mapping, passed through as-is.
			return obj, nil
		}
		return v.checkNestedObject(path, spec, obj)

	default:
		return nil, []ValidationError{typeMismatch(path, string(kind), value)}
	}
}

// checkNestedObject validates an object field that declares its own
// nested schema, applying the same unknown/required/default rules as
// the top level.
func (v *Validator) checkNestedObject(path string, spec catalog.FieldSpec, obj map[string]interface{}) (interface{}, []ValidationError) {
	var errs []ValidationError

	for key := range obj {
		if _, declared := spec.Properties[key]; !declared {
			errs = append(errs, ValidationError{
				Code:    CodeUnknownField,
				Field:   path + "." + key,
				Message: fmt.Sprintf("property %q is not declared", key),
				Value:   obj[key],
			})
		}
	}

	out := make(map[string]interface{}, len(obj))

	names := make([]string, 0, len(spec.Properties))
	for name := range spec.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		nested := spec.Properties[name]
		value, present := obj[name]
		if !present {
			if nested.Default == nil {
				continue
			}
			value = nested.Default
		}

		normalized, nestedErrs := v.checkValue(path+"."+name, nested, value)
		if len(nestedErrs) > 0 {
			errs = append(errs, nestedErrs...)
			continue
		}
		out[name] = normalized
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return out, nil
}

// checkEnum verifies enum membership for a normalized scalar value.
func (v *Validator) checkEnum(path string, spec catalog.FieldSpec, value interface{}) []ValidationError {
	if len(spec.Enum) == 0 {
		return nil
	}

	for _, member := range spec.Enum {
		if equalScalar(member, value) {
			return nil
		}
	}

	return []ValidationError{{
		Code:    CodeInvalidEnumValue,
		Field:   path,
		Message: fmt.Sprintf("value %v is not one of the allowed values %v", value, spec.Enum),
		Value:   value,
	}}
}

func typeMismatch(path, want string, value interface{}) ValidationError {
	return ValidationError{
		Code:    CodeTypeMismatch,
		Field:   path,
		Message: fmt.Sprintf("expected %s, got %T", want, value),
		Value:   value,
	}
}

// asInt64 accepts the numeric forms produced by encoding/json and by
// re-validation of already-normalized values. Non-integral floats are
// rejected.
func asInt64(value interface{}) (int64, bool) {
	switch n := value.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}

// equalScalar compares an enum member (as decoded from JSON) with a
// normalized value.
func equalScalar(member, value interface{}) bool {
	if m, ok := asInt64(member); ok {
		if v, ok := asInt64(value); ok {
			return m == v
		}
		return false
	}
	return member == value
}
