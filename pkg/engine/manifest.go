package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stackform/stackform/pkg/catalog"
	"github.com/stackform/stackform/pkg/schema"
)

// ManifestError aggregates the validation failures of a deployment
// document, grouped by instance name.
type ManifestError struct {
	// Errors maps instance names to their validation errors.
	Errors map[string][]schema.ValidationError
}

// Error implements the error interface.
func (e *ManifestError) Error() string {
	total := 0
	for _, errs := range e.Errors {
		total += len(errs)
	}
	return fmt.Sprintf("deployment validation failed: %d error(s) across %d instance(s)",
		total, len(e.Errors))
}

// ManifestParser reads deployment documents and produces validated
// component instances. A deployment document is a JSON object whose
// "components" mapping declares one instance per key; each instance
// object names its component type with a reference token under "type"
// and supplies the remaining keys as fields.
type ManifestParser struct {
	registry  *catalog.Registry
	validator *schema.Validator
	logger    zerolog.Logger
}

// NewManifestParser creates a manifest parser over a loaded catalog.
func NewManifestParser(registry *catalog.Registry, logger zerolog.Logger) *ManifestParser {
	return &ManifestParser{
		registry:  registry,
		validator: schema.NewValidator(),
		logger:    logger.With().Str("component", "manifest").Logger(),
	}
}

// ParseFile loads and validates a deployment document from disk.
func (p *ManifestParser) ParseFile(path string) ([]*ComponentInstance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read deployment %s: %w", path, err)
	}
	return p.Parse(data)
}

// Parse validates a deployment document and returns its instances in
// declaration order, each with normalized fields and status Validated.
// Validation failures across all instances are collected into one
// ManifestError so the author sees every problem at once.
func (p *ManifestParser) Parse(data []byte) ([]*ComponentInstance, error) {
	names, objects, err := decodeComponents(data)
	if err != nil {
		return nil, err
	}

	manifestErr := &ManifestError{Errors: make(map[string][]schema.ValidationError)}
	instances := make([]*ComponentInstance, 0, len(names))

	for order, name := range names {
		raw := objects[name]

		typeValue, _ := raw["type"].(string)
		token, ok := catalog.ParseToken(typeValue)
		if !ok {
			return nil, NewPermanentError(
				fmt.Sprintf("instance %q: \"type\" must be a component reference token, got %q", name, typeValue),
				nil,
			).WithCode(ErrCodeValidation).WithComponent(name)
		}

		def, ok := p.registry.Get(token.Component)
		if !ok {
			return nil, NewPermanentError(
				fmt.Sprintf("instance %q: unknown component type %s", name, token.Component),
				nil,
			).WithCode(ErrCodeValidation).WithComponent(name)
		}

		fields := make(map[string]interface{}, len(raw))
		for key, value := range raw {
			if key == "type" {
				continue
			}
			fields[key] = value
		}

		normalized, errs := p.validator.Validate(def, fields)
		if len(errs) > 0 {
			manifestErr.Errors[name] = errs
			continue
		}

		instances = append(instances, &ComponentInstance{
			ID:         uuid.New().String(),
			Name:       name,
			Type:       def.Name,
			Definition: def,
			Fields:     normalized,
			Tags:       extractTags(normalized),
			Status:     InstanceStatusValidated,
			DeclOrder:  order,
		})
	}

	if len(manifestErr.Errors) > 0 {
		return nil, manifestErr
	}

	p.logger.Debug().Int("instances", len(instances)).Msg("Deployment parsed")
	return instances, nil
}

// decodeComponents decodes the "components" mapping while preserving
// declaration order, which encoding/json maps discard.
func decodeComponents(data []byte) ([]string, map[string]map[string]interface{}, error) {
	var doc struct {
		Components map[string]map[string]interface{} `json:"components"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("invalid deployment document: %w", err)
	}
	if len(doc.Components) == 0 {
		return nil, nil, fmt.Errorf("deployment document declares no components")
	}

	names, err := componentKeyOrder(data)
	if err != nil {
		return nil, nil, err
	}
	if len(names) != len(doc.Components) {
		return nil, nil, fmt.Errorf("deployment document declares duplicate instance names")
	}

	return names, doc.Components, nil
}

// componentKeyOrder walks the JSON token stream to recover the key
// order of the "components" object.
func componentKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	// Find the top-level "components" key.
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := tok.(string)
		if key != "components" {
			// Skip the value of this top-level key.
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
			continue
		}

		if _, err := dec.Token(); err != nil {
			return nil, err
		}
		var names []string
		for dec.More() {
			nameTok, err := dec.Token()
			if err != nil {
				return nil, err
			}
			name, _ := nameTok.(string)
			names = append(names, name)

			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, err
			}
		}
		return names, nil
	}

	return nil, fmt.Errorf("deployment document has no components mapping")
}

// extractTags lifts a top-level "tags" field of string values into the
// instance tag set for tag reconciliation.
func extractTags(fields map[string]interface{}) map[string]string {
	raw, ok := fields["tags"].(map[string]interface{})
	if !ok {
		return nil
	}
	tags := make(map[string]string, len(raw))
	for key, value := range raw {
		if s, ok := value.(string); ok {
			tags[key] = s
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
