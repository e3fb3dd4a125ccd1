package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// MalformedComponentError reports a component definition document that
// failed catalog load.
type MalformedComponentError struct {
	// Name is the component name, when it could be determined.
	Name string

	// File is the source file of the document, when loaded from disk.
	File string

	// Reason describes what is wrong with the document.
	Reason string

	// Err is the underlying decode or validation error, if any.
	Err error
}

// Error implements the error interface.
func (e *MalformedComponentError) Error() string {
	ident := e.Name
	if ident == "" {
		ident = e.File
	}
	if e.Err != nil {
		return fmt.Sprintf("malformed component %s: %s: %v", ident, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed component %s: %s", ident, e.Reason)
}

// Unwrap returns the underlying error.
func (e *MalformedComponentError) Unwrap() error {
	return e.Err
}

// Loader reads component definition documents and produces the read-only
// catalog registry. Unknown top-level keys in documents are ignored for
// forward compatibility; a document missing input or props fails load.
type Loader struct {
	schemas  *SchemaRegistry
	validate *validator.Validate
	logger   zerolog.Logger
}

// NewLoader creates a catalog loader.
func NewLoader(logger zerolog.Logger) *Loader {
	return &Loader{
		schemas:  NewSchemaRegistry(),
		validate: validator.New(),
		logger:   logger.With().Str("component", "catalog").Logger(),
	}
}

// LoadDir loads every *.json document under dir into a registry.
// File names are not significant; the component name comes from the
// document's "type" key. Load order is sorted by file name so duplicate
// detection is deterministic.
func (l *Loader) LoadDir(dir string) (*Registry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog dir %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	defs := make([]*ComponentDefinition, 0, len(files))
	for _, name := range files {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}

		def, err := l.LoadDocument(path, data)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}

	registry, err := NewRegistry(defs)
	if err != nil {
		return nil, err
	}

	l.logger.Info().Int("components", registry.Len()).Str("dir", dir).Msg("Catalog loaded")
	return registry, nil
}

// LoadDocument parses and validates a single component definition
// document. The returned definition is fully checked and immutable.
func (l *Loader) LoadDocument(source string, data []byte) (*ComponentDefinition, error) {
	// First decode into a loose map: unknown top-level keys are legal
	// and must not fail the load.
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &MalformedComponentError{File: source, Reason: "invalid JSON", Err: err}
	}

	name, _ := raw["type"].(string)

	if _, ok := raw["input"]; !ok {
		return nil, &MalformedComponentError{Name: name, File: source, Reason: "missing input schema"}
	}
	if _, ok := raw["props"]; !ok {
		return nil, &MalformedComponentError{Name: name, File: source, Reason: "missing props schema"}
	}

	// Shape-check the document against the built-in CUE schema before
	// decoding into the typed struct.
	if err := l.schemas.ValidateAgainstSchema("definition", name, raw); err != nil {
		return nil, &MalformedComponentError{Name: name, File: source, Reason: "schema shape check failed", Err: err}
	}

	var def ComponentDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, &MalformedComponentError{Name: name, File: source, Reason: "failed to decode definition", Err: err}
	}

	if err := l.validate.Struct(&def); err != nil {
		return nil, &MalformedComponentError{Name: def.Name, File: source, Reason: "struct validation failed", Err: err}
	}

	if err := l.checkDescriptors(&def); err != nil {
		return nil, err
	}

	for _, issue := range def.Issues {
		l.logger.Warn().
			Str("definition", def.Name).
			Str("field", issue.Field).
			Msg(issue.Message)
	}

	return &def, nil
}

// checkDescriptors walks every field descriptor, rejecting invalid kinds
// and recording descriptor issues such as a declared type contradicted
// by the enum member type. The enum is authoritative in that case.
func (l *Loader) checkDescriptors(def *ComponentDefinition) error {
	for name, spec := range def.Input.Properties {
		if err := l.checkFieldSpec(def, name, spec); err != nil {
			return err
		}
	}

	for _, required := range def.Input.Required {
		if _, ok := def.Input.Properties[required]; !ok {
			return &MalformedComponentError{
				Name:   def.Name,
				Reason: fmt.Sprintf("required property %q is not declared", required),
			}
		}
	}

	for name, prop := range def.Props {
		if err := prop.Type.Validate(); err != nil {
			return &MalformedComponentError{
				Name:   def.Name,
				Reason: fmt.Sprintf("prop %q: %v", name, err),
			}
		}
	}

	for i, stmt := range def.Policy.Statement {
		if err := l.validate.Struct(&stmt); err != nil {
			return &MalformedComponentError{
				Name:   def.Name,
				Reason: fmt.Sprintf("policy statement %d is invalid", i),
				Err:    err,
			}
		}
	}

	return nil
}

func (l *Loader) checkFieldSpec(def *ComponentDefinition, path string, spec FieldSpec) error {
	if err := spec.Type.Validate(); err != nil {
		return &MalformedComponentError{
			Name:   def.Name,
			Reason: fmt.Sprintf("field %q: %v", path, err),
		}
	}

	if len(spec.Enum) > 0 && spec.EffectiveKind() != spec.Type {
		def.Issues = append(def.Issues, DescriptorIssue{
			Field: path,
			Message: fmt.Sprintf(
				"declared type %q contradicts enum member type; enum is authoritative (%s)",
				spec.Type, spec.EffectiveKind()),
		})
	}

	if spec.Type == KindArray && spec.Items != nil {
		if err := l.checkFieldSpec(def, path+"[]", *spec.Items); err != nil {
			return err
		}
	}

	for name, nested := range spec.Properties {
		if err := l.checkFieldSpec(def, path+"."+name, nested); err != nil {
			return err
		}
	}

	return nil
}
