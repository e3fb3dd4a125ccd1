package catalog

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// SchemaRegistry manages the CUE schemas used to shape-check component
// definition documents before they are decoded.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// NewSchemaRegistry creates a schema registry with the built-in schemas
// compiled and registered.
func NewSchemaRegistry() *SchemaRegistry {
	sr := &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.registerBuiltInSchemas()
	return sr
}

func (sr *SchemaRegistry) registerBuiltInSchemas() {
	sr.RegisterSchema("definition", builtinDefinitionSchema)
	sr.RegisterSchema("field", builtinFieldSchema)
	sr.RegisterSchema("statement", builtinStatementSchema)
}

// RegisterSchema compiles and registers a CUE schema under the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a compiled schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// ValidateAgainstSchema unifies data with a named schema and reports any
// constraint violation.
func (sr *SchemaRegistry) ValidateAgainstSchema(schemaName, defName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	dataVal := sr.ctx.Encode(data)
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode %s: %w", defName, err)
	}

	def := schema.LookupPath(cue.ParsePath("#" + schemaName))
	if !def.Exists() {
		def = schema
	}

	unified := def.Unify(dataVal)
	if err := unified.Validate(); err != nil {
		return fmt.Errorf("shape validation failed for %s: %w", defName, err)
	}

	return nil
}

// Built-in schema definitions. Unknown top-level keys are tolerated by
// the open struct so that newer catalog documents load on older engines.

const builtinDefinitionSchema = `
#definition: {
	// Unique component key, namespace.component
	type: string & =~"^[a-z0-9_]+\\.[a-z0-9_]+$"

	displayname?: string
	description?: string
	cloud?:       string

	ck_plugin_tier?: int & >=1

	// Provider resource types managed by this component
	resources?: [...string]

	policy?: {
		Version?: string
		Statement?: [...]
	}

	// Input and props are mandatory; a component without them is
	// malformed and fails catalog load.
	input: {
		type?: string
		properties: {...}
		required_properties?: [...string]
	}

	props: {...}

	examples?: [...]

	...
}
`

const builtinFieldSchema = `
#field: {
	type: "string" | "integer" | "boolean" | "array" | "object"

	description?: string
	enum?: [...]
	default?:   _
	minimum?:   number
	maximum?:   number
	common?:    bool
	immutable?: bool

	items?:      #field
	properties?: {[string]: #field}
}
`

const builtinStatementSchema = `
#statement: {
	Sid?:   string
	Effect: "Allow" | "Deny"

	Action:   string | [...string]
	Resource: string | [...string]
}
`
