package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stackform/stackform/pkg/catalog"
)

// ResolutionCode identifies a class of reference resolution failure.
type ResolutionCode string

const (
	// CodeUnresolvedReference is returned when a token names an unknown
	// component type or an ambiguous or missing instance.
	CodeUnresolvedReference ResolutionCode = "UnresolvedReference"

	// CodeCyclicReference is returned when the reference graph contains
	// a cycle.
	CodeCyclicReference ResolutionCode = "CyclicReference"
)

// ResolutionError describes one reference resolution failure. A
// resolution failure blocks planning entirely; no partial plan is
// produced.
type ResolutionError struct {
	// Code is the failure class.
	Code ResolutionCode `json:"code"`

	// Instance is the name of the instance holding the offending field.
	Instance string `json:"instance"`

	// Field is the path of the offending field, e.g. "subnets[0]".
	Field string `json:"field,omitempty"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Cycle is the full cycle path for cyclic reference errors.
	Cycle []string `json:"cycle,omitempty"`
}

// Error implements the error interface.
func (e ResolutionError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s.%s: %s", e.Code, e.Instance, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Instance, e.Message)
}

// DependencyGraph is the acyclic reference graph over component
// instances. Nodes are instance names; an edge runs from a referenced
// instance to each instance that references it. The graph is read-only
// once built.
type DependencyGraph struct {
	instances map[string]*ComponentInstance

	// dependents maps an instance name to the instances that reference
	// it.
	dependents map[string][]string

	// dependencies maps an instance name to the instances it references.
	dependencies map[string][]string

	levels [][]string
	order  []string
}

// Resolver scans instance fields for reference tokens and builds the
// dependency graph.
type Resolver struct{}

// NewResolver creates a resolver.
func NewResolver() *Resolver {
	return &Resolver{}
}

// Resolve scans every field value of every instance for reference
// tokens, binds each token to its target instance, and returns the
// dependency graph in topological order. Instances at the same level
// are ordered by declaration position so repeated runs produce the same
// order.
func (r *Resolver) Resolve(instances []*ComponentInstance) (*DependencyGraph, []ResolutionError) {
	var errs []ResolutionError

	byName := make(map[string]*ComponentInstance, len(instances))
	byType := make(map[string][]*ComponentInstance)
	for _, inst := range instances {
		byName[inst.Name] = inst
		byType[inst.Type] = append(byType[inst.Type], inst)
	}

	graph := &DependencyGraph{
		instances:    byName,
		dependents:   make(map[string][]string, len(instances)),
		dependencies: make(map[string][]string, len(instances)),
	}
	for _, inst := range instances {
		graph.dependents[inst.Name] = nil
		graph.dependencies[inst.Name] = nil
	}

	for _, inst := range instances {
		refs := scanForTokens("", inst.Fields)
		inst.References = inst.References[:0]

		for _, ref := range refs {
			target, err := r.bindToken(inst, ref, byType)
			if err != nil {
				errs = append(errs, *err)
				continue
			}

			if target.Name == inst.Name {
				errs = append(errs, ResolutionError{
					Code:     CodeCyclicReference,
					Instance: inst.Name,
					Field:    ref.Field,
					Message:  "instance references itself",
					Cycle:    []string{inst.Name, inst.Name},
				})
				continue
			}

			ref.Target = target.Name
			inst.References = append(inst.References, ref)
			graph.addEdge(target.Name, inst.Name)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}

	if cycleErrs := graph.detectCycles(); len(cycleErrs) > 0 {
		return nil, cycleErrs
	}

	if err := graph.computeLevels(); err != nil {
		return nil, []ResolutionError{*err}
	}

	return graph, nil
}

// bindToken resolves one token to its target instance. An aliased token
// names a specific instance; an unaliased token requires exactly one
// instance of the component type in the deployment.
func (r *Resolver) bindToken(inst *ComponentInstance, ref Reference, byType map[string][]*ComponentInstance) (*ComponentInstance, *ResolutionError) {
	candidates := byType[ref.Token.Component]
	if len(candidates) == 0 {
		return nil, &ResolutionError{
			Code:     CodeUnresolvedReference,
			Instance: inst.Name,
			Field:    ref.Field,
			Message:  fmt.Sprintf("no instance of %s is declared", ref.Token.Component),
		}
	}

	if ref.Token.Alias != "" {
		for _, candidate := range candidates {
			if candidate.Name == ref.Token.Alias {
				return candidate, nil
			}
		}
		return nil, &ResolutionError{
			Code:     CodeUnresolvedReference,
			Instance: inst.Name,
			Field:    ref.Field,
			Message: fmt.Sprintf("no instance of %s is named %q",
				ref.Token.Component, ref.Token.Alias),
		}
	}

	if len(candidates) > 1 {
		names := make([]string, len(candidates))
		for i, candidate := range candidates {
			names[i] = candidate.Name
		}
		sort.Strings(names)
		return nil, &ResolutionError{
			Code:     CodeUnresolvedReference,
			Instance: inst.Name,
			Field:    ref.Field,
			Message: fmt.Sprintf("reference to %s is ambiguous (instances: %s); use an alias",
				ref.Token.Component, strings.Join(names, ", ")),
		}
	}

	return candidates[0], nil
}

// scanForTokens walks a field mapping, including arrays and nested
// objects, collecting every reference token with its field path.
func scanForTokens(prefix string, fields map[string]interface{}) []Reference {
	var refs []Reference

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		refs = append(refs, scanValue(path, fields[key])...)
	}
	return refs
}

func scanValue(path string, value interface{}) []Reference {
	switch v := value.(type) {
	case string:
		if token, ok := catalog.ParseToken(v); ok {
			return []Reference{{Field: path, Token: token}}
		}
	case []interface{}:
		var refs []Reference
		for i, item := range v {
			refs = append(refs, scanValue(fmt.Sprintf("%s[%d]", path, i), item)...)
		}
		return refs
	case map[string]interface{}:
		return scanForTokens(path, v)
	}
	return nil
}

func (g *DependencyGraph) addEdge(from, to string) {
	for _, existing := range g.dependents[from] {
		if existing == to {
			return
		}
	}
	g.dependents[from] = append(g.dependents[from], to)
	g.dependencies[to] = append(g.dependencies[to], from)
}

// detectCycles runs depth-first search over the reference edges and
// reports each cycle with its full path.
func (g *DependencyGraph) detectCycles() []ResolutionError {
	visited := make(map[string]bool)
	recStack := make(map[string]bool)

	var errs []ResolutionError

	names := g.sortedNames()
	for _, name := range names {
		if visited[name] {
			continue
		}
		if cycle := g.findCycle(name, visited, recStack, nil); cycle != nil {
			errs = append(errs, ResolutionError{
				Code:     CodeCyclicReference,
				Instance: cycle[0],
				Message:  fmt.Sprintf("reference cycle: %s", strings.Join(cycle, " -> ")),
				Cycle:    cycle,
			})
		}
	}
	return errs
}

func (g *DependencyGraph) findCycle(name string, visited, recStack map[string]bool, path []string) []string {
	visited[name] = true
	recStack[name] = true
	path = append(path, name)

	for _, dependent := range g.dependents[name] {
		if !visited[dependent] {
			if cycle := g.findCycle(dependent, visited, recStack, path); cycle != nil {
				return cycle
			}
		} else if recStack[dependent] {
			start := 0
			for i, id := range path {
				if id == dependent {
					start = i
					break
				}
			}
			return append(append([]string{}, path[start:]...), dependent)
		}
	}

	recStack[name] = false
	return nil
}

// computeLevels assigns execution levels with Kahn's algorithm.
// Instances at the same level have no references between them and can
// be applied in parallel.
func (g *DependencyGraph) computeLevels() *ResolutionError {
	inDegree := make(map[string]int, len(g.instances))
	for name := range g.instances {
		inDegree[name] = len(g.dependencies[name])
	}

	var current []string
	for name, degree := range inDegree {
		if degree == 0 {
			current = append(current, name)
		}
	}

	processed := 0
	for len(current) > 0 {
		g.sortByDeclaration(current)
		g.levels = append(g.levels, current)
		g.order = append(g.order, current...)
		processed += len(current)

		var next []string
		for _, name := range current {
			for _, dependent := range g.dependents[name] {
				inDegree[dependent]--
				if inDegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		current = next
	}

	if processed != len(g.instances) {
		return &ResolutionError{
			Code:    CodeCyclicReference,
			Message: "not all instances could be ordered",
		}
	}
	return nil
}

// sortByDeclaration orders names by declaration position, falling back
// to the name itself.
func (g *DependencyGraph) sortByDeclaration(names []string) {
	sort.Slice(names, func(i, j int) bool {
		a, b := g.instances[names[i]], g.instances[names[j]]
		if a.DeclOrder != b.DeclOrder {
			return a.DeclOrder < b.DeclOrder
		}
		return a.Name < b.Name
	})
}

func (g *DependencyGraph) sortedNames() []string {
	names := make([]string, 0, len(g.instances))
	for name := range g.instances {
		names = append(names, name)
	}
	g.sortByDeclaration(names)
	return names
}

// Levels returns the execution levels. Each level lists instance names
// that can be applied in parallel.
func (g *DependencyGraph) Levels() [][]string {
	return g.levels
}

// TopoOrder returns every instance name in topological order.
func (g *DependencyGraph) TopoOrder() []string {
	return g.order
}

// ReverseTopoOrder returns every instance name in reverse topological
// order, the order deletes run in.
func (g *DependencyGraph) ReverseTopoOrder() []string {
	reversed := make([]string, len(g.order))
	for i, name := range g.order {
		reversed[len(g.order)-1-i] = name
	}
	return reversed
}

// Dependencies returns the names of the instances the given instance
// references.
func (g *DependencyGraph) Dependencies(name string) []string {
	return g.dependencies[name]
}

// Dependents returns the names of the instances that reference the
// given instance.
func (g *DependencyGraph) Dependents(name string) []string {
	return g.dependents[name]
}

// Instance returns the instance with the given name, or nil.
func (g *DependencyGraph) Instance(name string) *ComponentInstance {
	return g.instances[name]
}

// ToDOT renders the dependency graph in DOT format for Graphviz.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph DependencyGraph {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, names := range g.levels {
		sb.WriteString(fmt.Sprintf("  subgraph cluster_level_%d {\n", level))
		sb.WriteString(fmt.Sprintf("    label=\"Level %d\";\n", level))
		sb.WriteString("    style=dashed;\n")
		for _, name := range names {
			inst := g.instances[name]
			sb.WriteString(fmt.Sprintf("    %q [label=\"%s\\n%s\"];\n",
				name, name, inst.Type))
		}
		sb.WriteString("  }\n\n")
	}

	for _, name := range g.sortedNames() {
		for _, dependent := range g.dependents[name] {
			sb.WriteString(fmt.Sprintf("  %q -> %q;\n", name, dependent))
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
