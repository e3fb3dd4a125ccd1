package engine

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Reconciler computes the plan that moves observed provider state to
// the desired instance set. Planning never calls a provider mutation;
// it only diffs.
type Reconciler struct {
	logger zerolog.Logger
}

// NewReconciler creates a reconciler.
func NewReconciler(logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		logger: logger.With().Str("component", "reconciler").Logger(),
	}
}

// Plan diffs the desired instances in the dependency graph against the
// observed resources and returns the operations needed to converge.
// Running Plan again after a successful apply, with no external drift,
// yields a plan whose operations are all noops.
//
// Creates and updates are ordered along the graph's topological order;
// deletes of resources no longer declared carry no dependencies and run
// alongside. An instance whose immutable field changed is replaced: a
// delete of the old resource paired with a create that depends on it.
func (r *Reconciler) Plan(graph *DependencyGraph, observed []*ObservedResource) (*Plan, error) {
	plan := &Plan{
		ID:        uuid.New().String(),
		CreatedAt: time.Now().UTC(),
	}

	matched := make(map[string]bool, len(observed))
	byID := make(map[string]*ObservedResource, len(observed))
	for _, res := range observed {
		byID[res.ID] = res
	}

	// Operation per instance name, for dependency wiring.
	opsByInstance := make(map[string][]*Operation)

	for _, name := range graph.TopoOrder() {
		inst := graph.Instance(name)

		res := r.match(inst, byID, observed, matched)
		if res != nil {
			inst.ResourceID = res.ID
		}
		ops := r.planInstance(inst, res, graph)
		opsByInstance[name] = ops
		plan.Operations = append(plan.Operations, ops...)

		inst.Status = InstanceStatusPlanned
	}

	// Dependency edges: every change for an instance depends on the
	// operations of the instances it references, noops included. A
	// dependency's noop refreshes the props the dependent's reference
	// values read from, so it must complete first. Only the
	// dependency's delete half of a replacement pair is skipped; the
	// paired create carries the edge.
	for _, name := range graph.TopoOrder() {
		var depIDs []string
		for _, dep := range graph.Dependencies(name) {
			for _, depOp := range opsByInstance[dep] {
				if depOp.Type != OperationDelete {
					depIDs = append(depIDs, depOp.ID)
				}
			}
		}
		if len(depIDs) == 0 {
			continue
		}
		sort.Strings(depIDs)
		for _, op := range opsByInstance[name] {
			if op.Type == OperationNoop {
				continue
			}
			op.DependsOn = append(op.DependsOn, depIDs...)
		}
	}

	// Observed resources no instance claims are deletes. Sorted by name
	// for a stable plan.
	var orphans []*ObservedResource
	for _, res := range observed {
		if !matched[res.ID] {
			orphans = append(orphans, res)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].Name < orphans[j].Name })

	for _, res := range orphans {
		plan.Operations = append(plan.Operations, &Operation{
			ID:            uuid.New().String(),
			Type:          OperationDelete,
			Component:     res.Name,
			ComponentType: res.Type,
			ResourceID:    res.ID,
			Before:        res.Fields,
			Reason:        "resource is no longer declared",
			Status:        OperationStatusPending,
		})
	}

	for _, op := range plan.Operations {
		switch op.Type {
		case OperationCreate:
			plan.Summary.Creates++
		case OperationUpdate:
			plan.Summary.Updates++
		case OperationDelete:
			plan.Summary.Deletes++
		case OperationNoop:
			plan.Summary.Noops++
		}
	}

	r.logger.Info().
		Str("plan_id", plan.ID).
		Int("creates", plan.Summary.Creates).
		Int("updates", plan.Summary.Updates).
		Int("deletes", plan.Summary.Deletes).
		Int("noops", plan.Summary.Noops).
		Msg("Plan computed")

	return plan, nil
}

// match finds the observed resource for an instance: by the resource ID
// recorded from the last apply, falling back to the type and name pair.
func (r *Reconciler) match(inst *ComponentInstance, byID map[string]*ObservedResource, observed []*ObservedResource, matched map[string]bool) *ObservedResource {
	if inst.ResourceID != "" {
		if res, ok := byID[inst.ResourceID]; ok && res.Type == inst.Type && !matched[res.ID] {
			matched[res.ID] = true
			return res
		}
	}

	for _, res := range observed {
		if matched[res.ID] {
			continue
		}
		if res.Type == inst.Type && res.Name == inst.Name {
			matched[res.ID] = true
			return res
		}
	}
	return nil
}

// planInstance computes the operations for one instance against its
// observed resource, if any.
func (r *Reconciler) planInstance(inst *ComponentInstance, res *ObservedResource, graph *DependencyGraph) []*Operation {
	if res == nil {
		return []*Operation{{
			ID:            uuid.New().String(),
			Type:          OperationCreate,
			Component:     inst.Name,
			ComponentType: inst.Type,
			After:         inst.Fields,
			TagsAdd:       inst.Tags,
			Status:        OperationStatusPending,
		}}
	}

	// Providers report resolved reference values, not tokens, so the
	// desired side is resolved before diffing. Tokens whose target has
	// no identity yet stay as written; that target is being created, so
	// the referencing field changes regardless.
	changed := diffFields(ResolvedFields(inst, graph), res.Fields)
	tagsAdd, tagsRemove := diffTags(inst.Tags, res.Tags)

	if len(changed) == 0 && len(tagsAdd) == 0 && len(tagsRemove) == 0 {
		return []*Operation{{
			ID:            uuid.New().String(),
			Type:          OperationNoop,
			Component:     inst.Name,
			ComponentType: inst.Type,
			ResourceID:    res.ID,
			Status:        OperationStatusPending,
		}}
	}

	if immutable := immutableChanges(inst, changed); len(immutable) > 0 {
		reason := fmt.Sprintf("immutable field %s changed, resource must be replaced",
			strings.Join(immutable, ", "))

		deleteOp := &Operation{
			ID:            uuid.New().String(),
			Type:          OperationDelete,
			Component:     inst.Name,
			ComponentType: inst.Type,
			ResourceID:    res.ID,
			Before:        res.Fields,
			Reason:        reason,
			Status:        OperationStatusPending,
		}
		createOp := &Operation{
			ID:            uuid.New().String(),
			Type:          OperationCreate,
			Component:     inst.Name,
			ComponentType: inst.Type,
			After:         inst.Fields,
			TagsAdd:       inst.Tags,
			Reason:        reason,
			DependsOn:     []string{deleteOp.ID},
			PairedWith:    deleteOp.ID,
			Status:        OperationStatusPending,
		}
		deleteOp.PairedWith = createOp.ID
		return []*Operation{deleteOp, createOp}
	}

	return []*Operation{{
		ID:            uuid.New().String(),
		Type:          OperationUpdate,
		Component:     inst.Name,
		ComponentType: inst.Type,
		ResourceID:    res.ID,
		Before:        res.Fields,
		After:         inst.Fields,
		ChangedFields: changed,
		TagsAdd:       tagsAdd,
		TagsRemove:    tagsRemove,
		Status:        OperationStatusPending,
	}}
}

// diffFields returns the desired field names whose values differ from
// the observed resource. Only desired fields are compared; provider
// side fields the author never set do not count as drift.
func diffFields(desired, observedFields map[string]interface{}) []string {
	var changed []string
	for name, want := range desired {
		if name == "tags" {
			continue
		}
		got, present := observedFields[name]
		if !present || !looseEqual(want, got) {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}

// diffTags computes the tag add and remove sets between desired and
// observed tag mappings.
func diffTags(desired, observedTags map[string]string) (map[string]string, []string) {
	add := make(map[string]string)
	for key, want := range desired {
		if got, ok := observedTags[key]; !ok || got != want {
			add[key] = want
		}
	}

	var remove []string
	for key := range observedTags {
		if _, ok := desired[key]; !ok {
			remove = append(remove, key)
		}
	}
	sort.Strings(remove)

	if len(add) == 0 {
		add = nil
	}
	if len(remove) == 0 {
		remove = nil
	}
	return add, remove
}

// immutableChanges returns the changed fields the definition marks
// immutable, sorted.
func immutableChanges(inst *ComponentInstance, changed []string) []string {
	if inst.Definition == nil {
		return nil
	}

	immutable := make(map[string]bool)
	for _, name := range inst.Definition.ImmutableFields() {
		immutable[name] = true
	}

	var out []string
	for _, name := range changed {
		if immutable[name] {
			out = append(out, name)
		}
	}
	return out
}

// looseEqual compares two JSON-shaped values, treating int64 and
// float64 forms of the same integer as equal. Observed values come back
// through JSON decoding as float64 while normalized desired values are
// int64.
func looseEqual(a, b interface{}) bool {
	if na, ok := asNumber(a); ok {
		nb, ok := asNumber(b)
		return ok && na == nb
	}

	switch va := a.(type) {
	case []interface{}:
		vb, ok := b.([]interface{})
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !looseEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		vb, ok := b.(map[string]interface{})
		if !ok || len(va) != len(vb) {
			return false
		}
		for key, item := range va {
			other, present := vb[key]
			if !present || !looseEqual(item, other) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func asNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
