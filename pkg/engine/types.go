package engine

import (
	"time"

	"github.com/stackform/stackform/pkg/catalog"
)

// ComponentInstance is one declared component: a validated definition
// object bound to a catalog definition, tracked through the lifecycle.
type ComponentInstance struct {
	// ID is the unique instance identifier.
	ID string `json:"id"`

	// Name is the instance name within the deployment, unique per
	// deployment.
	Name string `json:"name"`

	// Type is the component type name, e.g. "cloudfront.cache_policy".
	Type string `json:"type"`

	// Definition is the catalog definition this instance is bound to.
	Definition *catalog.ComponentDefinition `json:"-"`

	// ResourceID is the provider resource identifier from the last
	// successful apply, empty for instances never provisioned.
	ResourceID string `json:"resource_id,omitempty"`

	// Fields is the normalized field mapping after validation, with
	// reference tokens replaced by resolved values once resolution has
	// run.
	Fields map[string]interface{} `json:"fields"`

	// Props is the provider-reported output mapping, populated after a
	// successful apply.
	Props map[string]interface{} `json:"props,omitempty"`

	// Links maps display labels to console URLs for the underlying
	// resource.
	Links map[string]string `json:"links,omitempty"`

	// Tags is the desired tag set for the underlying resource.
	Tags map[string]string `json:"tags,omitempty"`

	// Status is the lifecycle state of the instance.
	Status InstanceStatus `json:"status"`

	// DeclOrder is the zero-based declaration position in the
	// deployment document, used as the deterministic tie-break.
	DeclOrder int `json:"decl_order"`

	// References are the reference tokens found in the instance's raw
	// fields, recorded before resolution.
	References []Reference `json:"references,omitempty"`
}

// Reference is one reference token found in an instance's fields.
type Reference struct {
	// Field is the path of the field holding the token, e.g.
	// "subnets[0]".
	Field string `json:"field"`

	// Token is the parsed token.
	Token catalog.Token `json:"token"`

	// Target is the name of the instance the token resolved to, set
	// during resolution.
	Target string `json:"target,omitempty"`
}

// ObservedResource is a provider-reported resource used as the observed
// side of reconciliation.
type ObservedResource struct {
	// ID is the provider's resource identifier.
	ID string `json:"id"`

	// Type is the component type that manages this resource kind.
	Type string `json:"type"`

	// Name is the resource name as reported by the provider.
	Name string `json:"name"`

	// Fields is the observed configuration mapping.
	Fields map[string]interface{} `json:"fields"`

	// Props is the observed output mapping.
	Props map[string]interface{} `json:"props,omitempty"`

	// Links maps display labels to console URLs.
	Links map[string]string `json:"links,omitempty"`

	// Tags is the observed tag set.
	Tags map[string]string `json:"tags,omitempty"`
}

// Operation is one planned change against a provider.
type Operation struct {
	// ID is the unique operation identifier.
	ID string `json:"id"`

	// Type is the kind of change.
	Type OperationType `json:"type"`

	// Component is the instance name the operation acts for. Delete
	// operations for undeclared resources carry the resource name.
	Component string `json:"component"`

	// ComponentType is the component type name.
	ComponentType string `json:"component_type"`

	// ResourceID is the provider resource ID, empty for creates.
	ResourceID string `json:"resource_id,omitempty"`

	// Before is the observed field mapping prior to the change, nil for
	// creates.
	Before map[string]interface{} `json:"before,omitempty"`

	// After is the desired field mapping, nil for deletes.
	After map[string]interface{} `json:"after,omitempty"`

	// ChangedFields lists the fields that differ between Before and
	// After, for updates.
	ChangedFields []string `json:"changed_fields,omitempty"`

	// TagsAdd is the tag set to add or overwrite.
	TagsAdd map[string]string `json:"tags_add,omitempty"`

	// TagsRemove lists tag keys to remove.
	TagsRemove []string `json:"tags_remove,omitempty"`

	// Reason explains why the operation was planned, e.g. which
	// immutable field forced a replacement.
	Reason string `json:"reason,omitempty"`

	// DependsOn lists operation IDs that must succeed first.
	DependsOn []string `json:"depends_on,omitempty"`

	// PairedWith links the two halves of a replacement: the delete
	// names its create and vice versa.
	PairedWith string `json:"paired_with,omitempty"`

	// Status is the execution state of the operation.
	Status OperationStatus `json:"status"`
}

// PlanSummary counts operations by type.
type PlanSummary struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
	Noops   int `json:"noops"`
}

// Plan is the ordered set of operations that moves observed state to
// desired state. Recomputing a plan from unchanged inputs yields an
// equivalent plan.
type Plan struct {
	// ID is the unique plan identifier.
	ID string `json:"id"`

	// CreatedAt is when the plan was computed.
	CreatedAt time.Time `json:"created_at"`

	// Operations is every planned operation, in a deterministic order.
	Operations []*Operation `json:"operations"`

	// Summary counts the operations by type.
	Summary PlanSummary `json:"summary"`
}

// Changes returns the operations that modify provider state, excluding
// noops.
func (p *Plan) Changes() []*Operation {
	changes := make([]*Operation, 0, len(p.Operations))
	for _, op := range p.Operations {
		if op.Type != OperationNoop {
			changes = append(changes, op)
		}
	}
	return changes
}

// Operation returns the operation with the given ID, or nil.
func (p *Plan) Operation(id string) *Operation {
	for _, op := range p.Operations {
		if op.ID == id {
			return op
		}
	}
	return nil
}

// OperationResult records the outcome of one executed operation.
type OperationResult struct {
	// OperationID is the executed operation.
	OperationID string `json:"operation_id"`

	// Component is the instance name the operation acted for.
	Component string `json:"component"`

	// Type is the operation type.
	Type OperationType `json:"type"`

	// Status is the terminal operation status.
	Status OperationStatus `json:"status"`

	// Attempts is how many times the operation was tried.
	Attempts int `json:"attempts"`

	// Error is the final error message, empty on success.
	Error string `json:"error,omitempty"`

	// Err is the classified error, when the operation failed.
	Err *EngineError `json:"-"`

	// ResourceID is the provider resource ID after the operation.
	ResourceID string `json:"resource_id,omitempty"`

	// Props is the provider-reported output mapping after the
	// operation.
	Props map[string]interface{} `json:"props,omitempty"`

	// Links maps display labels to console URLs.
	Links map[string]string `json:"links,omitempty"`

	// StartedAt is when the first attempt began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the operation reached a terminal status.
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns how long the operation ran.
func (r *OperationResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunSummary counts operation outcomes for a run.
type RunSummary struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Blocked   int `json:"blocked"`
	Cancelled int `json:"cancelled"`
}

// Run records one execution of a plan.
type Run struct {
	// ID is the unique run identifier.
	ID string `json:"id"`

	// PlanID is the plan the run executed.
	PlanID string `json:"plan_id"`

	// Status is the overall run status.
	Status RunStatus `json:"status"`

	// StartedAt is when the run began.
	StartedAt time.Time `json:"started_at"`

	// CompletedAt is when the run finished, zero while running.
	CompletedAt time.Time `json:"completed_at,omitempty"`

	// Results holds one entry per executed operation.
	Results []*OperationResult `json:"results"`

	// Summary counts the outcomes.
	Summary RunSummary `json:"summary"`
}

// Result returns the result for an operation ID, or nil.
func (r *Run) Result(operationID string) *OperationResult {
	for _, res := range r.Results {
		if res.OperationID == operationID {
			return res
		}
	}
	return nil
}
