package engine

import "context"

// ResourceDescriptor is a provider's view of one managed resource.
type ResourceDescriptor struct {
	// ID is the provider resource identifier.
	ID string `json:"id"`

	// Name is the resource name.
	Name string `json:"name"`

	// Fields is the observed configuration mapping.
	Fields map[string]interface{} `json:"fields"`

	// Props is the output mapping exposed to dependent components.
	Props map[string]interface{} `json:"props,omitempty"`

	// Links maps display labels to console URLs.
	Links map[string]string `json:"links,omitempty"`

	// Tags is the resource tag set.
	Tags map[string]string `json:"tags,omitempty"`
}

// CreateRequest asks a provider to provision a new resource.
type CreateRequest struct {
	// ComponentType is the component type name.
	ComponentType string

	// Name is the instance name, used for provider-side naming when
	// the fields do not name the resource explicitly.
	Name string

	// Fields is the desired configuration mapping.
	Fields map[string]interface{}

	// Tags is the desired tag set.
	Tags map[string]string
}

// UpdateRequest asks a provider to modify an existing resource in place.
type UpdateRequest struct {
	// ComponentType is the component type name.
	ComponentType string

	// ResourceID identifies the resource to modify.
	ResourceID string

	// Fields is the full desired configuration mapping.
	Fields map[string]interface{}

	// ChangedFields lists the fields that differ from the observed
	// state.
	ChangedFields []string

	// TagsAdd is the tag set to add or overwrite.
	TagsAdd map[string]string

	// TagsRemove lists tag keys to remove.
	TagsRemove []string
}

// Provider executes operations against one cloud service. Providers
// classify their failures with EngineError so the executor can decide
// between retry, drift replan, and permanent failure.
type Provider interface {
	// Type returns the component type name this provider serves.
	Type() string

	// List returns every resource of this provider's type that the
	// engine may manage.
	List(ctx context.Context) ([]*ResourceDescriptor, error)

	// Describe returns the current state of one resource. A missing
	// resource returns a not-found EngineError.
	Describe(ctx context.Context, resourceID string) (*ResourceDescriptor, error)

	// Create provisions a new resource and returns its descriptor.
	Create(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error)

	// Update modifies an existing resource in place and returns the
	// refreshed descriptor.
	Update(ctx context.Context, req UpdateRequest) (*ResourceDescriptor, error)

	// Delete removes a resource. Deleting a resource that is already
	// gone is not an error.
	Delete(ctx context.Context, resourceID string) error
}

// StateStore persists component instances and run records between
// invocations.
type StateStore interface {
	// SaveInstance inserts or updates an instance record.
	SaveInstance(ctx context.Context, instance *ComponentInstance) error

	// GetInstance returns an instance by name.
	GetInstance(ctx context.Context, name string) (*ComponentInstance, error)

	// ListInstances returns all stored instances in declaration order.
	ListInstances(ctx context.Context) ([]*ComponentInstance, error)

	// DeleteInstance removes an instance record.
	DeleteInstance(ctx context.Context, name string) error

	// SaveRun inserts or updates a run record.
	SaveRun(ctx context.Context, run *Run) error

	// GetRun returns a run by ID.
	GetRun(ctx context.Context, id string) (*Run, error)

	// ListRuns returns stored runs, most recent first.
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Close releases the store.
	Close() error
}
