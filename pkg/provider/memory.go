package provider

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/stackform/stackform/pkg/engine"
)

// MemoryProvider is an in-memory engine.Provider for one component
// type. It backs development dry-runs and tests, with optional failure
// injection.
type MemoryProvider struct {
	componentType string

	mu        sync.Mutex
	resources map[string]*memoryResource

	// FailCreate, FailUpdate, FailDelete and FailDescribe, when set,
	// are returned for the next matching call and then cleared.
	FailCreate   error
	FailUpdate   error
	FailDelete   error
	FailDescribe error

	// Calls counts provider calls by method name.
	Calls map[string]int
}

type memoryResource struct {
	name   string
	fields map[string]interface{}
	tags   map[string]string
}

// NewMemoryProvider creates an empty in-memory provider for the given
// component type.
func NewMemoryProvider(componentType string) *MemoryProvider {
	return &MemoryProvider{
		componentType: componentType,
		resources:     make(map[string]*memoryResource),
		Calls:         make(map[string]int),
	}
}

// Type returns the component type this provider serves.
func (p *MemoryProvider) Type() string {
	return p.componentType
}

// Seed inserts a resource with a fixed ID, for test setup.
func (p *MemoryProvider) Seed(id, name string, fields map[string]interface{}, tags map[string]string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resources[id] = &memoryResource{
		name:   name,
		fields: copyFields(fields),
		tags:   copyTags(tags),
	}
}

// List implements engine.Provider.
func (p *MemoryProvider) List(ctx context.Context) ([]*engine.ResourceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["List"]++

	ids := make([]string, 0, len(p.resources))
	for id := range p.resources {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*engine.ResourceDescriptor, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.describeLocked(id))
	}
	return out, nil
}

// Describe implements engine.Provider.
func (p *MemoryProvider) Describe(ctx context.Context, resourceID string) (*engine.ResourceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["Describe"]++

	if err := p.FailDescribe; err != nil {
		p.FailDescribe = nil
		return nil, err
	}

	if _, ok := p.resources[resourceID]; !ok {
		return nil, engine.NewNotFoundError(
			fmt.Sprintf("resource %s not found", resourceID), nil)
	}
	return p.describeLocked(resourceID), nil
}

// Create implements engine.Provider.
func (p *MemoryProvider) Create(ctx context.Context, req engine.CreateRequest) (*engine.ResourceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["Create"]++

	if err := p.FailCreate; err != nil {
		p.FailCreate = nil
		return nil, err
	}

	for _, res := range p.resources {
		if res.name == req.Name {
			return nil, engine.NewConflictError(
				fmt.Sprintf("resource named %s already exists", req.Name), nil,
			).WithCode(engine.ErrCodeAlreadyExists)
		}
	}

	id := uuid.New().String()
	p.resources[id] = &memoryResource{
		name:   req.Name,
		fields: copyFields(req.Fields),
		tags:   copyTags(req.Tags),
	}
	return p.describeLocked(id), nil
}

// Update implements engine.Provider.
func (p *MemoryProvider) Update(ctx context.Context, req engine.UpdateRequest) (*engine.ResourceDescriptor, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["Update"]++

	if err := p.FailUpdate; err != nil {
		p.FailUpdate = nil
		return nil, err
	}

	res, ok := p.resources[req.ResourceID]
	if !ok {
		return nil, engine.NewNotFoundError(
			fmt.Sprintf("resource %s not found", req.ResourceID), nil)
	}

	for key, value := range req.Fields {
		res.fields[key] = value
	}
	for key, value := range req.TagsAdd {
		if res.tags == nil {
			res.tags = make(map[string]string)
		}
		res.tags[key] = value
	}
	for _, key := range req.TagsRemove {
		delete(res.tags, key)
	}

	return p.describeLocked(req.ResourceID), nil
}

// Delete implements engine.Provider.
func (p *MemoryProvider) Delete(ctx context.Context, resourceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls["Delete"]++

	if err := p.FailDelete; err != nil {
		p.FailDelete = nil
		return err
	}

	if _, ok := p.resources[resourceID]; !ok {
		return engine.NewNotFoundError(
			fmt.Sprintf("resource %s not found", resourceID), nil)
	}
	delete(p.resources, resourceID)
	return nil
}

// Len returns how many resources the provider holds.
func (p *MemoryProvider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.resources)
}

func (p *MemoryProvider) describeLocked(id string) *engine.ResourceDescriptor {
	res := p.resources[id]
	return &engine.ResourceDescriptor{
		ID:     id,
		Name:   res.name,
		Fields: copyFields(res.fields),
		Props: map[string]interface{}{
			"id":   id,
			"name": res.name,
		},
		Links: map[string]string{
			"Console": fmt.Sprintf("https://console.example.com/%s/%s", p.componentType, id),
		},
		Tags: copyTags(res.tags),
	}
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

func copyTags(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
