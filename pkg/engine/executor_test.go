package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/rs/zerolog"
)

// fakeProvider is a configurable Provider for executor tests. Unset
// call hooks fall back to a success response.
type fakeProvider struct {
	typ string

	mu    sync.Mutex
	calls []string

	listFn     func(ctx context.Context) ([]*ResourceDescriptor, error)
	describeFn func(ctx context.Context, id string) (*ResourceDescriptor, error)
	createFn   func(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error)
	updateFn   func(ctx context.Context, req UpdateRequest) (*ResourceDescriptor, error)
	deleteFn   func(ctx context.Context, id string) error
}

func (f *fakeProvider) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeProvider) callOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.calls...)
}

func (f *fakeProvider) Type() string { return f.typ }

func (f *fakeProvider) List(ctx context.Context) ([]*ResourceDescriptor, error) {
	f.record("List")
	if f.listFn != nil {
		return f.listFn(ctx)
	}
	return nil, nil
}

func (f *fakeProvider) Describe(ctx context.Context, id string) (*ResourceDescriptor, error) {
	f.record("Describe " + id)
	if f.describeFn != nil {
		return f.describeFn(ctx, id)
	}
	return &ResourceDescriptor{ID: id, Props: map[string]interface{}{"id": id}}, nil
}

func (f *fakeProvider) Create(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error) {
	f.record("Create " + req.Name)
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	id := req.Name + "-id"
	return &ResourceDescriptor{
		ID:    id,
		Name:  req.Name,
		Props: map[string]interface{}{"id": id, "name": req.Name},
	}, nil
}

func (f *fakeProvider) Update(ctx context.Context, req UpdateRequest) (*ResourceDescriptor, error) {
	f.record("Update " + req.ResourceID)
	if f.updateFn != nil {
		return f.updateFn(ctx, req)
	}
	return &ResourceDescriptor{ID: req.ResourceID, Props: map[string]interface{}{"id": req.ResourceID}}, nil
}

func (f *fakeProvider) Delete(ctx context.Context, id string) error {
	f.record("Delete " + id)
	if f.deleteFn != nil {
		return f.deleteFn(ctx, id)
	}
	return nil
}

// fakeLookup maps component types to providers.
type fakeLookup map[string]Provider

func (l fakeLookup) Provider(componentType string) (Provider, bool) {
	p, ok := l[componentType]
	return p, ok
}

// fakeMetrics counts metric calls.
type fakeMetrics struct {
	mu         sync.Mutex
	operations map[string]int
	retries    int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{operations: make(map[string]int)}
}

func (m *fakeMetrics) RecordOperation(opType, outcome string) {
	m.mu.Lock()
	m.operations[opType+"/"+outcome]++
	m.mu.Unlock()
}

func (m *fakeMetrics) RecordRetry(opType string) {
	m.mu.Lock()
	m.retries++
	m.mu.Unlock()
}

func (m *fakeMetrics) ObserveOperationDuration(opType string, seconds float64) {}

func newTestExecutor(lookup ProviderLookup, metrics ExecutorMetrics) *Executor {
	return NewExecutor(lookup, nil, metrics, ExecutorOptions{
		MaxParallel: 4,
		MaxAttempts: 3,
	}, zerolog.Nop())
}

func createOp(id, component, componentType string, dependsOn ...string) *Operation {
	return &Operation{
		ID:            id,
		Type:          OperationCreate,
		Component:     component,
		ComponentType: componentType,
		DependsOn:     dependsOn,
		Status:        OperationStatusPending,
	}
}

func TestExecuteAppliesPlanInDependencyOrder(t *testing.T) {
	network := testInstance("network", "vpc.network", 0, map[string]interface{}{})
	lb := testInstance("web-lb", "alb.load_balancer", 1, map[string]interface{}{
		"vpc": "&vpc.network",
	})
	graph := mustResolve(t, []*ComponentInstance{network, lb})

	netProv := &fakeProvider{typ: "vpc.network"}
	lbProv := &fakeProvider{typ: "alb.load_balancer"}
	lookup := fakeLookup{"vpc.network": netProv, "alb.load_balancer": lbProv}

	opA := createOp("op-a", "network", "vpc.network")
	opB := createOp("op-b", "web-lb", "alb.load_balancer", "op-a")
	plan := &Plan{ID: "plan-1", Operations: []*Operation{opA, opB}}

	exec := newTestExecutor(lookup, nil)
	run, err := exec.Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}
	if run.Summary.Succeeded != 2 {
		t.Fatalf("Summary.Succeeded = %d, want 2", run.Summary.Succeeded)
	}

	if network.ResourceID != "network-id" || network.Status != InstanceStatusApplied {
		t.Errorf("network = %s/%s, want network-id/applied", network.ResourceID, network.Status)
	}
	if got, ok := network.Props["id"].(string); !ok || got != "network-id" {
		t.Errorf("network props id = %v, want network-id", network.Props["id"])
	}

	result := run.Result("op-b")
	if result == nil || result.Status != OperationStatusSucceeded {
		t.Fatalf("op-b result = %+v, want succeeded", result)
	}
}

func TestExecuteResolvesReferences(t *testing.T) {
	network := testInstance("network", "vpc.network", 0, map[string]interface{}{})
	lb := testInstance("web-lb", "alb.load_balancer", 1, map[string]interface{}{
		"subnets": []interface{}{"subnet-a"},
		"vpc":     "&vpc.network",
	})
	graph := mustResolve(t, []*ComponentInstance{network, lb})

	var gotVPC interface{}
	lbProv := &fakeProvider{
		typ: "alb.load_balancer",
		createFn: func(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error) {
			gotVPC = req.Fields["vpc"]
			return &ResourceDescriptor{ID: "lb-id"}, nil
		},
	}
	lookup := fakeLookup{
		"vpc.network":       &fakeProvider{typ: "vpc.network"},
		"alb.load_balancer": lbProv,
	}

	opA := createOp("op-a", "network", "vpc.network")
	opB := createOp("op-b", "web-lb", "alb.load_balancer", "op-a")
	plan := &Plan{ID: "plan-1", Operations: []*Operation{opA, opB}}

	run, err := newTestExecutor(lookup, nil).Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}

	if gotVPC != "network-id" {
		t.Errorf("resolved vpc reference = %v, want network-id", gotVPC)
	}
	if inner, ok := lb.Fields["vpc"].(string); !ok || inner != "&vpc.network" {
		t.Errorf("instance fields mutated to %v, want token preserved", lb.Fields["vpc"])
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	inst := testInstance("assets", "cloudfront.cache_policy", 0, map[string]interface{}{})
	graph := mustResolve(t, []*ComponentInstance{inst})

	failures := 1
	prov := &fakeProvider{typ: "cloudfront.cache_policy"}
	prov.createFn = func(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error) {
		if failures > 0 {
			failures--
			return nil, NewTransientError("rate exceeded", nil).WithCode(ErrCodeProviderFailed)
		}
		return &ResourceDescriptor{ID: "cp-1", Props: map[string]interface{}{"id": "cp-1"}}, nil
	}

	metrics := newFakeMetrics()
	plan := &Plan{ID: "plan-1", Operations: []*Operation{
		createOp("op-a", "assets", "cloudfront.cache_policy"),
	}}

	run, err := newTestExecutor(fakeLookup{"cloudfront.cache_policy": prov}, metrics).
		Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}
	result := run.Result("op-a")
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
	if metrics.retries != 1 {
		t.Errorf("recorded retries = %d, want 1", metrics.retries)
	}
}

func TestExecuteDoesNotRetryPermanentFailures(t *testing.T) {
	inst := testInstance("assets", "cloudfront.cache_policy", 0, map[string]interface{}{})
	graph := mustResolve(t, []*ComponentInstance{inst})

	attempts := 0
	prov := &fakeProvider{typ: "cloudfront.cache_policy"}
	prov.createFn = func(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error) {
		attempts++
		return nil, NewPermissionError("not authorized to create cache policies", nil)
	}

	plan := &Plan{ID: "plan-1", Operations: []*Operation{
		createOp("op-a", "assets", "cloudfront.cache_policy"),
	}}

	run, err := newTestExecutor(fakeLookup{"cloudfront.cache_policy": prov}, nil).
		Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if attempts != 1 {
		t.Errorf("provider attempts = %d, want 1", attempts)
	}
	result := run.Result("op-a")
	if result.Status != OperationStatusFailed || !IsPermission(result.Err) {
		t.Errorf("result = %+v, want failed permission error", result)
	}
	if inst.Status != InstanceStatusFailed {
		t.Errorf("instance status = %s, want failed", inst.Status)
	}
}

func TestExecuteBlocksDependentsOfFailures(t *testing.T) {
	network := testInstance("network", "vpc.network", 0, map[string]interface{}{})
	lb := testInstance("web-lb", "alb.load_balancer", 1, map[string]interface{}{
		"vpc": "&vpc.network",
	})
	graph := mustResolve(t, []*ComponentInstance{network, lb})

	netProv := &fakeProvider{typ: "vpc.network"}
	netProv.createFn = func(ctx context.Context, req CreateRequest) (*ResourceDescriptor, error) {
		return nil, NewPermanentError("quota exceeded", nil).WithCode(ErrCodeProviderFailed)
	}
	lbProv := &fakeProvider{typ: "alb.load_balancer"}

	opA := createOp("op-a", "network", "vpc.network")
	opB := createOp("op-b", "web-lb", "alb.load_balancer", "op-a")
	plan := &Plan{ID: "plan-1", Operations: []*Operation{opA, opB}}

	lookup := fakeLookup{"vpc.network": netProv, "alb.load_balancer": lbProv}
	run, err := newTestExecutor(lookup, nil).Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if run.Summary.Failed != 1 || run.Summary.Blocked != 1 {
		t.Fatalf("summary = %+v, want 1 failed, 1 blocked", run.Summary)
	}

	result := run.Result("op-b")
	if result.Status != OperationStatusBlocked {
		t.Fatalf("op-b status = %s, want blocked", result.Status)
	}
	if result.Err == nil || result.Err.Code != ErrCodeDependencyFailed {
		t.Errorf("op-b error = %+v, want %s", result.Err, ErrCodeDependencyFailed)
	}
	if len(lbProv.callOrder()) != 0 {
		t.Errorf("blocked operation still reached the provider: %v", lbProv.callOrder())
	}
}

func TestExecuteCancelledBeforeStart(t *testing.T) {
	inst := testInstance("assets", "cloudfront.cache_policy", 0, map[string]interface{}{})
	graph := mustResolve(t, []*ComponentInstance{inst})

	prov := &fakeProvider{typ: "cloudfront.cache_policy"}
	plan := &Plan{ID: "plan-1", Operations: []*Operation{
		createOp("op-a", "assets", "cloudfront.cache_policy"),
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	run, err := newTestExecutor(fakeLookup{"cloudfront.cache_policy": prov}, nil).
		Execute(ctx, plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusCancelled {
		t.Fatalf("run status = %s, want cancelled", run.Status)
	}
	if run.Summary.Cancelled != 1 {
		t.Errorf("summary = %+v, want 1 cancelled", run.Summary)
	}
	if len(prov.callOrder()) != 0 {
		t.Errorf("cancelled run still reached the provider: %v", prov.callOrder())
	}
}

func TestExecuteNoopRefreshesProps(t *testing.T) {
	inst := testInstance("assets", "cloudfront.cache_policy", 0, map[string]interface{}{})
	inst.ResourceID = "cp-1"
	graph := mustResolve(t, []*ComponentInstance{inst})

	prov := &fakeProvider{typ: "cloudfront.cache_policy"}
	prov.describeFn = func(ctx context.Context, id string) (*ResourceDescriptor, error) {
		return &ResourceDescriptor{
			ID:    id,
			Props: map[string]interface{}{"id": id, "etag": "E3"},
		}, nil
	}

	plan := &Plan{ID: "plan-1", Operations: []*Operation{{
		ID:            "op-a",
		Type:          OperationNoop,
		Component:     "assets",
		ComponentType: "cloudfront.cache_policy",
		ResourceID:    "cp-1",
		Status:        OperationStatusPending,
	}}}

	run, err := newTestExecutor(fakeLookup{"cloudfront.cache_policy": prov}, nil).
		Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}
	if got, _ := inst.Props["etag"].(string); got != "E3" {
		t.Errorf("props etag = %q, want E3", got)
	}
	if inst.Status != InstanceStatusApplied {
		t.Errorf("instance status = %s, want applied", inst.Status)
	}
}

func TestExecuteReportsDriftWhenResourceVanished(t *testing.T) {
	inst := testInstance("assets", "cloudfront.cache_policy", 0, map[string]interface{}{})
	inst.ResourceID = "cp-1"
	graph := mustResolve(t, []*ComponentInstance{inst})

	prov := &fakeProvider{typ: "cloudfront.cache_policy"}
	prov.updateFn = func(ctx context.Context, req UpdateRequest) (*ResourceDescriptor, error) {
		return nil, NewNotFoundError(fmt.Sprintf("resource %s not found", req.ResourceID), nil)
	}

	plan := &Plan{ID: "plan-1", Operations: []*Operation{{
		ID:            "op-a",
		Type:          OperationUpdate,
		Component:     "assets",
		ComponentType: "cloudfront.cache_policy",
		ResourceID:    "cp-1",
		ChangedFields: []string{"default_ttl"},
		Status:        OperationStatusPending,
	}}}

	run, err := newTestExecutor(fakeLookup{"cloudfront.cache_policy": prov}, nil).
		Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	result := run.Result("op-a")
	if result.Status != OperationStatusFailed {
		t.Fatalf("status = %s, want failed", result.Status)
	}
	if result.Err == nil || result.Err.Code != ErrCodeDriftReplan {
		t.Errorf("error = %+v, want code %s", result.Err, ErrCodeDriftReplan)
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
}

func TestExecuteDeleteIgnoresAlreadyGone(t *testing.T) {
	graph := mustResolve(t, nil)

	prov := &fakeProvider{typ: "cloudfront.cache_policy"}
	prov.deleteFn = func(ctx context.Context, id string) error {
		return NewNotFoundError(fmt.Sprintf("resource %s not found", id), nil)
	}

	plan := &Plan{ID: "plan-1", Operations: []*Operation{{
		ID:            "op-a",
		Type:          OperationDelete,
		Component:     "abandoned",
		ComponentType: "cloudfront.cache_policy",
		ResourceID:    "cp-9",
		Status:        OperationStatusPending,
	}}}

	run, err := newTestExecutor(fakeLookup{"cloudfront.cache_policy": prov}, nil).
		Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusSucceeded {
		t.Fatalf("run status = %s, want succeeded", run.Status)
	}
	if got := run.Result("op-a").Status; got != OperationStatusSucceeded {
		t.Errorf("op-a status = %s, want succeeded", got)
	}
}

func TestExecuteMissingProvider(t *testing.T) {
	inst := testInstance("assets", "cloudfront.cache_policy", 0, map[string]interface{}{})
	graph := mustResolve(t, []*ComponentInstance{inst})

	plan := &Plan{ID: "plan-1", Operations: []*Operation{
		createOp("op-a", "assets", "cloudfront.cache_policy"),
	}}

	run, err := newTestExecutor(fakeLookup{}, nil).Execute(context.Background(), plan, graph)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if run.Status != RunStatusFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	result := run.Result("op-a")
	if result.Err == nil || result.Err.Code != ErrCodeProviderFailed {
		t.Errorf("error = %+v, want code %s", result.Err, ErrCodeProviderFailed)
	}
}
