package provider

import (
	"context"
	"reflect"
	"testing"

	"github.com/stackform/stackform/pkg/engine"
)

func TestRegistryLookup(t *testing.T) {
	lb := NewMemoryProvider("alb.load_balancer")
	cp := NewMemoryProvider("cloudfront.cache_policy")

	registry, err := NewRegistry(lb, cp)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	got, ok := registry.Provider("alb.load_balancer")
	if !ok || got != engine.Provider(lb) {
		t.Errorf("Provider(alb.load_balancer) = %v, %v; want the registered provider", got, ok)
	}
	if _, ok := registry.Provider("sqs.queue"); ok {
		t.Error("Provider(sqs.queue) found, want absent")
	}

	want := []string{"alb.load_balancer", "cloudfront.cache_policy"}
	if types := registry.Types(); !reflect.DeepEqual(types, want) {
		t.Errorf("Types() = %v, want %v", types, want)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(
		NewMemoryProvider("alb.load_balancer"),
		NewMemoryProvider("alb.load_balancer"),
	)
	if err == nil {
		t.Fatal("NewRegistry() succeeded, want duplicate error")
	}
}

func TestObserveTagsResourcesWithComponentType(t *testing.T) {
	lb := NewMemoryProvider("alb.load_balancer")
	lb.Seed("lb-1", "web-lb", map[string]interface{}{"scheme": "internal"}, map[string]string{"env": "prod"})
	cp := NewMemoryProvider("cloudfront.cache_policy")
	cp.Seed("cp-1", "assets", map[string]interface{}{"default_ttl": int64(60)}, nil)

	registry, err := NewRegistry(lb, cp)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	observed, err := registry.Observe(context.Background())
	if err != nil {
		t.Fatalf("Observe() error = %v", err)
	}
	if len(observed) != 2 {
		t.Fatalf("len(observed) = %d, want 2", len(observed))
	}

	// Types() is sorted, so the load balancer comes first.
	first := observed[0]
	if first.Type != "alb.load_balancer" || first.ID != "lb-1" || first.Name != "web-lb" {
		t.Errorf("observed[0] = %+v, want lb-1/web-lb", first)
	}
	if first.Tags["env"] != "prod" {
		t.Errorf("observed tags = %v, want env=prod", first.Tags)
	}
	if first.Fields["scheme"] != "internal" {
		t.Errorf("observed fields = %v, want scheme=internal", first.Fields)
	}
}

func TestMemoryProviderLifecycle(t *testing.T) {
	ctx := context.Background()
	prov := NewMemoryProvider("cloudfront.cache_policy")

	desc, err := prov.Create(ctx, engine.CreateRequest{
		ComponentType: "cloudfront.cache_policy",
		Name:          "assets",
		Fields:        map[string]interface{}{"default_ttl": int64(60)},
		Tags:          map[string]string{"env": "prod"},
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if desc.ID == "" || desc.Props["id"] != desc.ID {
		t.Errorf("descriptor = %+v, want id prop matching ID", desc)
	}

	if _, err := prov.Create(ctx, engine.CreateRequest{Name: "assets"}); !engine.IsConflict(err) {
		t.Errorf("duplicate Create() error = %v, want conflict", err)
	}

	updated, err := prov.Update(ctx, engine.UpdateRequest{
		ResourceID: desc.ID,
		Fields:     map[string]interface{}{"default_ttl": int64(300)},
		TagsRemove: []string{"env"},
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Fields["default_ttl"] != int64(300) {
		t.Errorf("updated default_ttl = %v, want 300", updated.Fields["default_ttl"])
	}
	if len(updated.Tags) != 0 {
		t.Errorf("updated tags = %v, want empty", updated.Tags)
	}

	if err := prov.Delete(ctx, desc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if !engine.IsNotFound(prov.Delete(ctx, desc.ID)) {
		t.Error("second Delete() did not return not found")
	}
	if prov.Len() != 0 {
		t.Errorf("Len() = %d, want 0", prov.Len())
	}
}

func TestMemoryProviderFailureInjection(t *testing.T) {
	ctx := context.Background()
	prov := NewMemoryProvider("cloudfront.cache_policy")
	prov.FailCreate = engine.NewTransientError("throttled", nil)

	if _, err := prov.Create(ctx, engine.CreateRequest{Name: "assets"}); !engine.IsTransient(err) {
		t.Fatalf("Create() error = %v, want injected transient", err)
	}

	// The injected failure is one-shot.
	if _, err := prov.Create(ctx, engine.CreateRequest{Name: "assets"}); err != nil {
		t.Fatalf("second Create() error = %v, want success", err)
	}
	if prov.Calls["Create"] != 2 {
		t.Errorf("Calls[Create] = %d, want 2", prov.Calls["Create"])
	}
}
