package engine

import (
	"reflect"
	"strings"
	"testing"
)

func testInstance(name, componentType string, order int, fields map[string]interface{}) *ComponentInstance {
	return &ComponentInstance{
		ID:        name + "-id",
		Name:      name,
		Type:      componentType,
		Fields:    fields,
		Status:    InstanceStatusValidated,
		DeclOrder: order,
	}
}

func TestResolveBuildsLevels(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("network", "vpc.network", 0, map[string]interface{}{
			"cidr": "10.0.0.0/16",
		}),
		testInstance("web-sg", "ec2.security_group", 1, map[string]interface{}{
			"vpc": "&vpc.network",
		}),
		testInstance("web-lb", "alb.load_balancer", 2, map[string]interface{}{
			"subnets":         []interface{}{"subnet-a", "subnet-b"},
			"security_groups": []interface{}{"&ec2.security_group"},
		}),
	}

	graph, errs := NewResolver().Resolve(instances)
	if len(errs) != 0 {
		t.Fatalf("Resolve() errors = %v, want none", errs)
	}

	wantLevels := [][]string{
		{"network"},
		{"web-sg"},
		{"web-lb"},
	}
	if got := graph.Levels(); !reflect.DeepEqual(got, wantLevels) {
		t.Errorf("Levels() = %v, want %v", got, wantLevels)
	}

	if got := graph.Dependencies("web-lb"); !reflect.DeepEqual(got, []string{"web-sg"}) {
		t.Errorf("Dependencies(web-lb) = %v, want [web-sg]", got)
	}
	if got := graph.Dependents("network"); !reflect.DeepEqual(got, []string{"web-sg"}) {
		t.Errorf("Dependents(network) = %v, want [web-sg]", got)
	}

	wantOrder := []string{"network", "web-sg", "web-lb"}
	if got := graph.TopoOrder(); !reflect.DeepEqual(got, wantOrder) {
		t.Errorf("TopoOrder() = %v, want %v", got, wantOrder)
	}
	wantReverse := []string{"web-lb", "web-sg", "network"}
	if got := graph.ReverseTopoOrder(); !reflect.DeepEqual(got, wantReverse) {
		t.Errorf("ReverseTopoOrder() = %v, want %v", got, wantReverse)
	}
}

func TestResolveRecordsReferences(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("network", "vpc.network", 0, map[string]interface{}{}),
		testInstance("web-lb", "alb.load_balancer", 1, map[string]interface{}{
			"subnets": []interface{}{"subnet-a", "&vpc.network"},
			"settings": map[string]interface{}{
				"vpc": "&vpc.network:network",
			},
		}),
	}

	_, errs := NewResolver().Resolve(instances)
	if len(errs) != 0 {
		t.Fatalf("Resolve() errors = %v, want none", errs)
	}

	lb := instances[1]
	if len(lb.References) != 2 {
		t.Fatalf("len(References) = %d, want 2", len(lb.References))
	}
	fields := []string{lb.References[0].Field, lb.References[1].Field}
	want := []string{"settings.vpc", "subnets[1]"}
	if !reflect.DeepEqual(fields, want) {
		t.Errorf("reference fields = %v, want %v", fields, want)
	}
	for _, ref := range lb.References {
		if ref.Target != "network" {
			t.Errorf("reference %s target = %q, want %q", ref.Field, ref.Target, "network")
		}
	}
}

func TestResolveUnknownType(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("web-lb", "alb.load_balancer", 0, map[string]interface{}{
			"vpc": "&vpc.network",
		}),
	}

	graph, errs := NewResolver().Resolve(instances)
	if graph != nil {
		t.Fatal("Resolve() returned a graph despite errors")
	}
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].Code != CodeUnresolvedReference {
		t.Errorf("Code = %s, want %s", errs[0].Code, CodeUnresolvedReference)
	}
	if errs[0].Instance != "web-lb" || errs[0].Field != "vpc" {
		t.Errorf("error location = %s.%s, want web-lb.vpc", errs[0].Instance, errs[0].Field)
	}
}

func TestResolveAliasMiss(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("network", "vpc.network", 0, map[string]interface{}{}),
		testInstance("web-lb", "alb.load_balancer", 1, map[string]interface{}{
			"vpc": "&vpc.network:missing",
		}),
	}

	_, errs := NewResolver().Resolve(instances)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].Code != CodeUnresolvedReference {
		t.Errorf("Code = %s, want %s", errs[0].Code, CodeUnresolvedReference)
	}
	if !strings.Contains(errs[0].Message, "missing") {
		t.Errorf("Message = %q, want mention of the alias", errs[0].Message)
	}
}

func TestResolveAmbiguousWithoutAlias(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("net-a", "vpc.network", 0, map[string]interface{}{}),
		testInstance("net-b", "vpc.network", 1, map[string]interface{}{}),
		testInstance("web-lb", "alb.load_balancer", 2, map[string]interface{}{
			"vpc": "&vpc.network",
		}),
	}

	_, errs := NewResolver().Resolve(instances)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].Code != CodeUnresolvedReference {
		t.Errorf("Code = %s, want %s", errs[0].Code, CodeUnresolvedReference)
	}
	for _, want := range []string{"net-a", "net-b", "alias"} {
		if !strings.Contains(errs[0].Message, want) {
			t.Errorf("Message = %q, want mention of %q", errs[0].Message, want)
		}
	}
}

func TestResolveAliasDisambiguates(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("net-a", "vpc.network", 0, map[string]interface{}{}),
		testInstance("net-b", "vpc.network", 1, map[string]interface{}{}),
		testInstance("web-lb", "alb.load_balancer", 2, map[string]interface{}{
			"vpc": "&vpc.network:net-b",
		}),
	}

	graph, errs := NewResolver().Resolve(instances)
	if len(errs) != 0 {
		t.Fatalf("Resolve() errors = %v, want none", errs)
	}
	if got := graph.Dependencies("web-lb"); !reflect.DeepEqual(got, []string{"net-b"}) {
		t.Errorf("Dependencies(web-lb) = %v, want [net-b]", got)
	}
}

func TestResolveSelfReference(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("network", "vpc.network", 0, map[string]interface{}{
			"peer": "&vpc.network:network",
		}),
	}

	_, errs := NewResolver().Resolve(instances)
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].Code != CodeCyclicReference {
		t.Errorf("Code = %s, want %s", errs[0].Code, CodeCyclicReference)
	}
}

func TestResolveCycle(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("gateway", "vpc.gateway", 0, map[string]interface{}{
			"route": "&vpc.route_table:routes",
		}),
		testInstance("routes", "vpc.route_table", 1, map[string]interface{}{
			"gateway": "&vpc.gateway:gateway",
		}),
	}

	graph, errs := NewResolver().Resolve(instances)
	if graph != nil {
		t.Fatal("Resolve() returned a graph despite a cycle")
	}
	if len(errs) != 1 {
		t.Fatalf("len(errs) = %d, want 1", len(errs))
	}
	if errs[0].Code != CodeCyclicReference {
		t.Errorf("Code = %s, want %s", errs[0].Code, CodeCyclicReference)
	}
	if len(errs[0].Cycle) != 3 || errs[0].Cycle[0] != errs[0].Cycle[len(errs[0].Cycle)-1] {
		t.Errorf("Cycle = %v, want a closed path of length 3", errs[0].Cycle)
	}
}

func TestResolveLevelOrderIsDeclarationOrder(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("zeta", "svc.worker", 0, map[string]interface{}{}),
		testInstance("alpha", "svc.worker", 1, map[string]interface{}{}),
		testInstance("mid", "svc.worker", 2, map[string]interface{}{}),
	}

	graph, errs := NewResolver().Resolve(instances)
	if len(errs) != 0 {
		t.Fatalf("Resolve() errors = %v, want none", errs)
	}

	want := [][]string{{"zeta", "alpha", "mid"}}
	if got := graph.Levels(); !reflect.DeepEqual(got, want) {
		t.Errorf("Levels() = %v, want %v", got, want)
	}
}

func TestToDOT(t *testing.T) {
	instances := []*ComponentInstance{
		testInstance("network", "vpc.network", 0, map[string]interface{}{}),
		testInstance("web-lb", "alb.load_balancer", 1, map[string]interface{}{
			"vpc": "&vpc.network",
		}),
	}

	graph, errs := NewResolver().Resolve(instances)
	if len(errs) != 0 {
		t.Fatalf("Resolve() errors = %v, want none", errs)
	}

	dot := graph.ToDOT()
	for _, want := range []string{
		"digraph DependencyGraph",
		`"network" -> "web-lb";`,
		"cluster_level_0",
		"cluster_level_1",
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("ToDOT() missing %q:\n%s", want, dot)
		}
	}
}
