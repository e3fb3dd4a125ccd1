package policy

import (
	"encoding/json"
	"testing"

	"github.com/stackform/stackform/pkg/catalog"
	"github.com/stackform/stackform/pkg/engine"
)

func instanceWithPolicy(name string, statements ...catalog.PolicyStatement) *engine.ComponentInstance {
	return &engine.ComponentInstance{
		Name: name,
		Definition: &catalog.ComponentDefinition{
			Name: "test." + name,
			Policy: catalog.PolicyTemplate{
				Version:   PolicyVersion,
				Statement: statements,
			},
		},
	}
}

func TestAggregateMergesSameScope(t *testing.T) {
	a := NewAggregator(Vars{})

	doc := a.Aggregate([]*engine.ComponentInstance{
		instanceWithPolicy("one", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"s3:GetObject", "s3:PutObject"},
			Resource: catalog.StringList{"*"},
		}),
		instanceWithPolicy("two", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"s3:PutObject", "s3:DeleteObject"},
			Resource: catalog.StringList{"*"},
		}),
	})

	if len(doc.Statement) != 1 {
		t.Fatalf("expected 1 merged statement, got %d", len(doc.Statement))
	}

	want := []string{"s3:DeleteObject", "s3:GetObject", "s3:PutObject"}
	got := doc.Statement[0].Action
	if len(got) != len(want) {
		t.Fatalf("expected %d actions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("action %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestAggregateDedupIsCaseInsensitive(t *testing.T) {
	a := NewAggregator(Vars{})

	doc := a.Aggregate([]*engine.ComponentInstance{
		instanceWithPolicy("one", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"s3:GetObject"},
			Resource: catalog.StringList{"*"},
		}),
		instanceWithPolicy("two", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"s3:getobject"},
			Resource: catalog.StringList{"*"},
		}),
	})

	if len(doc.Statement) != 1 {
		t.Fatalf("expected 1 statement, got %d", len(doc.Statement))
	}
	if len(doc.Statement[0].Action) != 1 {
		t.Errorf("expected case-insensitive dedup to 1 action, got %v", doc.Statement[0].Action)
	}
	if doc.Statement[0].Action[0] != "s3:GetObject" {
		t.Errorf("expected first-seen casing, got %q", doc.Statement[0].Action[0])
	}
}

func TestAggregateKeepsScopesSeparate(t *testing.T) {
	a := NewAggregator(Vars{})

	doc := a.Aggregate([]*engine.ComponentInstance{
		instanceWithPolicy("one", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"ec2:DescribeSubnets"},
			Resource: catalog.StringList{"*"},
		}),
		instanceWithPolicy("two", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"elasticloadbalancing:CreateLoadBalancer"},
			Resource: catalog.StringList{"arn:aws:elasticloadbalancing:us-east-1:123:loadbalancer/*"},
		}),
	})

	// Differently scoped allows must not be widened into one wildcard
	// statement.
	if len(doc.Statement) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(doc.Statement))
	}
	for _, stmt := range doc.Statement {
		if len(stmt.Resource) == 1 && stmt.Resource[0] == "*" && len(stmt.Action) != 1 {
			t.Errorf("wildcard scope absorbed foreign actions: %v", stmt.Action)
		}
	}
}

func TestAggregateDenyPassesThrough(t *testing.T) {
	a := NewAggregator(Vars{})

	doc := a.Aggregate([]*engine.ComponentInstance{
		instanceWithPolicy("one",
			catalog.PolicyStatement{
				Effect:   "Allow",
				Action:   catalog.StringList{"s3:GetObject"},
				Resource: catalog.StringList{"*"},
			},
			catalog.PolicyStatement{
				Effect:   "Deny",
				Action:   catalog.StringList{"s3:DeleteBucket"},
				Resource: catalog.StringList{"*"},
			},
		),
		instanceWithPolicy("two", catalog.PolicyStatement{
			Effect:   "Deny",
			Action:   catalog.StringList{"s3:DeleteBucket"},
			Resource: catalog.StringList{"*"},
		}),
	})

	denies := 0
	for _, stmt := range doc.Statement {
		if stmt.Effect == "Deny" {
			denies++
			if len(stmt.Action) != 1 || stmt.Action[0] != "s3:DeleteBucket" {
				t.Errorf("deny statement altered: %v", stmt.Action)
			}
		}
	}
	// Denies are never merged, with each other or with allows.
	if denies != 2 {
		t.Errorf("expected 2 deny statements, got %d", denies)
	}
}

func TestAggregateSubstitutesPlaceholders(t *testing.T) {
	a := NewAggregator(Vars{Region: "us-east-1", AccountID: "123456789012"})

	doc := a.Aggregate([]*engine.ComponentInstance{
		instanceWithPolicy("edge", catalog.PolicyStatement{
			Effect:   "Allow",
			Action:   catalog.StringList{"elasticloadbalancing:CreateLoadBalancer"},
			Resource: catalog.StringList{"arn:aws:elasticloadbalancing:{region}:{account_id}:loadbalancer/{name}"},
		}),
	})

	want := "arn:aws:elasticloadbalancing:us-east-1:123456789012:loadbalancer/edge"
	if doc.Statement[0].Resource[0] != want {
		t.Errorf("resource = %q, want %q", doc.Statement[0].Resource[0], want)
	}
}

func TestAggregateDeterministic(t *testing.T) {
	build := func(order []*engine.ComponentInstance) []byte {
		a := NewAggregator(Vars{Region: "eu-west-1", AccountID: "999"})
		data, err := json.Marshal(a.Aggregate(order))
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		return data
	}

	one := instanceWithPolicy("one", catalog.PolicyStatement{
		Effect:   "Allow",
		Action:   catalog.StringList{"cloudfront:CreateCachePolicy", "cloudfront:GetCachePolicy"},
		Resource: catalog.StringList{"*"},
	})
	two := instanceWithPolicy("two", catalog.PolicyStatement{
		Effect:   "Allow",
		Action:   catalog.StringList{"ec2:DescribeSubnets"},
		Resource: catalog.StringList{"arn:aws:ec2:{region}:{account_id}:subnet/*"},
	})

	forward := build([]*engine.ComponentInstance{one, two})
	reverse := build([]*engine.ComponentInstance{two, one})

	if string(forward) != string(reverse) {
		t.Errorf("aggregation is order dependent:\n%s\n%s", forward, reverse)
	}
}
