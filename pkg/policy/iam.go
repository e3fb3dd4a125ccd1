package policy

import (
	"sort"
	"strings"

	"github.com/stackform/stackform/pkg/engine"
)

// PolicyVersion is the IAM policy language version emitted in
// aggregated documents.
const PolicyVersion = "2012-10-17"

// Vars carries the values substituted into policy template
// placeholders.
type Vars struct {
	// Region replaces {region} in resource scopes.
	Region string

	// AccountID replaces {account_id} in resource scopes.
	AccountID string
}

// Aggregator merges the IAM templates of component instances into one
// deployment policy document.
type Aggregator struct {
	vars Vars
}

// NewAggregator creates an aggregator with the given template
// variables.
func NewAggregator(vars Vars) *Aggregator {
	return &Aggregator{vars: vars}
}

// Aggregate builds the minimal policy document for the instance set.
// Allow statements with the same resource scope are merged with their
// actions unioned and deduplicated case-insensitively; Deny statements
// pass through unmerged so a deny is never diluted. Resource scopes are
// never widened: the output grants exactly the union of the templates,
// and statements are ordered by resource then action so repeated runs
// emit an identical document.
func (a *Aggregator) Aggregate(instances []*engine.ComponentInstance) Document {
	type allowBucket struct {
		resources []string
		// lowercased action -> original casing, first occurrence wins
		actions map[string]string
	}

	allows := make(map[string]*allowBucket)
	var denies []Statement

	for _, inst := range instances {
		if inst.Definition == nil {
			continue
		}
		for _, stmt := range inst.Definition.Policy.Statement {
			resources := a.substituteAll(stmt.Resource, inst.Name)
			sort.Strings(resources)
			actions := append([]string(nil), stmt.Action...)

			if strings.EqualFold(stmt.Effect, "Deny") {
				sort.Strings(actions)
				denies = append(denies, Statement{
					Effect:   "Deny",
					Action:   actions,
					Resource: resources,
				})
				continue
			}

			key := strings.Join(resources, "\x00")
			bucket, ok := allows[key]
			if !ok {
				bucket = &allowBucket{
					resources: resources,
					actions:   make(map[string]string),
				}
				allows[key] = bucket
			}
			for _, action := range actions {
				lower := strings.ToLower(action)
				if _, seen := bucket.actions[lower]; !seen {
					bucket.actions[lower] = action
				}
			}
		}
	}

	statements := make([]Statement, 0, len(allows)+len(denies))
	for _, bucket := range allows {
		actions := make([]string, 0, len(bucket.actions))
		for _, action := range bucket.actions {
			actions = append(actions, action)
		}
		sort.Strings(actions)
		statements = append(statements, Statement{
			Effect:   "Allow",
			Action:   actions,
			Resource: bucket.resources,
		})
	}
	statements = append(statements, denies...)

	sort.Slice(statements, func(i, j int) bool {
		ri := strings.Join(statements[i].Resource, "\x00")
		rj := strings.Join(statements[j].Resource, "\x00")
		if ri != rj {
			return ri < rj
		}
		ai := strings.Join(statements[i].Action, "\x00")
		aj := strings.Join(statements[j].Action, "\x00")
		if ai != aj {
			return ai < aj
		}
		return statements[i].Effect < statements[j].Effect
	})

	return Document{
		Version:   PolicyVersion,
		Statement: statements,
	}
}

func (a *Aggregator) substituteAll(resources []string, instanceName string) []string {
	out := make([]string, len(resources))
	for i, resource := range resources {
		out[i] = a.substitute(resource, instanceName)
	}
	return out
}

// substitute resolves the template placeholders a definition's resource
// scopes may carry.
func (a *Aggregator) substitute(resource, instanceName string) string {
	replacer := strings.NewReplacer(
		"{region}", a.vars.Region,
		"{account_id}", a.vars.AccountID,
		"{name}", instanceName,
	)
	return replacer.Replace(resource)
}
