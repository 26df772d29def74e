package policy

import "strings"

// Ref identifies one remote policy slot for deletion.
type Ref struct {
	Scope    string
	ToolName string
}

// Plan is the set of mutations that reconciles the remote policy set with
// a local one. Upserts are rules present locally that are missing or
// different remotely; Deletes are remote rules absent locally.
type Plan struct {
	Upserts map[string]Rule
	Deletes []Ref
}

// Empty reports whether applying the plan would perform zero mutations.
// A second push with an unchanged local file must produce an empty plan.
func (p Plan) Empty() bool {
	return len(p.Upserts) == 0 && len(p.Deletes) == 0
}

// DiffSets computes the reconciliation plan between a local rule set (the
// desired state) and the remote one (the current state).
func DiffSets(local, remote Set) Plan {
	plan := Plan{Upserts: make(map[string]Rule)}

	for key, rule := range local {
		if existing, ok := remote[key]; !ok || !existing.Equal(rule) {
			plan.Upserts[key] = rule
		}
	}

	for key := range remote {
		if _, ok := local[key]; !ok {
			scope, tool, found := strings.Cut(key, ":")
			if !found {
				continue
			}
			plan.Deletes = append(plan.Deletes, Ref{Scope: scope, ToolName: tool})
		}
	}

	return plan
}
