// Package policy implements the agent-side policy cache and evaluation
// engine. The cache is read-mostly: guard calls read concurrently while a
// single background syncer replaces the whole snapshot atomically.
package policy

import (
	"sync"
)

// GlobalScope keys rules that apply to every agent in the organization.
const GlobalScope = "*"

// Rule is a single cached policy entry for one tool.
type Rule struct {
	ToolName         string   `json:"tool_name"`
	Allowed          bool     `json:"allowed"`
	MaxAmount        *float64 `json:"max_amount,omitempty"`
	RequiresApproval bool     `json:"requires_approval,omitempty"`
	Priority         int      `json:"priority,omitempty"`
}

// Equal reports whether two rules are semantically identical. Used by the
// diff planner to skip no-op upserts.
func (r Rule) Equal(o Rule) bool {
	if r.ToolName != o.ToolName || r.Allowed != o.Allowed ||
		r.RequiresApproval != o.RequiresApproval || r.Priority != o.Priority {
		return false
	}
	if (r.MaxAmount == nil) != (o.MaxAmount == nil) {
		return false
	}
	return r.MaxAmount == nil || *r.MaxAmount == *o.MaxAmount
}

// Set maps "<scope>:<tool_name>" to a rule, where scope is an agent public
// key or GlobalScope.
type Set map[string]Rule

// Key builds the cache key for a scope and tool.
func Key(scope, toolName string) string {
	return scope + ":" + toolName
}

// Store is the in-memory policy snapshot. Single writer (the syncer),
// many readers (guard calls). Replace swaps the whole map under the lock
// so readers never observe a partial update.
type Store struct {
	mu    sync.RWMutex
	rules Set
}

func NewStore() *Store {
	return &Store{rules: make(Set)}
}

// Replace installs a new snapshot, discarding the previous one.
func (s *Store) Replace(rules Set) {
	if rules == nil {
		rules = make(Set)
	}
	s.mu.Lock()
	s.rules = rules
	s.mu.Unlock()
}

// Lookup resolves the rule for a tool: the agent-specific entry wins over
// the global one. The second return value is false when no rule matches.
func (s *Store) Lookup(agentKey, toolName string) (Rule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agentKey != "" {
		if r, ok := s.rules[Key(agentKey, toolName)]; ok {
			return r, true
		}
	}
	if r, ok := s.rules[Key(GlobalScope, toolName)]; ok {
		return r, true
	}
	return Rule{}, false
}

// Len returns the number of cached rules.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rules)
}

// Snapshot returns a copy of the current rule set, for diffing and
// inspection. Mutating the copy does not affect the store.
func (s *Store) Snapshot() Set {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(Set, len(s.rules))
	for k, v := range s.rules {
		out[k] = v
	}
	return out
}
