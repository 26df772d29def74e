// Package policyfile reads and writes the local policy file used by
// administrative tooling. The file is the source of truth that gets
// diff-synced against the control plane.
package policyfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/wardenhq/warden/internal/policy"
)

// DefaultPath is the conventional policy file name.
const DefaultPath = ".warden_policies.json"

// Entry is one tool rule as persisted on disk.
type Entry struct {
	Allowed          bool      `json:"allowed"`
	MaxAmount        *float64  `json:"max_amount,omitempty"`
	RequiresApproval bool      `json:"requires_approval,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// File is the on-disk layout: global rules plus per-agent overrides keyed
// by agent public key.
type File struct {
	Global map[string]Entry            `json:"global"`
	Agents map[string]map[string]Entry `json:"agents"`
}

// New returns an empty policy file.
func New() *File {
	return &File{
		Global: make(map[string]Entry),
		Agents: make(map[string]map[string]Entry),
	}
}

// Load reads and parses the file at path. A missing file is not an
// error: it returns an empty File so a first push starts from nothing.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("policyfile.Load: %w", err)
	}

	f := New()
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("policyfile.Load: parse %s: %w", path, err)
	}
	if f.Global == nil {
		f.Global = make(map[string]Entry)
	}
	if f.Agents == nil {
		f.Agents = make(map[string]map[string]Entry)
	}
	return f, nil
}

// Save writes the file atomically via a temp file rename.
func (f *File) Save(path string) error {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("policyfile.Save: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("policyfile.Save: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("policyfile.Save: %w", err)
	}
	return nil
}

// SetGlobal upserts a global rule for a tool.
func (f *File) SetGlobal(toolName string, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	f.Global[toolName] = e
}

// SetAgent upserts an agent-specific rule for a tool.
func (f *File) SetAgent(agentKey, toolName string, e Entry) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if f.Agents[agentKey] == nil {
		f.Agents[agentKey] = make(map[string]Entry)
	}
	f.Agents[agentKey][toolName] = e
}

// RuleSet flattens the file into the cache key space used by the diff
// planner and the local evaluation engine.
func (f *File) RuleSet() policy.Set {
	set := make(policy.Set, len(f.Global))
	for tool, e := range f.Global {
		set[policy.Key(policy.GlobalScope, tool)] = e.toRule(tool)
	}
	for agentKey, tools := range f.Agents {
		for tool, e := range tools {
			set[policy.Key(agentKey, tool)] = e.toRule(tool)
		}
	}
	return set
}

func (e Entry) toRule(toolName string) policy.Rule {
	return policy.Rule{
		ToolName:         toolName,
		Allowed:          e.Allowed,
		MaxAmount:        e.MaxAmount,
		RequiresApproval: e.RequiresApproval,
	}
}
