package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Policy is a rule governing whether and how a tool may be invoked.
// AgentID nil means the rule is org-wide; an agent-specific rule for the
// same tool always wins over the org-wide one. At most one policy exists
// per (org, agent scope, tool), enforced by a uniqueness constraint.
type Policy struct {
	ID               uuid.UUID      `json:"id"`
	OrgID            uuid.UUID      `json:"-"`
	AgentID          *uuid.UUID     `json:"agent_id,omitempty"` // nil = global
	ToolName         string         `json:"tool_name"`
	Allowed          bool           `json:"allowed"`
	MaxAmount        *float64       `json:"max_amount,omitempty"` // nil = unlimited
	RequiresApproval bool           `json:"requires_approval"`
	Priority         int            `json:"priority"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// DecisionStatus is the outcome of evaluating a tool call against policy.
type DecisionStatus string

const (
	DecisionAllowed         DecisionStatus = "allowed"
	DecisionDenied          DecisionStatus = "denied"
	DecisionPendingApproval DecisionStatus = "pending_approval"
)

// Decision is the ephemeral result of a policy evaluation. Reason is safe
// to surface to callers: it never contains policy IDs or other agents' data.
type Decision struct {
	Status     DecisionStatus `json:"status"`
	Reason     string         `json:"reason,omitempty"`
	ApprovalID *uuid.UUID     `json:"approval_id,omitempty"`
}

// Allowed reports whether the call may proceed immediately.
func (d Decision) Allowed() bool { return d.Status == DecisionAllowed }

type PolicyRepository interface {
	// Upsert inserts or updates on the (org, agent scope, tool) key and
	// fills in the row ID and timestamps.
	Upsert(ctx context.Context, p *Policy) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Policy, error)
	// Resolve returns the agent-specific policy when present, otherwise the
	// global one, otherwise ErrNotFound.
	Resolve(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID, toolName string) (*Policy, error)
	// ListForAgent returns the agent's specific policies plus all globals.
	ListForAgent(ctx context.Context, orgID, agentID uuid.UUID) ([]*Policy, error)
	List(ctx context.Context, orgID uuid.UUID, agentID *uuid.UUID) ([]*Policy, error)
	Delete(ctx context.Context, orgID, id uuid.UUID) error
	DeleteByAgent(ctx context.Context, orgID, agentID uuid.UUID) error
}
