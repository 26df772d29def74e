package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditStatus is the recorded outcome of a guarded call.
type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditDenied  AuditStatus = "denied"
	AuditError   AuditStatus = "error"
	AuditPending AuditStatus = "pending"
)

// AuditRecord is one immutable entry in the audit trail. The ID is minted
// by the agent before the record leaves the process, so re-delivered
// batches deduplicate server-side. There is no update or delete path.
type AuditRecord struct {
	ID           uuid.UUID      `json:"id"`
	OrgID        uuid.UUID      `json:"-"`
	AgentID      *uuid.UUID     `json:"agent_id,omitempty"`
	ToolName     string         `json:"tool_name"`
	Status       AuditStatus    `json:"status"`
	Amount       *float64       `json:"amount,omitempty"`
	DurationMS   int64          `json:"duration_ms"`
	PublicKey    string         `json:"public_key"`
	Signature    string         `json:"signature,omitempty"` // Ed25519 over the canonical payload, hex
	ErrorMessage string         `json:"error_message,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// SigningData is the canonical map the agent signed for this record:
// the call payload overlaid with tool_name and amount. Verifiers rebuild
// it to check Signature against PublicKey.
func (r *AuditRecord) SigningData() map[string]any {
	data := map[string]any{"tool_name": r.ToolName}
	if r.Amount != nil {
		data["amount"] = *r.Amount
	}
	for k, v := range r.Payload {
		data[k] = v
	}
	return data
}

// AuditFilter narrows audit queries. Zero values mean "no filter".
type AuditFilter struct {
	AgentID  *uuid.UUID
	ToolName string
	Status   AuditStatus
	Limit    int
	Offset   int
}

// AgentActivity is a per-agent rollup for the analytics summary.
type AgentActivity struct {
	AgentID     uuid.UUID  `json:"agent_id"`
	AgentName   string     `json:"agent_name"`
	TotalCalls  int64      `json:"total_calls"`
	DeniedCalls int64      `json:"denied_calls"`
	ErrorCalls  int64      `json:"error_calls"`
	LastCallAt  *time.Time `json:"last_call_at,omitempty"`
}

type AuditRepository interface {
	// InsertBatch persists records idempotently on ID: records whose ID is
	// already present are silently skipped. Returns the number inserted.
	InsertBatch(ctx context.Context, orgID uuid.UUID, records []*AuditRecord) (int, error)
	List(ctx context.Context, orgID uuid.UUID, filter AuditFilter) ([]*AuditRecord, error)
	ActivitySummary(ctx context.Context, orgID uuid.UUID) ([]*AgentActivity, error)
}
