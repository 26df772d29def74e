package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Agent is an autonomous process holding a unique Ed25519 identity.
// The public key is the durable handle: rotation means registering a new
// agent, never swapping the key on an existing row.
type Agent struct {
	ID          uuid.UUID  `json:"id"`
	OrgID       uuid.UUID  `json:"-"`
	Name        string     `json:"name"`
	PublicKey   string     `json:"public_key"` // 32-byte Ed25519 key, hex
	AgentType   string     `json:"agent_type"` // "general", "customer_service", ...
	Description string     `json:"description,omitempty"`
	IsActive    bool       `json:"is_active"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

type AgentRepository interface {
	Create(ctx context.Context, a *Agent) error
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*Agent, error)
	// GetByPublicKey searches within one org; ErrNotFound if absent.
	GetByPublicKey(ctx context.Context, orgID uuid.UUID, publicKey string) (*Agent, error)
	// FindByPublicKey searches across all orgs (registration collision check).
	FindByPublicKey(ctx context.Context, publicKey string) (*Agent, error)
	List(ctx context.Context, orgID uuid.UUID) ([]*Agent, error)
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
	Delete(ctx context.Context, orgID, id uuid.UUID) error
}
