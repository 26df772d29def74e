package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Organization is the unit of tenancy: agents, policies, audit logs and
// approvals all belong to exactly one organization. The API key issued at
// signup authenticates every agent and admin request for the org.
type Organization struct {
	ID           uuid.UUID
	Name         string
	APIKeyHash   string // sha256 hex of the raw key; raw key shown once
	APIKeyPrefix string // first 8 chars of the raw key, used for lookup
	IsActive     bool
	CreatedAt    time.Time
}

// User is a human operator of an organization (signs up, decides approvals).
type User struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	Email        string
	PasswordHash string // argon2id
	Role         string // "owner", "member"
	CreatedAt    time.Time
}

type OrganizationRepository interface {
	Create(ctx context.Context, org *Organization) error
	GetByID(ctx context.Context, id uuid.UUID) (*Organization, error)
	GetByAPIKeyPrefix(ctx context.Context, prefix string) (*Organization, error)
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, orgID, id uuid.UUID) (*User, error)
}
