package v1

import (
	"context"

	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain"
)

// DataStore abstracts the repository accessor pattern for handler testing.
// *postgres.Store satisfies this interface.
type DataStore interface {
	Orgs() domain.OrganizationRepository
	Users() domain.UserRepository
	Agents() domain.AgentRepository
	Policies() domain.PolicyRepository
	Audit() domain.AuditRepository
	Approvals() domain.ApprovalRepository
}

// AuthService abstracts account operations for handler testing.
// *auth.Service satisfies this interface.
type AuthService interface {
	Signup(ctx context.Context, orgName, email, password string) (*domain.Organization, *domain.User, string, error)
	Login(ctx context.Context, email, password string) (string, *domain.User, error)
	GetUser(ctx context.Context, orgID, userID uuid.UUID) (*domain.User, error)
}

// Publisher fans events out to live subscribers. *redis.PubSub satisfies
// this interface; a nil Publisher disables the live feeds.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// ApprovalNotifier pushes new approval requests to a human channel.
// *notify.SlackNotifier satisfies this interface; nil disables it.
type ApprovalNotifier interface {
	ApprovalRequested(ctx context.Context, agentName string, req *domain.ApprovalRequest) error
}
