package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/server/middleware"
)

type UpsertPolicyInput struct {
	AgentKey string `query:"agent_key" doc:"Agent public key for an agent-specific rule; empty for an org-wide rule"`
	Body     struct {
		ToolName         string   `json:"tool_name" minLength:"1" maxLength:"255" doc:"Tool the rule governs"`
		Allowed          bool     `json:"allowed" doc:"Whether calls may proceed"`
		MaxAmount        *float64 `json:"max_amount,omitempty" minimum:"0" doc:"Inclusive amount cap; absent means unlimited"`
		RequiresApproval bool     `json:"requires_approval,omitempty" doc:"Gate calls behind human approval"`
		Priority         int      `json:"priority,omitempty" doc:"Tie-break weight, higher wins"`
	}
}

type UpsertPolicyOutput struct {
	Body *domain.Policy
}

// PolicyItem pairs a stored policy with its scope for list responses.
type PolicyItem struct {
	ID       uuid.UUID   `json:"id"`
	AgentKey string      `json:"agent_key,omitempty"`
	Rule     policy.Rule `json:"rule"`
}

type ListPoliciesInput struct{}

type ListPoliciesOutput struct {
	Body struct {
		Policies []PolicyItem `json:"policies"`
	}
}

type DeletePolicyInput struct {
	ID uuid.UUID `path:"id" doc:"Policy ID"`
}

type DeletePolicyOutput struct {
	Status int
}

type SyncPoliciesInput struct {
	AgentPublicKey string `query:"agent_public_key" required:"true" doc:"Ed25519 public key of the syncing agent, hex"`
}

type SyncPoliciesOutput struct {
	Body struct {
		Policies map[string]policy.Rule `json:"policies"`
	}
}

// toRule projects a stored policy onto the wire rule shape agents cache.
func toRule(p *domain.Policy) policy.Rule {
	return policy.Rule{
		ToolName:         p.ToolName,
		Allowed:          p.Allowed,
		MaxAmount:        p.MaxAmount,
		RequiresApproval: p.RequiresApproval,
		Priority:         p.Priority,
	}
}

func RegisterPolicyRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "upsert-policy",
		Method:      http.MethodPost,
		Path:        "/v1/policies",
		Summary:     "Create or replace a policy for a tool",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *UpsertPolicyInput) (*UpsertPolicyOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		var agentID *uuid.UUID
		if input.AgentKey != "" {
			agent, err := store.Agents().GetByPublicKey(ctx, orgID, input.AgentKey)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return nil, huma.Error404NotFound("no agent with that public key")
				}
				return nil, huma.Error500InternalServerError("failed to resolve agent", err)
			}
			agentID = &agent.ID
		}

		p := &domain.Policy{
			OrgID:            orgID,
			AgentID:          agentID,
			ToolName:         input.Body.ToolName,
			Allowed:          input.Body.Allowed,
			MaxAmount:        input.Body.MaxAmount,
			RequiresApproval: input.Body.RequiresApproval,
			Priority:         input.Body.Priority,
		}
		if err := store.Policies().Upsert(ctx, p); err != nil {
			return nil, huma.Error500InternalServerError("failed to save policy", err)
		}

		return &UpsertPolicyOutput{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-policies",
		Method:      http.MethodGet,
		Path:        "/v1/policies",
		Summary:     "List the organization's policies",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, _ *ListPoliciesInput) (*ListPoliciesOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		policies, err := store.Policies().List(ctx, orgID, nil)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list policies", err)
		}

		keyByAgent := make(map[uuid.UUID]string)
		agents, err := store.Agents().List(ctx, orgID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list agents", err)
		}
		for _, a := range agents {
			keyByAgent[a.ID] = a.PublicKey
		}

		out := &ListPoliciesOutput{}
		out.Body.Policies = make([]PolicyItem, 0, len(policies))
		for _, p := range policies {
			item := PolicyItem{ID: p.ID, Rule: toRule(p)}
			if p.AgentID != nil {
				item.AgentKey = keyByAgent[*p.AgentID]
			}
			out.Body.Policies = append(out.Body.Policies, item)
		}
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-policy",
		Method:      http.MethodDelete,
		Path:        "/v1/policies/{id}",
		Summary:     "Delete a policy",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *DeletePolicyInput) (*DeletePolicyOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		if err := store.Policies().Delete(ctx, orgID, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("policy not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete policy", err)
		}

		return &DeletePolicyOutput{Status: http.StatusNoContent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sync-policies",
		Method:      http.MethodGet,
		Path:        "/v1/policies/sync",
		Summary:     "Resolved policy map for one agent",
		Description: "Org-wide rules overlaid with the agent's specific rules, keyed by tool name.",
		Tags:        []string{"Policies"},
	}, func(ctx context.Context, input *SyncPoliciesInput) (*SyncPoliciesOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		agent, err := store.Agents().GetByPublicKey(ctx, orgID, input.AgentPublicKey)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("no agent with that public key")
			}
			return nil, huma.Error500InternalServerError("failed to resolve agent", err)
		}

		policies, err := store.Policies().ListForAgent(ctx, orgID, agent.ID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to load policies", err)
		}

		resolved := make(map[string]policy.Rule, len(policies))
		for _, p := range policies {
			if p.AgentID == nil {
				resolved[p.ToolName] = toRule(p)
			}
		}
		for _, p := range policies {
			if p.AgentID != nil {
				resolved[p.ToolName] = toRule(p)
			}
		}

		if err := store.Agents().TouchLastSeen(ctx, agent.ID); err != nil {
			log.Warn().Err(err).Str("agent", agent.Name).Msg("failed to touch last_seen")
		}

		out := &SyncPoliciesOutput{}
		out.Body.Policies = resolved
		return out, nil
	})
}
