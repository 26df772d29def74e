package v1

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/server/middleware"
)

type RegisterAgentInput struct {
	Body struct {
		Name        string `json:"name" minLength:"1" maxLength:"255" doc:"Agent display name"`
		PublicKey   string `json:"public_key" minLength:"64" maxLength:"64" doc:"Ed25519 public key, hex"`
		AgentType   string `json:"agent_type,omitempty" maxLength:"50" doc:"Agent type (general, customer_service, ...)"`
		Description string `json:"description,omitempty" maxLength:"1000" doc:"Free-form description"`
	}
}

type RegisterAgentOutput struct {
	Status int
	Body   *domain.Agent
}

type ListAgentsInput struct{}

type ListAgentsOutput struct {
	Body struct {
		Agents []*domain.Agent `json:"agents"`
	}
}

type DeleteAgentInput struct {
	ID uuid.UUID `path:"id" doc:"Agent ID"`
}

type DeleteAgentOutput struct {
	Status int
}

func RegisterAgentRoutes(api huma.API, store DataStore) {
	huma.Register(api, huma.Operation{
		OperationID: "register-agent",
		Method:      http.MethodPost,
		Path:        "/v1/agents/register",
		Summary:     "Register an agent identity by public key",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, input *RegisterAgentInput) (*RegisterAgentOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		existing, err := store.Agents().FindByPublicKey(ctx, input.Body.PublicKey)
		switch {
		case err == nil && existing.OrgID == orgID:
			// Re-registration of a known identity is not an error.
			return &RegisterAgentOutput{Status: http.StatusOK, Body: existing}, nil
		case err == nil:
			return nil, huma.Error409Conflict("public key is already registered")
		case !errors.Is(err, domain.ErrNotFound):
			return nil, huma.Error500InternalServerError("failed to check public key", err)
		}

		agentType := input.Body.AgentType
		if agentType == "" {
			agentType = "general"
		}
		agent := &domain.Agent{
			ID:          uuid.New(),
			OrgID:       orgID,
			Name:        input.Body.Name,
			PublicKey:   input.Body.PublicKey,
			AgentType:   agentType,
			Description: input.Body.Description,
			IsActive:    true,
			CreatedAt:   time.Now().UTC(),
		}
		if err := store.Agents().Create(ctx, agent); err != nil {
			if errors.Is(err, domain.ErrConflict) {
				return nil, huma.Error409Conflict("public key is already registered")
			}
			return nil, huma.Error500InternalServerError("failed to register agent", err)
		}

		return &RegisterAgentOutput{Status: http.StatusCreated, Body: agent}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-agents",
		Method:      http.MethodGet,
		Path:        "/v1/agents",
		Summary:     "List the organization's agents",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, _ *ListAgentsInput) (*ListAgentsOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		agents, err := store.Agents().List(ctx, orgID)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list agents", err)
		}

		out := &ListAgentsOutput{}
		out.Body.Agents = agents
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-agent",
		Method:      http.MethodDelete,
		Path:        "/v1/agents/{id}",
		Summary:     "Delete an agent and its specific policies",
		Tags:        []string{"Agents"},
	}, func(ctx context.Context, input *DeleteAgentInput) (*DeleteAgentOutput, error) {
		orgID, ok := middleware.OrgIDFromContext(ctx)
		if !ok {
			return nil, huma.Error403Forbidden("missing organization context")
		}

		if err := store.Policies().DeleteByAgent(ctx, orgID, input.ID); err != nil {
			return nil, huma.Error500InternalServerError("failed to delete agent policies", err)
		}
		if err := store.Agents().Delete(ctx, orgID, input.ID); err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, huma.Error404NotFound("agent not found")
			}
			return nil, huma.Error500InternalServerError("failed to delete agent", err)
		}

		return &DeleteAgentOutput{Status: http.StatusNoContent}, nil
	})
}
