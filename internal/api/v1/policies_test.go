package v1_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/danielgtaylor/huma/v2/humatest"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/wardenhq/warden/internal/api/v1"
	"github.com/wardenhq/warden/internal/domain"
	"github.com/wardenhq/warden/internal/policy"
)

func newPolicyTestAPI(t *testing.T) (humatest.TestAPI, *mockDataStore) {
	t.Helper()

	_, api := humatest.New(t)
	store := &mockDataStore{}
	v1.RegisterPolicyRoutes(api, store)
	return api, store
}

func fptr(v float64) *float64 { return &v }

func TestUpsertPolicy(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()

	t.Run("global_rule", func(t *testing.T) {
		t.Parallel()

		api, store := newPolicyTestAPI(t)
		store.policies = &mockPolicyRepo{
			upsertFunc: func(_ context.Context, p *domain.Policy) error {
				assert.Equal(t, orgID, p.OrgID)
				assert.Nil(t, p.AgentID)
				assert.Equal(t, "send_payment", p.ToolName)
				require.NotNil(t, p.MaxAmount)
				assert.InDelta(t, 500, *p.MaxAmount, 0.001)
				p.ID = uuid.New()
				return nil
			},
		}

		resp := api.PostCtx(orgCtx(orgID), "/v1/policies", map[string]any{
			"tool_name":  "send_payment",
			"allowed":    true,
			"max_amount": 500,
		})

		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("agent_rule_resolves_public_key", func(t *testing.T) {
		t.Parallel()

		agent := makeAgent(orgID, testKeyHex(0x11))
		api, store := newPolicyTestAPI(t)
		store.agents = &mockAgentRepo{
			getByPublicKeyFunc: func(_ context.Context, _ uuid.UUID, key string) (*domain.Agent, error) {
				assert.Equal(t, agent.PublicKey, key)
				return agent, nil
			},
		}
		store.policies = &mockPolicyRepo{
			upsertFunc: func(_ context.Context, p *domain.Policy) error {
				require.NotNil(t, p.AgentID)
				assert.Equal(t, agent.ID, *p.AgentID)
				return nil
			},
		}

		resp := api.PostCtx(orgCtx(orgID), "/v1/policies?agent_key="+agent.PublicKey, map[string]any{
			"tool_name": "delete_database",
			"allowed":   false,
		})

		require.Equal(t, http.StatusOK, resp.Code)
	})

	t.Run("unknown_agent_key_returns_404", func(t *testing.T) {
		t.Parallel()

		api, store := newPolicyTestAPI(t)
		store.agents = &mockAgentRepo{
			getByPublicKeyFunc: func(context.Context, uuid.UUID, string) (*domain.Agent, error) {
				return nil, domain.ErrNotFound
			},
		}

		resp := api.PostCtx(orgCtx(orgID), "/v1/policies?agent_key="+testKeyHex(0x22), map[string]any{
			"tool_name": "anything",
			"allowed":   true,
		})

		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}

func TestListPolicies(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	agent := makeAgent(orgID, testKeyHex(0x33))

	api, store := newPolicyTestAPI(t)
	store.policies = &mockPolicyRepo{
		listFunc: func(context.Context, uuid.UUID, *uuid.UUID) ([]*domain.Policy, error) {
			return []*domain.Policy{
				{ID: uuid.New(), OrgID: orgID, ToolName: "search", Allowed: true},
				{ID: uuid.New(), OrgID: orgID, AgentID: &agent.ID, ToolName: "send_payment", Allowed: true, MaxAmount: fptr(100)},
			}, nil
		},
	}
	store.agents = &mockAgentRepo{
		listFunc: func(context.Context, uuid.UUID) ([]*domain.Agent, error) {
			return []*domain.Agent{agent}, nil
		},
	}

	resp := api.GetCtx(orgCtx(orgID), "/v1/policies")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Policies []v1.PolicyItem `json:"policies"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Policies, 2)
	assert.Empty(t, body.Policies[0].AgentKey)
	assert.Equal(t, agent.PublicKey, body.Policies[1].AgentKey)
	assert.Equal(t, "send_payment", body.Policies[1].Rule.ToolName)
}

func TestDeletePolicy(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	api, store := newPolicyTestAPI(t)
	store.policies = &mockPolicyRepo{
		deleteFunc: func(context.Context, uuid.UUID, uuid.UUID) error {
			return domain.ErrNotFound
		},
	}

	resp := api.DeleteCtx(orgCtx(orgID), "/v1/policies/"+uuid.New().String())
	assert.Equal(t, http.StatusNotFound, resp.Code)
}

func TestSyncPolicies(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	agent := makeAgent(orgID, testKeyHex(0x44))

	t.Run("agent_specific_overrides_global", func(t *testing.T) {
		t.Parallel()

		var touched bool
		api, store := newPolicyTestAPI(t)
		store.agents = &mockAgentRepo{
			getByPublicKeyFunc: func(context.Context, uuid.UUID, string) (*domain.Agent, error) {
				return agent, nil
			},
			touchLastSeenFunc: func(_ context.Context, id uuid.UUID) error {
				touched = true
				assert.Equal(t, agent.ID, id)
				return nil
			},
		}
		store.policies = &mockPolicyRepo{
			listForAgentFunc: func(context.Context, uuid.UUID, uuid.UUID) ([]*domain.Policy, error) {
				return []*domain.Policy{
					{OrgID: orgID, ToolName: "send_payment", Allowed: true, MaxAmount: fptr(1000)},
					{OrgID: orgID, AgentID: &agent.ID, ToolName: "send_payment", Allowed: true, MaxAmount: fptr(50)},
					{OrgID: orgID, ToolName: "search", Allowed: true},
				}, nil
			},
		}

		resp := api.GetCtx(orgCtx(orgID), "/v1/policies/sync?agent_public_key="+agent.PublicKey)
		require.Equal(t, http.StatusOK, resp.Code)

		var body struct {
			Policies map[string]policy.Rule `json:"policies"`
		}
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
		require.Len(t, body.Policies, 2)
		require.NotNil(t, body.Policies["send_payment"].MaxAmount)
		assert.InDelta(t, 50, *body.Policies["send_payment"].MaxAmount, 0.001, "agent cap wins over global")
		assert.True(t, touched, "sync counts as agent liveness")
	})

	t.Run("unknown_agent_returns_404", func(t *testing.T) {
		t.Parallel()

		api, store := newPolicyTestAPI(t)
		store.agents = &mockAgentRepo{
			getByPublicKeyFunc: func(context.Context, uuid.UUID, string) (*domain.Agent, error) {
				return nil, domain.ErrNotFound
			},
		}

		resp := api.GetCtx(orgCtx(orgID), "/v1/policies/sync?agent_public_key="+testKeyHex(0x55))
		assert.Equal(t, http.StatusNotFound, resp.Code)
	})
}
