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
)

func TestActivitySummary(t *testing.T) {
	t.Parallel()

	orgID := uuid.New()
	_, api := humatest.New(t)
	store := &mockDataStore{
		audit: &mockAuditRepo{
			activitySummaryFunc: func(_ context.Context, got uuid.UUID) ([]*domain.AgentActivity, error) {
				assert.Equal(t, orgID, got)
				return []*domain.AgentActivity{
					{AgentID: uuid.New(), AgentName: "billing-bot", TotalCalls: 120, DeniedCalls: 3, ErrorCalls: 1},
				}, nil
			},
		},
	}
	v1.RegisterAnalyticsRoutes(api, store)

	resp := api.GetCtx(operatorCtx(orgID, uuid.New()), "/v1/analytics/summary")
	require.Equal(t, http.StatusOK, resp.Code)

	var body struct {
		Agents []*domain.AgentActivity `json:"agents"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	require.Len(t, body.Agents, 1)
	assert.Equal(t, int64(120), body.Agents[0].TotalCalls)
	assert.Equal(t, int64(3), body.Agents[0].DeniedCalls)
}
