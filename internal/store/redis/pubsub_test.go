package redis_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	redisstore "github.com/wardenhq/warden/internal/store/redis"
)

func TestAuditChannel(t *testing.T) {
	t.Parallel()

	orgID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	t.Run("happy path", func(t *testing.T) {
		t.Parallel()

		got := redisstore.AuditChannel(orgID)
		assert.Equal(t, "audit:aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee", got)
	})

	t.Run("nil UUID", func(t *testing.T) {
		t.Parallel()

		got := redisstore.AuditChannel(uuid.Nil)
		assert.Equal(t, "audit:00000000-0000-0000-0000-000000000000", got)
	})

	t.Run("distinct orgs get distinct channels", func(t *testing.T) {
		t.Parallel()

		other := uuid.MustParse("11111111-2222-3333-4444-555555555555")
		assert.NotEqual(t, redisstore.AuditChannel(orgID), redisstore.AuditChannel(other))
	})
}

func TestApprovalChannel(t *testing.T) {
	t.Parallel()

	orgID := uuid.MustParse("aaaaaaaa-bbbb-cccc-dddd-eeeeeeeeeeee")

	got := redisstore.ApprovalChannel(orgID)
	assert.True(t, strings.HasPrefix(got, "approvals:"), "expected prefix 'approvals:', got %q", got)
	assert.Contains(t, got, orgID.String())
}
