package tenancy

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestContextCopiesRoles(t *testing.T) {
	roles := []string{"GERENTE", "ATENDENTE"}
	rc := NewRequestContext(uuid.New(), uuid.New(), roles)

	roles[0] = "ADMIN_TENANT"
	assert.Equal(t, []string{"GERENTE", "ATENDENTE"}, rc.Roles())

	// The returned slice is a copy too
	got := rc.Roles()
	got[0] = "mutated"
	assert.Equal(t, []string{"GERENTE", "ATENDENTE"}, rc.Roles())
}

func TestHasRole(t *testing.T) {
	rc := NewRequestContext(uuid.New(), uuid.New(), []string{"GERENTE"})
	assert.True(t, rc.HasRole("GERENTE"))
	assert.False(t, rc.HasRole("ADMIN_TENANT"))
}

func TestInstallAndAccessors(t *testing.T) {
	tenantID := uuid.New()
	userID := uuid.New()
	rc := NewRequestContext(tenantID, userID, []string{"ATENDENTE"})

	ctx := Install(context.Background(), rc)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, rc, got)

	gotTenant, ok := CurrentTenant(ctx)
	require.True(t, ok)
	assert.Equal(t, tenantID, gotTenant)

	gotUser, ok := CurrentUser(ctx)
	require.True(t, ok)
	assert.Equal(t, userID, gotUser)

	assert.Equal(t, []string{"ATENDENTE"}, CurrentRoles(ctx))
}

func TestEmptyContext(t *testing.T) {
	ctx := context.Background()

	_, ok := FromContext(ctx)
	assert.False(t, ok)

	_, ok = CurrentTenant(ctx)
	assert.False(t, ok)

	_, ok = CurrentUser(ctx)
	assert.False(t, ok)

	assert.Nil(t, CurrentRoles(ctx))
}

func TestClear(t *testing.T) {
	rc := NewRequestContext(uuid.New(), uuid.New(), nil)
	ctx := Install(context.Background(), rc)

	ctx = Clear(ctx)

	_, ok := FromContext(ctx)
	assert.False(t, ok)
	_, ok = CurrentTenant(ctx)
	assert.False(t, ok)
}
