package access

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locafleet/locafleet/pkg/observability"
)

type fakeStore struct {
	globalRoles  map[uuid.UUID]*GlobalRole
	memberships  map[string]*Membership
	globalCalls  int
	memberCalls  int
	globalErr    error
	membershipErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		globalRoles: make(map[uuid.UUID]*GlobalRole),
		memberships: make(map[string]*Membership),
	}
}

func (f *fakeStore) GetGlobalRole(_ context.Context, userID uuid.UUID) (*GlobalRole, error) {
	f.globalCalls++
	if f.globalErr != nil {
		return nil, f.globalErr
	}
	return f.globalRoles[userID], nil
}

func (f *fakeStore) GetActiveMembership(_ context.Context, userID, tenantID uuid.UUID) (*Membership, error) {
	f.memberCalls++
	if f.membershipErr != nil {
		return nil, f.membershipErr
	}
	return f.memberships[CacheKey(userID, tenantID)], nil
}

func newTestResolver(store Store) *Resolver {
	cache := NewDecisionCache(time.Minute, 128, nil)
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	return NewResolver(store, cache, nil, logger)
}

func TestResolveUnrestrictedShortCircuits(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	tenantID := uuid.New()
	store.globalRoles[userID] = &GlobalRole{
		UserID:             userID,
		Roles:              []string{"SUPORTE_PLATAFORMA"},
		UnrestrictedAccess: true,
	}

	r := newTestResolver(store)

	d, err := r.ResolveAccess(context.Background(), userID, tenantID)
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.True(t, d.Unrestricted)
	assert.Equal(t, []string{"SUPORTE_PLATAFORMA"}, d.Roles)
	assert.Equal(t, ReasonUnrestricted, d.Reason)

	// The membership table is never consulted
	assert.Equal(t, 0, store.memberCalls)
}

func TestResolveMembershipGrants(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	tenantID := uuid.New()
	store.memberships[CacheKey(userID, tenantID)] = &Membership{
		TenantID: tenantID,
		UserID:   userID,
		Roles:    []string{"GERENTE", "ATENDENTE"},
		Active:   true,
	}

	r := newTestResolver(store)

	d, err := r.ResolveAccess(context.Background(), userID, tenantID)
	require.NoError(t, err)
	assert.True(t, d.Granted)
	assert.False(t, d.Unrestricted)
	assert.Equal(t, []string{"GERENTE", "ATENDENTE"}, d.Roles)
	assert.Equal(t, ReasonMembership, d.Reason)
}

func TestResolveDeniesNonMember(t *testing.T) {
	store := newFakeStore()
	r := newTestResolver(store)

	d, err := r.ResolveAccess(context.Background(), uuid.New(), uuid.New())
	require.NoError(t, err)
	assert.False(t, d.Granted)
	assert.Equal(t, ReasonNotMember, d.Reason)
}

func TestResolveCachesGrantedDecisions(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	tenantID := uuid.New()
	store.memberships[CacheKey(userID, tenantID)] = &Membership{
		TenantID: tenantID, UserID: userID, Roles: []string{"GERENTE"}, Active: true,
	}

	r := newTestResolver(store)

	for i := 0; i < 5; i++ {
		d, err := r.ResolveAccess(context.Background(), userID, tenantID)
		require.NoError(t, err)
		assert.True(t, d.Granted)
	}

	// One store round trip; the rest were cache hits
	assert.Equal(t, 1, store.globalCalls)
	assert.Equal(t, 1, store.memberCalls)
}

func TestResolveDoesNotCacheDenials(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	tenantID := uuid.New()

	r := newTestResolver(store)

	d, err := r.ResolveAccess(context.Background(), userID, tenantID)
	require.NoError(t, err)
	assert.False(t, d.Granted)

	// Membership appears; the next resolution must see it immediately
	store.memberships[CacheKey(userID, tenantID)] = &Membership{
		TenantID: tenantID, UserID: userID, Roles: []string{"ATENDENTE"}, Active: true,
	}

	d, err = r.ResolveAccess(context.Background(), userID, tenantID)
	require.NoError(t, err)
	assert.True(t, d.Granted)
}

func TestResolveStoreErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.globalErr = errors.New("connection refused")

	r := newTestResolver(store)

	d, err := r.ResolveAccess(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Nil(t, d)
	assert.Contains(t, err.Error(), "access resolution failed")
}

func TestResolveMembershipErrorPropagates(t *testing.T) {
	store := newFakeStore()
	store.membershipErr = errors.New("timeout")

	r := newTestResolver(store)

	_, err := r.ResolveAccess(context.Background(), uuid.New(), uuid.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access resolution failed")
}

func TestInvalidateForcesRequery(t *testing.T) {
	store := newFakeStore()
	userID := uuid.New()
	tenantID := uuid.New()
	store.memberships[CacheKey(userID, tenantID)] = &Membership{
		TenantID: tenantID, UserID: userID, Roles: []string{"GERENTE"}, Active: true,
	}

	r := newTestResolver(store)

	_, err := r.ResolveAccess(context.Background(), userID, tenantID)
	require.NoError(t, err)

	// Membership revoked and cache invalidated
	delete(store.memberships, CacheKey(userID, tenantID))
	require.NoError(t, r.Invalidate(context.Background(), userID, tenantID))

	d, err := r.ResolveAccess(context.Background(), userID, tenantID)
	require.NoError(t, err)
	assert.False(t, d.Granted)
}
