package access

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisForTest(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func grantedDecision(roles ...string) *Decision {
	return &Decision{
		Granted:    true,
		Roles:      roles,
		Reason:     ReasonMembership,
		ResolvedAt: time.Now().UTC(),
	}
}

func TestCachePutGetL1Only(t *testing.T) {
	c := NewDecisionCache(time.Minute, 16, nil)
	key := CacheKey(uuid.New(), uuid.New())

	require.NoError(t, c.Put(context.Background(), key, grantedDecision("GERENTE")))

	d, tier, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "l1", tier)
	assert.True(t, d.Granted)
	assert.Equal(t, []string{"GERENTE"}, d.Roles)
}

func TestCacheRejectsNilDecision(t *testing.T) {
	c := NewDecisionCache(time.Minute, 16, nil)

	err := c.Put(context.Background(), "some-key", nil)
	assert.ErrorIs(t, err, ErrNilDecision)
}

func TestCacheSkipsDeniedDecisions(t *testing.T) {
	c := NewDecisionCache(time.Minute, 16, newRedisForTest(t))
	key := CacheKey(uuid.New(), uuid.New())

	require.NoError(t, c.Put(context.Background(), key, &Decision{Granted: false, Reason: ReasonNotMember}))

	_, _, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestCacheL2PromotesToL1(t *testing.T) {
	client := newRedisForTest(t)
	writer := NewDecisionCache(time.Minute, 16, client)
	reader := NewDecisionCache(time.Minute, 16, client)
	key := CacheKey(uuid.New(), uuid.New())

	require.NoError(t, writer.Put(context.Background(), key, grantedDecision("ATENDENTE")))

	// First read on a cold L1 comes from Redis
	d, tier, ok := reader.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "l2", tier)
	assert.Equal(t, []string{"ATENDENTE"}, d.Roles)

	// Promoted entry now serves from L1
	_, tier, ok = reader.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "l1", tier)
}

func TestCacheInvalidate(t *testing.T) {
	client := newRedisForTest(t)
	c := NewDecisionCache(time.Minute, 16, client)
	userID := uuid.New()
	tenantID := uuid.New()
	key := CacheKey(userID, tenantID)

	require.NoError(t, c.Put(context.Background(), key, grantedDecision("GERENTE")))
	require.NoError(t, c.Invalidate(context.Background(), userID, tenantID))

	_, _, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestCacheInvalidateUserDropsAllTenants(t *testing.T) {
	client := newRedisForTest(t)
	c := NewDecisionCache(time.Minute, 16, client)
	userID := uuid.New()
	otherUser := uuid.New()
	tenantA := uuid.New()
	tenantB := uuid.New()

	require.NoError(t, c.Put(context.Background(), CacheKey(userID, tenantA), grantedDecision("GERENTE")))
	require.NoError(t, c.Put(context.Background(), CacheKey(userID, tenantB), grantedDecision("ATENDENTE")))
	require.NoError(t, c.Put(context.Background(), CacheKey(otherUser, tenantA), grantedDecision("GERENTE")))

	require.NoError(t, c.InvalidateUser(context.Background(), userID))

	_, _, ok := c.Get(context.Background(), CacheKey(userID, tenantA))
	assert.False(t, ok)
	_, _, ok = c.Get(context.Background(), CacheKey(userID, tenantB))
	assert.False(t, ok)

	// Unrelated user survives
	_, _, ok = c.Get(context.Background(), CacheKey(otherUser, tenantA))
	assert.True(t, ok)
}

func TestCacheTTLExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewDecisionCache(50*time.Millisecond, 16, client)
	key := CacheKey(uuid.New(), uuid.New())

	require.NoError(t, c.Put(context.Background(), key, grantedDecision("GERENTE")))

	c.Purge()
	mr.FastForward(time.Second)

	_, _, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}
