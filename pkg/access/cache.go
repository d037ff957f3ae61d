package access

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

// ErrNilDecision is returned when a caller tries to cache a nil
// decision. Absence of a decision must stay a cache miss; it is never
// allowed to become a stored implicit deny.
var ErrNilDecision = errors.New("access: refusing to cache nil decision")

const cacheKeyPrefix = "access:decision:"

// DecisionCache is a two-tier TTL cache for access decisions: an
// in-process expirable LRU in front of an optional shared Redis tier.
// Both tiers expire, never update in place; membership changes
// invalidate instead.
type DecisionCache struct {
	l1    *expirable.LRU[string, Decision]
	redis *redis.Client
	ttl   time.Duration
}

// NewDecisionCache creates a cache with the given TTL and L1 capacity.
// redisClient may be nil to run with the in-process tier only.
func NewDecisionCache(ttl time.Duration, l1Size int, redisClient *redis.Client) *DecisionCache {
	if l1Size <= 0 {
		l1Size = 4096
	}
	return &DecisionCache{
		l1:    expirable.NewLRU[string, Decision](l1Size, nil, ttl),
		redis: redisClient,
		ttl:   ttl,
	}
}

// CacheKey builds the cache key for a (user, tenant) pair.
func CacheKey(userID, tenantID uuid.UUID) string {
	return userID.String() + ":" + tenantID.String()
}

// Get returns the cached decision for the pair, with tier attribution
// ("l1" or "l2") for metrics. A miss returns ok=false.
func (c *DecisionCache) Get(ctx context.Context, key string) (Decision, string, bool) {
	if d, ok := c.l1.Get(key); ok {
		return d, "l1", true
	}

	if c.redis != nil {
		raw, err := c.redis.Get(ctx, cacheKeyPrefix+key).Result()
		if err == nil {
			var d Decision
			if err := json.Unmarshal([]byte(raw), &d); err == nil {
				// Promote to L1 for the remaining TTL window.
				c.l1.Add(key, d)
				return d, "l2", true
			}
		}
	}

	return Decision{}, "", false
}

// Put stores a decision in both tiers. Nil decisions are rejected and
// denied decisions are not stored: a transient lookup failure must not
// become a minutes-long deny.
func (c *DecisionCache) Put(ctx context.Context, key string, d *Decision) error {
	if d == nil {
		return ErrNilDecision
	}
	if !d.Granted {
		return nil
	}

	c.l1.Add(key, *d)

	if c.redis != nil {
		data, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("failed to marshal decision: %w", err)
		}
		if err := c.redis.Set(ctx, cacheKeyPrefix+key, data, c.ttl).Err(); err != nil {
			return fmt.Errorf("failed to cache decision in redis: %w", err)
		}
	}

	return nil
}

// Invalidate drops the cached decision for one (user, tenant) pair.
func (c *DecisionCache) Invalidate(ctx context.Context, userID, tenantID uuid.UUID) error {
	key := CacheKey(userID, tenantID)
	c.l1.Remove(key)

	if c.redis != nil {
		if err := c.redis.Del(ctx, cacheKeyPrefix+key).Err(); err != nil {
			return fmt.Errorf("failed to invalidate redis decision: %w", err)
		}
	}
	return nil
}

// InvalidateUser drops every cached decision for a user, across all
// tenants. Used when a global role changes.
func (c *DecisionCache) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	prefix := userID.String() + ":"
	for _, key := range c.l1.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.l1.Remove(key)
		}
	}

	if c.redis != nil {
		iter := c.redis.Scan(ctx, 0, cacheKeyPrefix+prefix+"*", 0).Iterator()
		for iter.Next(ctx) {
			if err := c.redis.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("failed to invalidate redis decision: %w", err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("failed to scan redis decisions: %w", err)
		}
	}
	return nil
}

// Purge empties the L1 tier. Redis entries age out on their own TTL.
func (c *DecisionCache) Purge() {
	c.l1.Purge()
}
