package access

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/locafleet/locafleet/pkg/observability"
)

// DefaultCacheTTL bounds the staleness window of an access revocation
// against the cost of re-querying on every request.
const DefaultCacheTTL = 5 * time.Minute

// Resolver decides tenant access for (user, tenant) pairs.
//
// Resolution order: global role first (unrestricted access short-circuits
// the membership lookup entirely), then active membership, then deny.
// Store errors propagate as resolver failures, never as a silent deny;
// the pipeline owns the fail-closed policy.
type Resolver struct {
	store   Store
	cache   *DecisionCache
	metrics *observability.Metrics
	logger  *observability.Logger
}

// NewResolver creates a resolver. metrics may be nil in tests.
func NewResolver(store Store, cache *DecisionCache, metrics *observability.Metrics, logger *observability.Logger) *Resolver {
	return &Resolver{
		store:   store,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
	}
}

// ResolveAccess returns the access decision for (user, tenant).
func (r *Resolver) ResolveAccess(ctx context.Context, userID, tenantID uuid.UUID) (*Decision, error) {
	key := CacheKey(userID, tenantID)

	if d, tier, ok := r.cache.Get(ctx, key); ok {
		r.countCacheHit(tier)
		return &d, nil
	}
	r.countCacheMiss()

	gr, err := r.store.GetGlobalRole(ctx, userID)
	if err != nil {
		r.countDecision("error")
		return nil, fmt.Errorf("access resolution failed: %w", err)
	}
	if gr != nil && gr.UnrestrictedAccess {
		d := &Decision{
			Granted:      true,
			Unrestricted: true,
			Roles:        gr.Roles,
			Reason:       ReasonUnrestricted,
			ResolvedAt:   time.Now().UTC(),
		}
		r.storeDecision(ctx, key, d)
		r.countDecision("unrestricted")
		return d, nil
	}

	m, err := r.store.GetActiveMembership(ctx, userID, tenantID)
	if err != nil {
		r.countDecision("error")
		return nil, fmt.Errorf("access resolution failed: %w", err)
	}
	if m != nil {
		d := &Decision{
			Granted:    true,
			Roles:      m.Roles,
			Reason:     ReasonMembership,
			ResolvedAt: time.Now().UTC(),
		}
		r.storeDecision(ctx, key, d)
		r.countDecision("granted")
		return d, nil
	}

	// Definite non-membership. Not cached: see DecisionCache.Put.
	r.countDecision("denied")
	return &Decision{
		Granted:    false,
		Reason:     ReasonNotMember,
		ResolvedAt: time.Now().UTC(),
	}, nil
}

// Invalidate drops the cached decision for a pair. Call whenever a
// membership row changes.
func (r *Resolver) Invalidate(ctx context.Context, userID, tenantID uuid.UUID) error {
	return r.cache.Invalidate(ctx, userID, tenantID)
}

// InvalidateUser drops all cached decisions for a user. Call whenever
// a global role changes.
func (r *Resolver) InvalidateUser(ctx context.Context, userID uuid.UUID) error {
	return r.cache.InvalidateUser(ctx, userID)
}

func (r *Resolver) storeDecision(ctx context.Context, key string, d *Decision) {
	if err := r.cache.Put(ctx, key, d); err != nil && r.logger != nil {
		// Cache failures degrade to re-querying; they never block access.
		r.logger.WithError(err).Warn("failed to cache access decision")
	}
}

func (r *Resolver) countDecision(outcome string) {
	if r.metrics != nil {
		r.metrics.AccessDecisionsTotal.WithLabelValues(outcome).Inc()
	}
}

func (r *Resolver) countCacheHit(tier string) {
	if r.metrics != nil {
		r.metrics.AccessCacheHitsTotal.WithLabelValues(tier).Inc()
	}
}

func (r *Resolver) countCacheMiss() {
	if r.metrics != nil {
		r.metrics.AccessCacheMissesTotal.Inc()
	}
}
