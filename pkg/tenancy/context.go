// Package tenancy carries the per-request identity snapshot used for
// tenant isolation: which tenant is acting, which user, and with which
// roles. The snapshot is installed on the request's context.Context once
// access has been granted and is read-only from then on. Downstream code
// (RLS binder, policy evaluation, audit trail) reads it through the
// accessors here and never constructs or mutates it directly.
package tenancy

import (
	"context"

	"github.com/google/uuid"

	"github.com/locafleet/locafleet/pkg/contextkeys"
)

// RequestContext is the immutable identity snapshot for one logical
// request. Never share one instance across two requests.
type RequestContext struct {
	TenantID uuid.UUID
	UserID   uuid.UUID
	roles    []string
}

// NewRequestContext builds a request context. The roles slice is copied
// so later mutation by the caller cannot affect the snapshot.
func NewRequestContext(tenantID, userID uuid.UUID, roles []string) *RequestContext {
	rc := &RequestContext{
		TenantID: tenantID,
		UserID:   userID,
		roles:    make([]string, len(roles)),
	}
	copy(rc.roles, roles)
	return rc
}

// Roles returns a copy of the granted roles.
func (rc *RequestContext) Roles() []string {
	out := make([]string, len(rc.roles))
	copy(out, rc.roles)
	return out
}

// HasRole reports whether the snapshot carries the given role.
func (rc *RequestContext) HasRole(role string) bool {
	for _, r := range rc.roles {
		if r == role {
			return true
		}
	}
	return false
}

// Install scopes the request context to ctx. The pipeline calls this
// exactly once per request, after access resolution succeeds.
func Install(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, contextkeys.ActorKey, rc)
}

// Clear removes the request context from ctx. The pipeline defers this
// on every exit path so a panicking handler cannot leak identity into
// anything that later derives from the same context.
func Clear(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextkeys.ActorKey, (*RequestContext)(nil))
}

// FromContext retrieves the active request context, if any.
func FromContext(ctx context.Context) (*RequestContext, bool) {
	rc, ok := ctx.Value(contextkeys.ActorKey).(*RequestContext)
	if !ok || rc == nil {
		return nil, false
	}
	return rc, true
}

// CurrentTenant returns the active tenant ID. ok is false when no
// request context is installed (public/tenant-less operations).
func CurrentTenant(ctx context.Context) (uuid.UUID, bool) {
	rc, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return rc.TenantID, true
}

// CurrentUser returns the active user ID.
func CurrentUser(ctx context.Context) (uuid.UUID, bool) {
	rc, ok := FromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	return rc.UserID, true
}

// CurrentRoles returns the active role set. Nil when no request context
// is installed.
func CurrentRoles(ctx context.Context) []string {
	rc, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return rc.Roles()
}
