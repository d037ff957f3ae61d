// Package access decides whether a user may act within a tenant. The
// source of truth is the membership table (per-tenant role grants) plus
// the global-role table (platform-operator privilege that bypasses
// membership entirely). Decisions are cached with a short TTL.
package access

import (
	"time"

	"github.com/google/uuid"
)

// Membership grants a user a set of roles within one tenant. One row
// per (user, tenant). Inactive memberships grant nothing.
type Membership struct {
	TenantID  uuid.UUID `json:"tenant_id"`
	UserID    uuid.UUID `json:"user_id"`
	Roles     []string  `json:"roles"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GlobalRole is the platform-operator record for a user. At most one
// per user. UnrestrictedAccess bypasses per-tenant membership checks.
type GlobalRole struct {
	UserID             uuid.UUID `json:"user_id"`
	Roles              []string  `json:"roles"`
	UnrestrictedAccess bool      `json:"unrestricted_access"`
	CreatedAt          time.Time `json:"created_at"`
}

// Decision is the outcome of resolving a (user, tenant) pair.
// Unrestricted implies Granted.
type Decision struct {
	Granted      bool      `json:"granted"`
	Unrestricted bool      `json:"unrestricted"`
	Roles        []string  `json:"roles,omitempty"`
	Reason       string    `json:"reason"`
	ResolvedAt   time.Time `json:"resolved_at"`
}

// Decision reasons surfaced to callers. Kept to the least detail needed
// to act on the outcome.
const (
	ReasonUnrestricted = "unrestricted platform access"
	ReasonMembership   = "membership"
	ReasonNotMember    = "not a member"
)
