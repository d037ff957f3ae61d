// Package audit records authorization-relevant events on a
// fire-and-forget worker pool. Recording never blocks, fails, or rolls
// back the originating business operation; failures are logged and
// swallowed.
package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes an audit event.
type EventType string

const (
	// Authorization events
	EventTypeAccessGranted     EventType = "authz.access_granted"
	EventTypeAccessDenied      EventType = "authz.access_denied"
	EventTypePolicyAllow       EventType = "authz.policy_allow"
	EventTypePolicyDeny        EventType = "authz.policy_deny"
	EventTypePolicyEscalation  EventType = "authz.policy_escalation"
	EventTypePolicyUnavailable EventType = "authz.policy_unavailable"

	// Tenancy administration events
	EventTypeMembershipChange EventType = "tenancy.membership_change"
	EventTypeGlobalRoleChange EventType = "tenancy.global_role_change"

	// Business data events
	EventTypeDataMutation EventType = "data.mutation"
	EventTypeDataAccess   EventType = "data.access"
)

// EventStatus is the outcome of the audited operation.
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// Event is a single audit log entry.
type Event struct {
	ID        int64       `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// Actor, filled from the request context snapshot
	TenantID *uuid.UUID `json:"tenant_id,omitempty"`
	UserID   *uuid.UUID `json:"user_id,omitempty"`
	Roles    []string   `json:"roles,omitempty"`

	// What was attempted
	Action       string `json:"action,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	ResourceID   string `json:"resource_id,omitempty"`

	// Request context
	RequestID string `json:"request_id,omitempty"`
	Method    string `json:"method,omitempty"`
	Path      string `json:"path,omitempty"`

	Message      string                 `json:"message,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// ToJSON serializes the event.
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// RetentionPolicy defines how long audit rows are kept.
type RetentionPolicy struct {
	RetentionDays int
	// Schedule is a cron expression for the purge job.
	Schedule string
}

// DefaultRetentionPolicy keeps 90 days, purging nightly.
func DefaultRetentionPolicy() RetentionPolicy {
	return RetentionPolicy{
		RetentionDays: 90,
		Schedule:      "0 3 * * *",
	}
}
