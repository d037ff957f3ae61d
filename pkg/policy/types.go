// Package policy is the client for the external policy decision engine.
// It answers two kinds of questions: plain RBAC allow/deny, and
// threshold ("alçada") evaluation for operations that carry numeric
// attributes, where the answer may be "allowed only with escalation to
// a higher role".
package policy

import "github.com/google/uuid"

// Subject is the acting identity, as the engine sees it.
type Subject struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenant_id"`
	Role     string    `json:"role,omitempty"`
	Roles    []string  `json:"roles"`
	Email    string    `json:"email,omitempty"`
}

// Resource is the target of the action.
type Resource struct {
	ID         string                 `json:"id,omitempty"`
	TenantID   uuid.UUID              `json:"tenant_id"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// Operation carries the numeric attributes evaluated against
// thresholds, plus an optional justification supplied by the caller.
type Operation struct {
	Attributes    map[string]float64     `json:"attributes"`
	Justification string                 `json:"justification,omitempty"`
	Extra         map[string]interface{} `json:"extra,omitempty"`
}

// Input is one authorization question. Built fresh per call, never
// persisted.
type Input struct {
	Action    string     `json:"action"`
	Subject   Subject    `json:"subject"`
	Resource  Resource   `json:"resource"`
	Operation *Operation `json:"operation,omitempty"`
}

// Verdict is the engine's answer. RequiresApproval=true with
// Allow=false is a distinct outcome from a flat deny: the action may
// proceed pending approval from ApproverRole.
type Verdict struct {
	Allow            bool   `json:"allow"`
	TenantValid      bool   `json:"tenant_valid"`
	RequiresApproval bool   `json:"requires_approval"`
	ApproverRole     string `json:"approver_role,omitempty"`
}

// Outcome labels a verdict for metrics and audit.
func (v *Verdict) Outcome() string {
	switch {
	case v.Allow:
		return "allow"
	case v.RequiresApproval:
		return "requires_approval"
	default:
		return "deny"
	}
}
