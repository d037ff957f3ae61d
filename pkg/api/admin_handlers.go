package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/locafleet/locafleet/pkg/access"
	"github.com/locafleet/locafleet/pkg/audit"
	"github.com/locafleet/locafleet/pkg/httputil"
	"github.com/locafleet/locafleet/pkg/observability"
)

type upsertMemberRequest struct {
	Roles  []string `json:"roles"`
	Active *bool    `json:"active,omitempty"`
}

type upsertGlobalRoleRequest struct {
	Roles              []string `json:"roles"`
	UnrestrictedAccess bool     `json:"unrestricted_access"`
}

// listMembers returns the membership roster for a tenant, reads served
// from a replica.
func (s *Server) listMembers(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}

	members, err := s.store.ListMemberships(r.Context(), tenantID)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to list memberships")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{"members": members})
}

// upsertMember grants or updates a user's roles within a tenant. Any
// cached decision for the pair is invalidated before responding so the
// change takes effect on the next request, not after TTL expiry.
func (s *Server) upsertMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req upsertMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Roles) == 0 {
		httputil.WriteBadRequest(w, "roles are required")
		return
	}

	active := true
	if req.Active != nil {
		active = *req.Active
	}

	m := &access.Membership{
		TenantID:  tenantID,
		UserID:    userID,
		Roles:     req.Roles,
		Active:    active,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.store.UpsertMembership(r.Context(), m); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to upsert membership")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := s.resolver.Invalidate(r.Context(), userID, tenantID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to invalidate cached decision")
	}

	s.recordAdminEvent(r, audit.EventTypeMembershipChange, "membership", userID.String(), map[string]interface{}{
		"tenant_id": tenantID.String(),
		"roles":     req.Roles,
		"active":    active,
	})

	httputil.WriteSuccess(w, m)
}

// removeMember deactivates a membership. The row is kept for the audit
// trail; an inactive membership grants nothing.
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := httputil.ParsePathUUIDOrError(w, r, "tenant_id")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.store.DeactivateMembership(r.Context(), userID, tenantID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to deactivate membership")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := s.resolver.Invalidate(r.Context(), userID, tenantID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to invalidate cached decision")
	}

	s.recordAdminEvent(r, audit.EventTypeMembershipChange, "membership", userID.String(), map[string]interface{}{
		"tenant_id": tenantID.String(),
		"active":    false,
	})

	httputil.WriteNoContent(w)
}

// upsertGlobalRole grants or updates platform-wide roles for a user.
// Every cached decision for the user is dropped across all tenants.
func (s *Server) upsertGlobalRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	var req upsertGlobalRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if len(req.Roles) == 0 {
		httputil.WriteBadRequest(w, "roles are required")
		return
	}

	gr := &access.GlobalRole{
		UserID:             userID,
		Roles:              req.Roles,
		UnrestrictedAccess: req.UnrestrictedAccess,
	}
	if err := s.store.UpsertGlobalRole(r.Context(), gr); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to upsert global role")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := s.resolver.InvalidateUser(r.Context(), userID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to invalidate cached decisions")
	}

	s.recordAdminEvent(r, audit.EventTypeGlobalRoleChange, "global_role", userID.String(), map[string]interface{}{
		"roles":               req.Roles,
		"unrestricted_access": req.UnrestrictedAccess,
	})

	httputil.WriteSuccess(w, gr)
}

// deleteGlobalRole revokes a user's platform-wide roles.
func (s *Server) deleteGlobalRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.ParsePathUUIDOrError(w, r, "user_id")
	if !ok {
		return
	}

	if err := s.store.DeleteGlobalRole(r.Context(), userID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("failed to delete global role")
		httputil.WriteInternalError(w, err)
		return
	}

	if err := s.resolver.InvalidateUser(r.Context(), userID); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("failed to invalidate cached decisions")
	}

	s.recordAdminEvent(r, audit.EventTypeGlobalRoleChange, "global_role", userID.String(), map[string]interface{}{
		"revoked": true,
	})

	httputil.WriteNoContent(w)
}

// searchAuditEvents queries the audit trail. Reads go to a replica
// store; pagination is capped to keep response sizes bounded.
func (s *Server) searchAuditEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := audit.SearchFilter{Limit: limit, Offset: offset}

	if raw := httputil.ParseQueryString(r, "tenant_id", ""); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid tenant_id")
			return
		}
		filter.TenantID = &tenantID
	}
	if raw := httputil.ParseQueryString(r, "start", ""); raw != "" {
		start, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid start time, want RFC3339")
			return
		}
		filter.StartTime = &start
	}
	if raw := httputil.ParseQueryString(r, "end", ""); raw != "" {
		end, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid end time, want RFC3339")
			return
		}
		filter.EndTime = &end
	}

	events, err := s.audits.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"events": events,
		"limit":  limit,
		"offset": offset,
	})
}

func (s *Server) recordAdminEvent(r *http.Request, eventType audit.EventType, resourceType, resourceID string, metadata map[string]interface{}) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(r.Context(), &audit.Event{
		EventType:    eventType,
		Status:       audit.EventStatusSuccess,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Method:       r.Method,
		Path:         r.URL.Path,
		Metadata:     metadata,
	})
}
