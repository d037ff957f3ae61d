package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertMember(t *testing.T) {
	s, mock := newTestServer(t)
	tenantID := uuid.New()
	userID := uuid.New()

	mock.ExpectExec(`INSERT INTO tenant_memberships`).
		WithArgs(tenantID, userID, pq.Array([]string{"ATENDENTE"}), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, _ := json.Marshal(map[string]interface{}{"roles": []string{"ATENDENTE"}})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodPut,
		"/api/v1/tenants/"+tenantID.String()+"/members/"+userID.String(), payload, tenantID))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMemberRequiresRoles(t *testing.T) {
	s, _ := newTestServer(t)
	tenantID := uuid.New()
	userID := uuid.New()

	payload, _ := json.Marshal(map[string]interface{}{"roles": []string{}})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodPut,
		"/api/v1/tenants/"+tenantID.String()+"/members/"+userID.String(), payload, tenantID))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpsertMemberInvalidatesCachedDecision(t *testing.T) {
	s, mock := newTestServer(t)
	tenantID := uuid.New()
	userID := uuid.New()

	// Warm the decision cache with an ATENDENTE membership
	mock.ExpectQuery(`SELECT user_id, roles, unrestricted_access`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery(`SELECT tenant_id, user_id, roles, active`).
		WithArgs(userID, tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "user_id", "roles", "active", "created_at", "updated_at"}).
			AddRow(tenantID.String(), userID.String(), pq.Array([]string{"ATENDENTE"}), true, time.Now(), time.Now()))

	d, err := s.resolver.ResolveAccess(tenantRequest(http.MethodGet, "/", nil, tenantID).Context(), userID, tenantID)
	require.NoError(t, err)
	require.True(t, d.Granted)

	// Role change writes the row and drops the cached decision
	mock.ExpectExec(`INSERT INTO tenant_memberships`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, _ := json.Marshal(map[string]interface{}{"roles": []string{"GERENTE"}})
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodPut,
		"/api/v1/tenants/"+tenantID.String()+"/members/"+userID.String(), payload, tenantID))
	require.Equal(t, http.StatusOK, w.Code)

	// The next resolution hits the store again, not the cache
	mock.ExpectQuery(`SELECT user_id, roles, unrestricted_access`).
		WithArgs(userID).
		WillReturnRows(sqlmock.NewRows([]string{"user_id"}))
	mock.ExpectQuery(`SELECT tenant_id, user_id, roles, active`).
		WithArgs(userID, tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "user_id", "roles", "active", "created_at", "updated_at"}).
			AddRow(tenantID.String(), userID.String(), pq.Array([]string{"GERENTE"}), true, time.Now(), time.Now()))

	d, err = s.resolver.ResolveAccess(tenantRequest(http.MethodGet, "/", nil, tenantID).Context(), userID, tenantID)
	require.NoError(t, err)
	assert.Equal(t, []string{"GERENTE"}, d.Roles)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRemoveMember(t *testing.T) {
	s, mock := newTestServer(t)
	tenantID := uuid.New()
	userID := uuid.New()

	mock.ExpectExec(`UPDATE tenant_memberships SET active = FALSE`).
		WithArgs(userID, tenantID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodDelete,
		"/api/v1/tenants/"+tenantID.String()+"/members/"+userID.String(), nil, tenantID))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListMembers(t *testing.T) {
	s, mock := newTestServer(t)
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT tenant_id, user_id, roles, active`).
		WithArgs(tenantID).
		WillReturnRows(sqlmock.NewRows([]string{"tenant_id", "user_id", "roles", "active", "created_at", "updated_at"}).
			AddRow(tenantID.String(), uuid.NewString(), pq.Array([]string{"GERENTE"}), true, time.Now(), time.Now()).
			AddRow(tenantID.String(), uuid.NewString(), pq.Array([]string{"ATENDENTE"}), false, time.Now(), time.Now()))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodGet,
		"/api/v1/tenants/"+tenantID.String()+"/members", nil, tenantID))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Members []json.RawMessage `json:"members"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Members, 2)
}

func TestUpsertGlobalRole(t *testing.T) {
	s, mock := newTestServer(t)
	userID := uuid.New()

	mock.ExpectExec(`INSERT INTO global_roles`).
		WithArgs(userID, pq.Array([]string{"SUPORTE_PLATAFORMA"}), true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	payload, _ := json.Marshal(map[string]interface{}{
		"roles":               []string{"SUPORTE_PLATAFORMA"},
		"unrestricted_access": true,
	})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodPut,
		"/api/v1/platform-roles/"+userID.String(), payload, uuid.New()))

	require.Equal(t, http.StatusOK, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteGlobalRole(t *testing.T) {
	s, mock := newTestServer(t)
	userID := uuid.New()

	mock.ExpectExec(`DELETE FROM global_roles`).
		WithArgs(userID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodDelete,
		"/api/v1/platform-roles/"+userID.String(), nil, uuid.New()))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchAuditEvents(t *testing.T) {
	s, mock := newTestServer(t)
	tenantID := uuid.New()

	mock.ExpectQuery(`SELECT id, timestamp, event_type, status`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "timestamp", "event_type", "status", "tenant_id", "user_id", "roles",
			"action", "resource_type", "resource_id",
			"request_id", "method", "path", "message", "error_message", "metadata",
		}).AddRow(
			int64(1), time.Now().UTC(), "policy_deny", "denied",
			tenantID.String(), uuid.NewString(), pq.Array([]string{"ATENDENTE"}),
			"desconto:aplicar", "rental", "", "req-1", "POST", "/api/v1/descontos/aplicar",
			"action not permitted", "", []byte(`{}`),
		))

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodGet,
		"/api/v1/audit-events?tenant_id="+tenantID.String()+"&limit=10", nil, tenantID))

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Events []json.RawMessage `json:"events"`
		Limit  int               `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body.Events, 1)
	assert.Equal(t, 10, body.Limit)
}

func TestSearchAuditEventsRejectsBadFilter(t *testing.T) {
	s, _ := newTestServer(t)
	tenantID := uuid.New()

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodGet,
		"/api/v1/audit-events?tenant_id=nope", nil, tenantID))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	s.router.ServeHTTP(w, tenantRequest(http.MethodGet,
		"/api/v1/audit-events?start=yesterday", nil, tenantID))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
