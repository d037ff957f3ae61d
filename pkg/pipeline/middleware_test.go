package pipeline

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/locafleet/locafleet/pkg/access"
	"github.com/locafleet/locafleet/pkg/action"
	"github.com/locafleet/locafleet/pkg/identity"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/policy"
	"github.com/locafleet/locafleet/pkg/tenancy"
)

type stubAccessStore struct {
	globalRoles map[uuid.UUID]*access.GlobalRole
	memberships map[string]*access.Membership
}

func (s *stubAccessStore) GetGlobalRole(_ context.Context, userID uuid.UUID) (*access.GlobalRole, error) {
	return s.globalRoles[userID], nil
}

func (s *stubAccessStore) GetActiveMembership(_ context.Context, userID, tenantID uuid.UUID) (*access.Membership, error) {
	return s.memberships[access.CacheKey(userID, tenantID)], nil
}

type testEnv struct {
	pipeline  *Pipeline
	tenantID  uuid.UUID
	userID    uuid.UUID
	token     string
	engine    *httptest.Server
	rbacBody  atomic.Value // string
	threshold atomic.Value // string
}

func newTestEnv(t *testing.T, roles []string) *testEnv {
	t.Helper()

	env := &testEnv{
		tenantID: uuid.New(),
		userID:   uuid.New(),
		token:    "token-" + uuid.NewString(),
	}
	env.rbacBody.Store(`{"allow": true}`)
	env.threshold.Store(`{"allow": true, "tenant_valid": true}`)

	env.engine = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/rbac"):
			w.Write([]byte(env.rbacBody.Load().(string)))
		case strings.HasSuffix(r.URL.Path, "/threshold"):
			w.Write([]byte(env.threshold.Load().(string)))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(env.engine.Close)

	store := &stubAccessStore{
		globalRoles: map[uuid.UUID]*access.GlobalRole{},
		memberships: map[string]*access.Membership{},
	}
	if roles != nil {
		store.memberships[access.CacheKey(env.userID, env.tenantID)] = &access.Membership{
			TenantID: env.tenantID,
			UserID:   env.userID,
			Roles:    roles,
			Active:   true,
		}
	}

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	resolver := access.NewResolver(store, access.NewDecisionCache(time.Minute, 64, nil), nil, logger)
	verifier := identity.NewStaticVerifier(map[string]*identity.Identity{
		env.token: {UserID: env.userID, Email: "gerente@locafleet.com"},
	})
	policyClient := policy.NewClient(env.engine.URL, time.Second, nil)
	classifier := action.NewClassifier("/api/v1")

	env.pipeline = New(verifier, resolver, classifier, policyClient, nil, logger)
	return env
}

func (env *testEnv) request(method, path string) *http.Request {
	r := httptest.NewRequest(method, path, nil)
	r.Header.Set(TenantHeader, env.tenantID.String())
	r.Header.Set("Authorization", "Bearer "+env.token)
	return r
}

func okHandler(t *testing.T, sawIdentity *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := tenancy.CurrentTenant(r.Context()); ok && sawIdentity != nil {
			*sawIdentity = true
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestPipelineAllowsMember(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})

	var sawIdentity bool
	h := env.pipeline.Handler(okHandler(t, &sawIdentity))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodGet, "/api/v1/veiculos"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sawIdentity, "handler should see the installed identity")
}

func TestPipelineMissingTenant(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})
	h := env.pipeline.Handler(okHandler(t, nil))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/veiculos", nil)
	r.Host = "localhost"
	r.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "missing tenant identifier")
}

func TestPipelineInvalidTenant(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})
	h := env.pipeline.Handler(okHandler(t, nil))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/veiculos", nil)
	r.Header.Set(TenantHeader, "not-a-uuid")
	r.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid tenant identifier")
}

func TestPipelineHostnameFallback(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})

	var sawIdentity bool
	h := env.pipeline.Handler(okHandler(t, &sawIdentity))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/veiculos", nil)
	r.Host = env.tenantID.String() + ".locafleet.com"
	r.Header.Set("Authorization", "Bearer "+env.token)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sawIdentity)
}

func TestPipelineMissingCredentials(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})
	h := env.pipeline.Handler(okHandler(t, nil))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/veiculos", nil)
	r.Header.Set(TenantHeader, env.tenantID.String())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPipelineDeniesNonMember(t *testing.T) {
	env := newTestEnv(t, nil) // no membership

	h := env.pipeline.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a non-member")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodGet, "/api/v1/veiculos"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "not a member of this tenant")
}

func TestPipelinePolicyDeny(t *testing.T) {
	env := newTestEnv(t, []string{"ATENDENTE"})
	env.rbacBody.Store(`{"allow": false}`)

	h := env.pipeline.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run on policy deny")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodDelete, "/api/v1/reservas/42"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "action not permitted")
}

func TestPipelinePolicyEngineDownFailsClosed(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})
	env.engine.Close()

	h := env.pipeline.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when the policy engine is unreachable")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodGet, "/api/v1/veiculos"))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPipelineResolverErrorReturns503(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	failing := access.NewResolver(failingStore{}, access.NewDecisionCache(time.Minute, 8, nil), nil, logger)
	env.pipeline.resolver = failing

	h := env.pipeline.Handler(okHandler(t, nil))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodGet, "/api/v1/veiculos"))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

type failingStore struct{}

func (failingStore) GetGlobalRole(context.Context, uuid.UUID) (*access.GlobalRole, error) {
	return nil, context.DeadlineExceeded
}

func (failingStore) GetActiveMembership(context.Context, uuid.UUID, uuid.UUID) (*access.Membership, error) {
	return nil, context.DeadlineExceeded
}

func TestPipelineUnclassifiableDenied(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})
	h := env.pipeline.Handler(okHandler(t, nil))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodGet, "/api/v1"))

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPipelinePublicPathBypasses(t *testing.T) {
	env := newTestEnv(t, nil)
	env.pipeline.AllowPublic("/healthz")

	h := env.pipeline.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, ok := tenancy.CurrentTenant(r.Context())
		assert.False(t, ok, "public routes carry no tenant identity")
		w.WriteHeader(http.StatusOK)
	}))

	// No tenant header, no credentials
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPipelineRequiresApproval(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})
	env.threshold.Store(`{"allow": false, "tenant_valid": true, "requires_approval": true, "approver_role": "ADMIN_TENANT"}`)

	env.pipeline.RegisterOperationExtractor("desconto:aplicar", func(r *http.Request) (*policy.Operation, error) {
		return &policy.Operation{
			Attributes: map[string]float64{"percentual_desconto": 50},
		}, nil
	})

	h := env.pipeline.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run while approval is pending")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodPost, "/api/v1/descontos/aplicar"))

	assert.Equal(t, http.StatusForbidden, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["requires_approval"])
	assert.Equal(t, "ADMIN_TENANT", body["approver_role"])
}

func TestPipelineThresholdAllow(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})

	env.pipeline.RegisterOperationExtractor("desconto:aplicar", func(r *http.Request) (*policy.Operation, error) {
		return &policy.Operation{
			Attributes: map[string]float64{"percentual_desconto": 10},
		}, nil
	})

	var sawIdentity bool
	h := env.pipeline.Handler(okHandler(t, &sawIdentity))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodPost, "/api/v1/descontos/aplicar"))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, sawIdentity)
}

func TestPipelinePanicInHandlerReturns500(t *testing.T) {
	env := newTestEnv(t, []string{"GERENTE"})

	h := env.pipeline.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("handler exploded")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, env.request(http.MethodGet, "/api/v1/veiculos"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequestIDMiddleware(t *testing.T) {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)

	var gotRequestID string
	h := RequestIDMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRequestID = w.Header().Get("X-Request-ID")
		w.WriteHeader(http.StatusOK)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	require.NotEmpty(t, gotRequestID)
	_, err := uuid.Parse(gotRequestID)
	assert.NoError(t, err)
}
