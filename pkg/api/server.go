// Package api assembles the HTTP surface: the admin endpoints that
// manage memberships and global roles, the audit search endpoint, and
// the rental-fleet business routes that run behind the authorization
// pipeline.
package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/locafleet/locafleet/pkg/access"
	"github.com/locafleet/locafleet/pkg/audit"
	"github.com/locafleet/locafleet/pkg/httputil"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/pipeline"
	"github.com/locafleet/locafleet/pkg/policy"
	"github.com/locafleet/locafleet/pkg/rls"
	"github.com/locafleet/locafleet/pkg/storage/postgres"
)

// Server represents the API server
type Server struct {
	router   *mux.Router
	cm       *postgres.ConnectionManager
	binder   *rls.Binder
	store    *access.PostgresStore
	resolver *access.Resolver
	audits   *audit.Store
	recorder *audit.Recorder
	pipeline *pipeline.Pipeline
	metrics  *observability.Metrics
	logger   *observability.Logger
	tracing  bool
}

// Options carries the wired components the server serves with.
type Options struct {
	Connections *postgres.ConnectionManager
	Binder      *rls.Binder
	AccessStore *access.PostgresStore
	Resolver    *access.Resolver
	AuditStore  *audit.Store
	Recorder    *audit.Recorder
	Pipeline    *pipeline.Pipeline
	Metrics     *observability.Metrics
	Logger      *observability.Logger
	Tracing     bool
}

// NewServer creates the API server and registers all routes.
func NewServer(opts Options) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		cm:       opts.Connections,
		binder:   opts.Binder,
		store:    opts.AccessStore,
		resolver: opts.Resolver,
		audits:   opts.AuditStore,
		recorder: opts.Recorder,
		pipeline: opts.Pipeline,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		tracing:  opts.Tracing,
	}

	s.pipeline.AllowPublic("/healthz")
	s.pipeline.RegisterOperationExtractor("desconto:aplicar", discountOperationExtractor)

	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.healthz).Methods("GET")

	// Tenant membership administration
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/members", s.listMembers).Methods("GET")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/members/{user_id}", s.upsertMember).Methods("PUT")
	s.router.HandleFunc("/api/v1/tenants/{tenant_id}/members/{user_id}", s.removeMember).Methods("DELETE")

	// Platform-wide role administration
	s.router.HandleFunc("/api/v1/platform-roles/{user_id}", s.upsertGlobalRole).Methods("PUT")
	s.router.HandleFunc("/api/v1/platform-roles/{user_id}", s.deleteGlobalRole).Methods("DELETE")

	// Audit trail search
	s.router.HandleFunc("/api/v1/audit-events", s.searchAuditEvents).Methods("GET")

	// Rental fleet business routes. All queries run on tenant-bound
	// connections; row-level security does the per-tenant filtering.
	s.router.HandleFunc("/api/v1/veiculos", s.listVehicles).Methods("GET")
	s.router.HandleFunc("/api/v1/reservas", s.createRental).Methods("POST")
	s.router.HandleFunc("/api/v1/reservas", s.listRentals).Methods("GET")
	s.router.HandleFunc("/api/v1/reservas/{reserva_id}", s.getRental).Methods("GET")
	s.router.HandleFunc("/api/v1/reservas/{reserva_id}/close", s.closeRental).Methods("POST")
	s.router.HandleFunc("/api/v1/descontos/aplicar", s.applyDiscount).Methods("POST")
}

// Handler returns the router wrapped in the full middleware chain:
// request ID, metrics, optional tracing, then the authorization
// pipeline in front of every route.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = s.pipeline.Handler(h)
	if s.tracing {
		h = otelhttp.NewHandler(h, "locafleet-api")
	}
	if s.metrics != nil {
		h = s.metrics.HTTPMiddleware(h)
	}
	h = pipeline.RequestIDMiddleware(s.logger)(h)
	return h
}

// Router exposes the bare router for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.cm.HealthCheck(r.Context()); err != nil {
		httputil.WriteServiceUnavailable(w, "database unavailable")
		return
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// discountOperationExtractor reads the discount percentage from the
// request body so the policy engine can evaluate it against the
// caller's role threshold. The body is restored afterwards for the
// handler to parse again.
func discountOperationExtractor(r *http.Request) (*policy.Operation, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(body))

	var req applyDiscountRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, errInvalidDiscountBody
	}
	if req.PercentualDesconto <= 0 {
		return nil, errMissingDiscount
	}
	return &policy.Operation{
		Attributes:    map[string]float64{"percentual_desconto": req.PercentualDesconto},
		Justification: req.Justificativa,
	}, nil
}
