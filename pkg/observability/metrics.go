package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authorization metrics
	AccessDecisionsTotal *prometheus.CounterVec
	PolicyDecisionsTotal *prometheus.CounterVec
	PolicyClientErrors   *prometheus.CounterVec
	PolicyClientDuration *prometheus.HistogramVec

	// Access decision cache metrics
	AccessCacheHitsTotal   *prometheus.CounterVec
	AccessCacheMissesTotal prometheus.Counter

	// RLS binder metrics
	BinderBindsTotal    *prometheus.CounterVec
	BinderFailuresTotal prometheus.Counter

	// Audit trail metrics
	AuditEventsTotal  *prometheus.CounterVec
	AuditQueueDepth   prometheus.Gauge
	AuditDroppedTotal prometheus.Counter

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "locafleet_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		AccessDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_access_decisions_total",
				Help: "Tenant access resolution outcomes",
			},
			[]string{"outcome"}, // granted, unrestricted, denied, error
		),
		PolicyDecisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_policy_decisions_total",
				Help: "Policy engine decision outcomes",
			},
			[]string{"outcome"}, // allow, deny, requires_approval
		),
		PolicyClientErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_policy_client_errors_total",
				Help: "Policy engine call failures, all treated as deny",
			},
			[]string{"kind"}, // timeout, transport, status, parse
		),
		PolicyClientDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "locafleet_policy_client_duration_seconds",
				Help:    "Policy engine call duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"}, // rbac, threshold
		),
		AccessCacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_access_cache_hits_total",
				Help: "Access decision cache hits by tier",
			},
			[]string{"tier"}, // l1, l2
		),
		AccessCacheMissesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "locafleet_access_cache_misses_total",
				Help: "Access decision cache misses",
			},
		),
		BinderBindsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_rls_binds_total",
				Help: "RLS session variable binds by kind",
			},
			[]string{"kind"}, // tenant, neutral, reset
		),
		BinderFailuresTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "locafleet_rls_bind_failures_total",
				Help: "RLS bind statement failures, each aborts its request",
			},
		),
		AuditEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "locafleet_audit_events_total",
				Help: "Audit events recorded by status",
			},
			[]string{"status"},
		),
		AuditQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "locafleet_audit_queue_depth",
				Help: "Pending audit events in the worker pool backlog",
			},
		),
		AuditDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "locafleet_audit_dropped_total",
				Help: "Audit events dropped because the backlog was full",
			},
		),
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "locafleet_db_connections_active",
				Help: "Active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "locafleet_db_connections_idle",
				Help: "Idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AccessDecisionsTotal,
		m.PolicyDecisionsTotal,
		m.PolicyClientErrors,
		m.PolicyClientDuration,
		m.AccessCacheHitsTotal,
		m.AccessCacheMissesTotal,
		m.BinderBindsTotal,
		m.BinderFailuresTotal,
		m.AuditEventsTotal,
		m.AuditQueueDepth,
		m.AuditDroppedTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// Handler returns an HTTP handler serving the metrics registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// statusRecorder captures the response status for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware records request count and duration per route.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		m.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(time.Since(start).Seconds())
	})
}
