// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing setup, and graceful shutdown coordination.
//
// Logging is JSON over log/slog. Loggers are enriched from the request
// context (request ID, tenant, user) via FromContext so authorization
// decisions are attributable without threading fields by hand.
package observability
