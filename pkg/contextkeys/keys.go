// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/locafleet/locafleet/pkg/contextkeys"
//	ctx = context.WithValue(ctx, contextkeys.ActorKey, rc)
//	rc := ctx.Value(contextkeys.ActorKey).(*tenancy.RequestContext)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// ActorKey contains *tenancy.RequestContext
	// Set by: pipeline.ContextMiddleware (pkg/pipeline/middleware.go)
	// Required by: RLS binder, policy evaluation, audit trail, business handlers
	// Type: *tenancy.RequestContext
	ActorKey Key = "actor_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: pipeline.RequestIDMiddleware
	// Used by: Logger, audit trail, distributed tracing
	// Type: string
	RequestIDKey Key = "request_id"

	// ActionKey contains the classified "resource:action" string
	// Set by: pipeline.PolicyMiddleware after classification
	// Used by: audit trail, handlers that need the canonical action name
	// Type: string
	ActionKey Key = "action"

	// LoggerKey contains *observability.Logger
	// Set by: observability middleware
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithAction adds the classified action to the context
func WithAction(ctx context.Context, action string) context.Context {
	return context.WithValue(ctx, ActionKey, action)
}

// GetAction retrieves the classified action from context
func GetAction(ctx context.Context) string {
	if action, ok := ctx.Value(ActionKey).(string); ok {
		return action
	}
	return ""
}
