// Package pipeline orchestrates the per-request authorization flow:
// extract identity and tenant, resolve access, install the request
// context, classify the action, query the policy engine, then hand off
// to the business handler or reject. Every rejection happens before the
// handler runs, and the installed context is cleared on every exit
// path.
package pipeline

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/locafleet/locafleet/pkg/access"
	"github.com/locafleet/locafleet/pkg/action"
	"github.com/locafleet/locafleet/pkg/audit"
	"github.com/locafleet/locafleet/pkg/contextkeys"
	"github.com/locafleet/locafleet/pkg/httputil"
	"github.com/locafleet/locafleet/pkg/identity"
	"github.com/locafleet/locafleet/pkg/observability"
	"github.com/locafleet/locafleet/pkg/policy"
	"github.com/locafleet/locafleet/pkg/tenancy"
)

// OperationExtractor pulls the numeric operation attributes (discount
// percentage, approval amount, justification) a route wants evaluated
// against thresholds. Returning nil means the action has no thresholds
// and only RBAC applies.
type OperationExtractor func(r *http.Request) (*policy.Operation, error)

// Pipeline wires the authorization components into HTTP middleware.
type Pipeline struct {
	verifier   identity.Verifier
	resolver   *access.Resolver
	classifier *action.Classifier
	policy     *policy.Client
	recorder   *audit.Recorder
	logger     *observability.Logger

	// publicPaths bypass the pipeline entirely (health probes, login).
	publicPaths map[string]bool

	// operationExtractors by classified action, e.g. "desconto:aplicar".
	operationExtractors map[string]OperationExtractor
}

// New creates a pipeline. recorder may be nil to disable auditing.
func New(
	verifier identity.Verifier,
	resolver *access.Resolver,
	classifier *action.Classifier,
	policyClient *policy.Client,
	recorder *audit.Recorder,
	logger *observability.Logger,
) *Pipeline {
	return &Pipeline{
		verifier:            verifier,
		resolver:            resolver,
		classifier:          classifier,
		policy:              policyClient,
		recorder:            recorder,
		logger:              logger,
		publicPaths:         make(map[string]bool),
		operationExtractors: make(map[string]OperationExtractor),
	}
}

// AllowPublic marks a path as tenant-less; the pipeline does not run
// for it and no tenant is bound to its connections.
func (p *Pipeline) AllowPublic(paths ...string) {
	for _, path := range paths {
		p.publicPaths[path] = true
	}
}

// RegisterOperationExtractor attaches threshold attributes to an action.
func (p *Pipeline) RegisterOperationExtractor(actionName string, fn OperationExtractor) {
	p.operationExtractors[actionName] = fn
}

// RequestIDMiddleware assigns each request a UUID and scopes the logger.
func RequestIDMiddleware(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := uuid.NewString()
			ctx := contextkeys.WithRequestID(r.Context(), requestID)
			ctx = observability.WithLogger(ctx, logger)
			w.Header().Set("X-Request-ID", requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Handler is the authorization middleware. Order within one request:
// tenant extraction, identity verification, access resolution, context
// install, action classification, policy evaluation, business handler.
// There is no reordering or speculative execution.
func (p *Pipeline) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p.publicPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		logger := observability.FromContext(r.Context())

		tenantID, err := extractTenant(r)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}

		ident, err := p.verifyIdentity(r)
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or missing credentials")
			return
		}

		decision, err := p.resolver.ResolveAccess(r.Context(), ident.UserID, tenantID)
		if err != nil {
			// Resolver failure is not a silent deny, but the request
			// still fails closed.
			logger.WithError(err).Error("access resolution failed")
			httputil.WriteServiceUnavailable(w, "authorization temporarily unavailable")
			return
		}
		if !decision.Granted {
			p.auditDenied(r.Context(), r, audit.EventTypeAccessDenied, "", decision.Reason, tenantID, ident.UserID)
			httputil.WriteForbidden(w, ErrAccessDenied.Error())
			return
		}

		rc := tenancy.NewRequestContext(tenantID, ident.UserID, decision.Roles)
		ctx := tenancy.Install(r.Context(), rc)
		// Clear on every exit path, panics included: a leaked context
		// must never survive into anything derived from this scope.
		defer func() {
			ctx = tenancy.Clear(ctx)
			if rec := recover(); rec != nil {
				logger.WithField("panic", rec).Error("handler panicked")
				httputil.WriteInternalError(w, errors.New("internal error"))
			}
		}()

		actionName := p.classifier.Classify(r.Method, r.URL.Path)
		if actionName == action.Unknown {
			p.audit(ctx, r, audit.EventTypePolicyDeny, actionName, ErrUnclassifiable.Error())
			httputil.WriteForbidden(w, ErrPolicyDenied.Error())
			return
		}
		ctx = contextkeys.WithAction(ctx, actionName)

		input, err := p.buildPolicyInput(r, actionName, tenantID, ident, decision)
		if err != nil {
			httputil.WriteBadRequest(w, err.Error())
			return
		}

		verdict, err := p.policy.Authorize(ctx, input)
		if err != nil {
			// Engine unavailable: deny, logged distinctly from an
			// engine-issued deny.
			logger.WithError(err).WithField("action", actionName).Error("policy engine unavailable")
			p.audit(ctx, r, audit.EventTypePolicyUnavailable, actionName, "policy engine unavailable")
			httputil.WriteForbidden(w, ErrPolicyDenied.Error())
			return
		}
		if !verdict.Allow {
			if verdict.RequiresApproval {
				p.audit(ctx, r, audit.EventTypePolicyEscalation, actionName, "requires approval from "+verdict.ApproverRole)
				httputil.WriteJSON(w, http.StatusForbidden, map[string]interface{}{
					"error":             "requires approval from role " + verdict.ApproverRole,
					"requires_approval": true,
					"approver_role":     verdict.ApproverRole,
				})
				return
			}
			p.audit(ctx, r, audit.EventTypePolicyDeny, actionName, ErrPolicyDenied.Error())
			httputil.WriteForbidden(w, ErrPolicyDenied.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (p *Pipeline) verifyIdentity(r *http.Request) (*identity.Identity, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, identity.ErrInvalidToken
	}
	scheme, token, found := strings.Cut(authHeader, " ")
	if !found || scheme != "Bearer" {
		return nil, identity.ErrInvalidToken
	}
	return p.verifier.Verify(r.Context(), token)
}

func (p *Pipeline) buildPolicyInput(
	r *http.Request,
	actionName string,
	tenantID uuid.UUID,
	ident *identity.Identity,
	decision *access.Decision,
) (*policy.Input, error) {
	resource, _, _ := strings.Cut(actionName, ":")

	primaryRole := ""
	if len(decision.Roles) > 0 {
		primaryRole = decision.Roles[0]
	}

	input := &policy.Input{
		Action: actionName,
		Subject: policy.Subject{
			ID:       ident.UserID,
			TenantID: tenantID,
			Role:     primaryRole,
			Roles:    decision.Roles,
			Email:    ident.Email,
		},
		Resource: policy.Resource{
			TenantID: tenantID,
			Type:     resource,
		},
	}

	if extractor, ok := p.operationExtractors[actionName]; ok {
		op, err := extractor(r)
		if err != nil {
			return nil, err
		}
		input.Operation = op
	}

	return input, nil
}

func (p *Pipeline) audit(ctx context.Context, r *http.Request, eventType audit.EventType, actionName, reason string) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(ctx, &audit.Event{
		EventType: eventType,
		Status:    audit.EventStatusDenied,
		Action:    actionName,
		Method:    r.Method,
		Path:      r.URL.Path,
		Message:   reason,
	})
}

// auditDenied records a denial that happened before the request context
// was installed, so tenant and user are passed explicitly.
func (p *Pipeline) auditDenied(ctx context.Context, r *http.Request, eventType audit.EventType, actionName, reason string, tenantID, userID uuid.UUID) {
	if p.recorder == nil {
		return
	}
	p.recorder.Record(ctx, &audit.Event{
		EventType: eventType,
		Status:    audit.EventStatusDenied,
		TenantID:  &tenantID,
		UserID:    &userID,
		Action:    actionName,
		Method:    r.Method,
		Path:      r.URL.Path,
		Message:   reason,
	})
}
