package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/locafleet/locafleet/pkg/observability"
)

// DefaultTimeout is the hard deadline for one decision call. Policy
// calls sit on the request's critical path; there is no retry here.
// Callers needing resilience wrap the client in their own breaker.
const DefaultTimeout = 3 * time.Second

// ErrUnavailable wraps any transport, timeout, status, or parse failure
// from the engine. The caller treats it as deny; it is logged
// separately from an engine-issued deny for operational visibility.
var ErrUnavailable = errors.New("policy: engine unavailable")

const (
	rbacPath      = "/v1/decisions/rbac"
	thresholdPath = "/v1/decisions/threshold"
)

// Client talks JSON-over-HTTP to the policy engine.
type Client struct {
	baseURL    string
	httpClient *http.Client
	metrics    *observability.Metrics
}

// NewClient creates a client with the given per-call timeout.
func NewClient(baseURL string, timeout time.Duration, metrics *observability.Metrics) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
	}
}

// rbacResponse uses a pointer so a missing or null verdict payload is
// distinguishable from an explicit false, and both deny.
type rbacResponse struct {
	Allow *bool `json:"allow"`
}

type thresholdResponse struct {
	Allow            *bool  `json:"allow"`
	TenantValid      bool   `json:"tenant_valid"`
	RequiresApproval bool   `json:"requires_approval"`
	ApproverRole     string `json:"approver_role"`
}

// EvaluateRBAC answers plain allow/deny for an action+role+tenant
// triple. Any failure returns false with a wrapped ErrUnavailable.
func (c *Client) EvaluateRBAC(ctx context.Context, input *Input) (bool, error) {
	var resp rbacResponse
	if err := c.post(ctx, "rbac", rbacPath, input, &resp); err != nil {
		return false, err
	}
	if resp.Allow == nil {
		c.countError("parse")
		return false, fmt.Errorf("%w: response missing allow verdict", ErrUnavailable)
	}
	return *resp.Allow, nil
}

// EvaluateThreshold answers the richer verdict for operations carrying
// numeric attributes. Any failure returns a deny verdict with a
// wrapped ErrUnavailable.
func (c *Client) EvaluateThreshold(ctx context.Context, input *Input) (*Verdict, error) {
	var resp thresholdResponse
	if err := c.post(ctx, "threshold", thresholdPath, input, &resp); err != nil {
		return &Verdict{}, err
	}
	if resp.Allow == nil {
		c.countError("parse")
		return &Verdict{}, fmt.Errorf("%w: response missing allow verdict", ErrUnavailable)
	}
	return &Verdict{
		Allow:            *resp.Allow,
		TenantValid:      resp.TenantValid,
		RequiresApproval: resp.RequiresApproval,
		ApproverRole:     resp.ApproverRole,
	}, nil
}

// Authorize runs the combined decision: RBAC first, and only when RBAC
// allows and the input carries operation attributes, the threshold
// endpoint. An RBAC deny returns immediately without a threshold call,
// so the denial reason stays unambiguous.
func (c *Client) Authorize(ctx context.Context, input *Input) (*Verdict, error) {
	allowed, err := c.EvaluateRBAC(ctx, input)
	if err != nil {
		return &Verdict{}, err
	}
	if !allowed {
		v := &Verdict{TenantValid: true}
		c.countDecision(v)
		return v, nil
	}

	if input.Operation != nil {
		v, err := c.EvaluateThreshold(ctx, input)
		if err != nil {
			return v, err
		}
		c.countDecision(v)
		return v, nil
	}

	v := &Verdict{Allow: true, TenantValid: true}
	c.countDecision(v)
	return v, nil
}

func (c *Client) post(ctx context.Context, endpoint, path string, input *Input, out interface{}) error {
	start := time.Now()
	defer func() {
		if c.metrics != nil {
			c.metrics.PolicyClientDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		}
	}()

	body, err := json.Marshal(input)
	if err != nil {
		c.countError("parse")
		return fmt.Errorf("%w: failed to encode input: %v", ErrUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		c.countError("transport")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			c.countError("timeout")
		} else {
			c.countError("transport")
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.countError("status")
		return fmt.Errorf("%w: engine returned status %d", ErrUnavailable, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.countError("transport")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		c.countError("parse")
		return fmt.Errorf("%w: failed to decode verdict: %v", ErrUnavailable, err)
	}
	return nil
}

func (c *Client) countError(kind string) {
	if c.metrics != nil {
		c.metrics.PolicyClientErrors.WithLabelValues(kind).Inc()
	}
}

func (c *Client) countDecision(v *Verdict) {
	if c.metrics != nil {
		c.metrics.PolicyDecisionsTotal.WithLabelValues(v.Outcome()).Inc()
	}
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
