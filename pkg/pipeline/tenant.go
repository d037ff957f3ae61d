package pipeline

import (
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TenantHeader carries the tenant identifier on inbound requests. The
// hostname's first label is the fallback for white-labeled domains.
const TenantHeader = "X-Tenant-ID"

// extractTenant resolves the declared tenant for a request. It returns
// ErrMissingTenant when neither header nor hostname declares one, and
// ErrInvalidTenant when a declared value does not parse.
func extractTenant(r *http.Request) (uuid.UUID, error) {
	if raw := r.Header.Get(TenantHeader); raw != "" {
		tenantID, err := uuid.Parse(raw)
		if err != nil {
			return uuid.Nil, ErrInvalidTenant
		}
		return tenantID, nil
	}

	host := r.Host
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	label, rest, found := strings.Cut(host, ".")
	if !found || label == "" || rest == "" {
		return uuid.Nil, ErrMissingTenant
	}
	tenantID, err := uuid.Parse(label)
	if err != nil {
		return uuid.Nil, ErrInvalidTenant
	}
	return tenantID, nil
}
