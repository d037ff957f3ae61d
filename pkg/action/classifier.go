// Package action maps inbound HTTP operations to the canonical
// "resource:action" strings the policy engine evaluates.
package action

import (
	"net/http"
	"strings"
)

// Unknown is the sentinel for paths that cannot be classified. The
// pipeline treats it as non-public: denied by default, never waved
// through.
const Unknown = "unknown:unknown"

// verbSuffixes are path tails that name the action directly, overriding
// the REST-convention fallback. "POST /rentals/42/close" is
// "rental:close", not "rental:create".
var verbSuffixes = map[string]bool{
	"activate":   true,
	"deactivate": true,
	"approve":    true,
	"reject":     true,
	"close":      true,
	"cancel":     true,
	"aplicar":    true,
	"transfer":   true,
}

// Classifier turns (method, path) into a "resource:action" string.
type Classifier struct {
	// Prefixes stripped before the first segment is read as the
	// resource name, e.g. "/api/v1".
	mountPrefixes []string
}

// NewClassifier creates a classifier that strips the given mount
// prefixes.
func NewClassifier(mountPrefixes ...string) *Classifier {
	return &Classifier{mountPrefixes: mountPrefixes}
}

// Classify returns the canonical "resource:action" for the operation,
// or Unknown when the path yields no resource.
func (c *Classifier) Classify(method, path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range c.mountPrefixes {
		if strings.HasPrefix(path, prefix) {
			path = strings.TrimPrefix(path, prefix)
			break
		}
	}
	path = strings.Trim(path, "/")
	if path == "" {
		return Unknown
	}

	segments := strings.Split(path, "/")
	resource := singularize(strings.ToLower(segments[0]))
	if resource == "" {
		return Unknown
	}

	last := strings.ToLower(segments[len(segments)-1])
	if len(segments) > 1 && verbSuffixes[last] {
		return resource + ":" + last
	}

	return resource + ":" + restAction(method, len(segments))
}

// restAction maps an HTTP method to the conventional action. A
// single-segment path is collection-shaped; anything longer is
// item-shaped.
func restAction(method string, segments int) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		if segments == 1 {
			return "list"
		}
		return "view"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// singularize strips a trailing plural "s". A deliberate heuristic, not
// an inflector: resource names in the route table are chosen to survive
// it.
func singularize(resource string) string {
	if len(resource) > 1 && strings.HasSuffix(resource, "s") {
		return resource[:len(resource)-1]
	}
	return resource
}
