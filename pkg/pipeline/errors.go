package pipeline

import "errors"

// Pipeline failure taxonomy. All are raised before the business handler
// runs and must not be caught or suppressed by handlers.
var (
	// ErrMissingTenant: no tenant identifier on a non-public route.
	ErrMissingTenant = errors.New("missing tenant identifier")

	// ErrInvalidTenant: tenant identifier present but malformed.
	ErrInvalidTenant = errors.New("invalid tenant identifier")

	// ErrAccessDenied: the access resolver did not grant the pair.
	ErrAccessDenied = errors.New("not a member of this tenant")

	// ErrPolicyDenied: the policy engine denied the action outright.
	ErrPolicyDenied = errors.New("action not permitted")

	// ErrUnclassifiable: the operation could not be classified and is
	// denied by default rather than waved through.
	ErrUnclassifiable = errors.New("unclassifiable operation")
)
