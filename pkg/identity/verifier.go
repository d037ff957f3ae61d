// Package identity verifies the caller's bearer credential and yields
// the platform subject: a user ID plus the role set declared by the
// token. How the credential is minted is out of scope; the pipeline
// only consumes the verified subject.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any credential that does not verify.
var ErrInvalidToken = errors.New("identity: invalid token")

// Identity is the verified subject of a request.
type Identity struct {
	UserID        uuid.UUID
	Email         string
	DeclaredRoles []string
}

// Verifier verifies a raw bearer token. Implementations must be safe
// for concurrent use.
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// OIDCVerifier verifies ID tokens against a discovered OIDC issuer.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// OIDCConfig configures issuer discovery.
type OIDCConfig struct {
	IssuerURL string
	ClientID  string
}

// NewOIDCVerifier discovers the issuer and builds a verifier for its
// signing keys.
func NewOIDCVerifier(ctx context.Context, cfg OIDCConfig) (*OIDCVerifier, error) {
	if cfg.IssuerURL == "" {
		return nil, fmt.Errorf("identity: issuer URL is required")
	}
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("identity: failed to discover OIDC provider: %w", err)
	}
	return &OIDCVerifier{
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

type tokenClaims struct {
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// Verify checks the token signature, issuer, audience and expiry, then
// maps the subject claim to the platform user ID.
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(idToken.Subject)
	if err != nil {
		return nil, fmt.Errorf("%w: subject is not a valid user ID", ErrInvalidToken)
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims", ErrInvalidToken)
	}

	return &Identity{
		UserID:        userID,
		Email:         claims.Email,
		DeclaredRoles: claims.Roles,
	}, nil
}

// StaticVerifier resolves tokens from a fixed map. Used in tests and
// local development; never in production wiring.
type StaticVerifier struct {
	tokens map[string]*Identity
}

// NewStaticVerifier creates a verifier over the given token map.
func NewStaticVerifier(tokens map[string]*Identity) *StaticVerifier {
	return &StaticVerifier{tokens: tokens}
}

// Verify looks the token up.
func (v *StaticVerifier) Verify(_ context.Context, rawToken string) (*Identity, error) {
	id, ok := v.tokens[rawToken]
	if !ok {
		return nil, ErrInvalidToken
	}
	return id, nil
}
