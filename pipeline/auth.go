package pipeline

import (
	"context"
	"time"
)

// AccessToken is the immutable {token, expiry} pair produced by a
// credential. It is replaced, never mutated, on refresh.
type AccessToken struct {
	Token     string
	ExpiresOn time.Time
}

// TokenRequestOptions carries the parameters of a token request.
type TokenRequestOptions struct {
	// Scopes the token should grant. Exactly one scope is required; a
	// trailing "/.default" suffix is stripped when the flow needs a
	// resource rather than a scope.
	Scopes []string

	// TenantID optionally overrides the credential's configured tenant.
	// Honored by the confidential client flows; platform credentials
	// (managed identity, on-behalf-of) have no tenant to switch and
	// ignore it.
	TenantID string
}

// TokenCredential produces bearer tokens. Implementations cache and
// refresh internally; GetToken is the only suspension point in the
// pipeline besides the transport send.
type TokenCredential interface {
	GetToken(ctx context.Context, opts TokenRequestOptions) (AccessToken, error)
}
