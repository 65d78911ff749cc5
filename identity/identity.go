// Package identity implements token credentials for the pipeline's
// bearer authentication policy: confidential client flows (client
// secret, username/password, on-behalf-of), platform managed identity
// with IMDS retry semantics, workload identity, and a chained credential
// that skips sources absent from the environment.
//
// Every credential caches tokens per resource and refreshes them through
// a coordinator that enforces a refresh offset and a retry cooldown, so
// a slow or failing identity endpoint is never hammered and a still
// valid token is never discarded because a proactive refresh failed.
package identity

import (
	"fmt"
	"strings"

	"github.com/cloudward/azkit-go/pipeline"
)

// defaultAuthorityHost is the public cloud authority.
const defaultAuthorityHost = "https://login.microsoftonline.com/"

// resolveResource validates the scope list and reduces the single scope
// to a v1 resource by stripping a trailing "/.default" suffix.
func resolveResource(opts pipeline.TokenRequestOptions) (string, error) {
	if len(opts.Scopes) != 1 {
		return "", fmt.Errorf("%w (got %d)", ErrScopeRequired, len(opts.Scopes))
	}
	scope := opts.Scopes[0]
	if scope == "" {
		return "", fmt.Errorf("%w (got an empty scope)", ErrScopeRequired)
	}
	return strings.TrimSuffix(scope, "/.default"), nil
}

// cacheKey joins the identifying parts of a cached token entry.
func cacheKey(parts ...string) string {
	return strings.Join(parts, "|")
}

// tenantEntry keys a token entry by resource, qualified by the tenant
// when a per-request override is in play so tokens from different
// tenants never mix.
func tenantEntry(tenant, resource string) string {
	if tenant == "" {
		return resource
	}
	return cacheKey(tenant, resource)
}
