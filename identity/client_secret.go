package identity

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cloudward/azkit-go/pipeline"
)

// ClientSecretCredentialOptions configures a ClientSecretCredential.
type ClientSecretCredentialOptions struct {
	// AuthorityHost overrides the public cloud authority.
	AuthorityHost string
	// TokenEndpoint pins the token endpoint, bypassing OIDC discovery.
	TokenEndpoint string
	// HTTPClient overrides the client used for token requests.
	HTTPClient *http.Client
	// Cache is an optional shared token cache.
	Cache TokenCache
	// LogHandler receives credential logs. If nil, logging is discarded.
	LogHandler slog.Handler
}

// ClientSecretCredential authenticates an application with a client
// secret via the client_credentials grant.
type ClientSecretCredential struct {
	client     *tokenClient
	clientID   string
	secret     string
	refreshers *refresherSet
}

func NewClientSecretCredential(tenantID, clientID, secret string, opts *ClientSecretCredentialOptions) (*ClientSecretCredential, error) {
	if opts == nil {
		opts = &ClientSecretCredentialOptions{}
	}
	logger := newCredentialLogger(opts.LogHandler)
	client := newTokenClient(opts.HTTPClient, opts.AuthorityHost, tenantID)
	if opts.TokenEndpoint != "" {
		client.setEndpoint(opts.TokenEndpoint)
	}
	return &ClientSecretCredential{
		client:     client,
		clientID:   clientID,
		secret:     secret,
		refreshers: newRefresherSet(logger, opts.Cache, cacheKey("client_secret", tenantID, clientID)),
	}, nil
}

// GetToken implements pipeline.TokenCredential.
func (c *ClientSecretCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	resource, err := resolveResource(opts)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	scope := opts.Scopes[0]
	return c.refreshers.forResource(tenantEntry(opts.TenantID, resource)).get(ctx, func(ctx context.Context) (pipeline.AccessToken, error) {
		return c.client.requestToken(ctx, opts.TenantID, url.Values{
			"grant_type":    {"client_credentials"},
			"client_id":     {c.clientID},
			"client_secret": {c.secret},
			"scope":         {scope},
		})
	})
}

// Close releases resources owned by the credential. The shared cache, if
// any, belongs to the caller and is left open.
func (c *ClientSecretCredential) Close() error { return nil }

var _ pipeline.TokenCredential = (*ClientSecretCredential)(nil)

func newCredentialLogger(h slog.Handler) *slog.Logger {
	if h == nil {
		h = slog.NewTextHandler(io.Discard, nil)
	}
	return slog.New(h)
}
