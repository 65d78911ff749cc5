package identity

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cloudward/azkit-go/pipeline"
)

// UsernamePasswordCredentialOptions configures a
// UsernamePasswordCredential.
type UsernamePasswordCredentialOptions struct {
	AuthorityHost string
	TokenEndpoint string
	HTTPClient    *http.Client
	Cache         TokenCache
	LogHandler    slog.Handler
}

// UsernamePasswordCredential authenticates a user with a username and
// password via the resource owner password grant. The flow cannot
// satisfy multi-factor requirements; prefer another credential whenever
// one is available.
type UsernamePasswordCredential struct {
	client     *tokenClient
	clientID   string
	username   string
	password   string
	refreshers *refresherSet
}

func NewUsernamePasswordCredential(tenantID, clientID, username, password string, opts *UsernamePasswordCredentialOptions) (*UsernamePasswordCredential, error) {
	if opts == nil {
		opts = &UsernamePasswordCredentialOptions{}
	}
	logger := newCredentialLogger(opts.LogHandler)
	client := newTokenClient(opts.HTTPClient, opts.AuthorityHost, tenantID)
	if opts.TokenEndpoint != "" {
		client.setEndpoint(opts.TokenEndpoint)
	}
	return &UsernamePasswordCredential{
		client:     client,
		clientID:   clientID,
		username:   username,
		password:   password,
		refreshers: newRefresherSet(logger, opts.Cache, cacheKey("username_password", tenantID, clientID, username)),
	}, nil
}

// GetToken implements pipeline.TokenCredential.
func (c *UsernamePasswordCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	resource, err := resolveResource(opts)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	scope := opts.Scopes[0]
	return c.refreshers.forResource(tenantEntry(opts.TenantID, resource)).get(ctx, func(ctx context.Context) (pipeline.AccessToken, error) {
		return c.client.requestToken(ctx, opts.TenantID, url.Values{
			"grant_type": {"password"},
			"client_id":  {c.clientID},
			"username":   {c.username},
			"password":   {c.password},
			"scope":      {scope},
		})
	})
}

func (c *UsernamePasswordCredential) Close() error { return nil }

var _ pipeline.TokenCredential = (*UsernamePasswordCredential)(nil)
