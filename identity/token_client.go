package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/cloudward/azkit-go/pipeline"
)

// tokenClient talks to an OAuth token endpoint discovered from the
// authority's OIDC metadata. One instance is shared by all grants of a
// credential.
type tokenClient struct {
	httpClient    *http.Client
	authorityHost string
	tenantID      string

	mu sync.Mutex
	// pinned, when set, bypasses discovery for every tenant.
	pinned    string
	endpoints map[string]string

	now func() time.Time
}

func newTokenClient(httpClient *http.Client, authorityHost, tenantID string) *tokenClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if authorityHost == "" {
		authorityHost = defaultAuthorityHost
	}
	return &tokenClient{
		httpClient:    httpClient,
		authorityHost: authorityHost,
		tenantID:      tenantID,
		endpoints:     make(map[string]string),
		now:           time.Now,
	}
}

// resolveTenant applies a per-request tenant override.
func (c *tokenClient) resolveTenant(override string) string {
	if override != "" {
		return override
	}
	return c.tenantID
}

// issuer builds the authority's v2 issuer URL for a tenant.
func (c *tokenClient) issuer(tenant string) string {
	host := strings.TrimSuffix(c.authorityHost, "/")
	return host + "/" + tenant + "/v2.0"
}

// endpoint resolves the token endpoint via OIDC discovery, once per
// tenant.
func (c *tokenClient) endpoint(ctx context.Context, tenant string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pinned != "" {
		return c.pinned, nil
	}
	if ep, ok := c.endpoints[tenant]; ok {
		return ep, nil
	}

	ctx = oidc.ClientContext(ctx, c.httpClient)
	provider, err := oidc.NewProvider(ctx, c.issuer(tenant))
	if err != nil {
		return "", fmt.Errorf("authority discovery failed: %w", err)
	}
	var meta struct {
		TokenEndpoint string `json:"token_endpoint"`
	}
	if err := provider.Claims(&meta); err != nil {
		return "", fmt.Errorf("invalid authority metadata: %w", err)
	}
	if meta.TokenEndpoint == "" {
		return "", fmt.Errorf("authority metadata for %s has no token endpoint", c.issuer(tenant))
	}
	c.endpoints[tenant] = meta.TokenEndpoint
	return meta.TokenEndpoint, nil
}

// setEndpoint pins the token endpoint for all tenants, bypassing
// discovery.
func (c *tokenClient) setEndpoint(endpoint string) {
	c.mu.Lock()
	c.pinned = endpoint
	c.mu.Unlock()
}

// requestToken POSTs an urlencoded grant to the tenant's token endpoint
// and parses the provider response. An empty tenant uses the client's
// configured tenant.
func (c *tokenClient) requestToken(ctx context.Context, tenant string, form url.Values) (pipeline.AccessToken, error) {
	endpoint, err := c.endpoint(ctx, c.resolveTenant(tenant))
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, 0, nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, 0, nil)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, 0, nil)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, resp.StatusCode, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.AccessToken{}, newAuthenticationFailedError(
			fmt.Errorf("token endpoint returned %s", resp.Status), resp.StatusCode, body)
	}

	token, err := parseTokenResponse(body, c.now)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, resp.StatusCode, body)
	}
	return token, nil
}
