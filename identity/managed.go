package identity

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/cloudward/azkit-go/pipeline"
)

// managedIdentityEnv captures the hosting environment's identity
// contract. Which variables are present decides the acquisition
// strategy.
type managedIdentityEnv struct {
	// MSIEndpoint is the local token endpoint. ENV: MSI_ENDPOINT
	MSIEndpoint string `env:"MSI_ENDPOINT"`
	// MSISecret authenticates to the App Service endpoint. ENV: MSI_SECRET
	MSISecret string `env:"MSI_SECRET"`
	// AppServiceSite is set by App Service hosting. ENV: APPSETTING_WEBSITE_SITE_NAME
	AppServiceSite string `env:"APPSETTING_WEBSITE_SITE_NAME"`
}

// ManagedIdentityCredentialOptions configures a
// ManagedIdentityCredential.
type ManagedIdentityCredentialOptions struct {
	// ClientID selects a user-assigned identity. Empty selects the
	// system-assigned identity.
	ClientID   string
	HTTPClient *http.Client
	Cache      TokenCache
	LogHandler slog.Handler
	// IMDSEndpoint overrides the instance metadata endpoint. Intended
	// for tests.
	IMDSEndpoint string
}

// msiClient is one acquisition strategy against a platform identity
// endpoint.
type msiClient interface {
	acquire(ctx context.Context, resource string) (pipeline.AccessToken, error)
	name() string
}

// ManagedIdentityCredential obtains tokens from the hosting platform's
// identity endpoint: the App Service MSI endpoint when MSI_ENDPOINT and
// MSI_SECRET are set, the Cloud Shell endpoint when only MSI_ENDPOINT is
// set, and otherwise IMDS. When no endpoint exists in this environment
// the credential reports CredentialUnavailableError so chains can skip
// it.
type ManagedIdentityCredential struct {
	client     msiClient
	refreshers *refresherSet
	logger     *slog.Logger
}

func NewManagedIdentityCredential(opts *ManagedIdentityCredentialOptions) (*ManagedIdentityCredential, error) {
	if opts == nil {
		opts = &ManagedIdentityCredentialOptions{}
	}
	logger := newCredentialLogger(opts.LogHandler)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var env managedIdentityEnv
	_ = envdecode.Decode(&env)

	var client msiClient
	switch {
	case env.MSIEndpoint != "" && env.MSISecret != "":
		client = &appServiceClient{
			endpoint:   env.MSIEndpoint,
			secret:     env.MSISecret,
			clientID:   opts.ClientID,
			httpClient: httpClient,
			now:        time.Now,
		}
	case env.MSIEndpoint != "":
		client = &cloudShellClient{
			endpoint:   env.MSIEndpoint,
			clientID:   opts.ClientID,
			httpClient: httpClient,
			now:        time.Now,
		}
	default:
		client = newIMDSClient(httpClient, opts.IMDSEndpoint, opts.ClientID, logger)
	}

	logger.LogAttrs(context.Background(), slog.LevelDebug, "managed identity source selected",
		slog.String("source", client.name()))

	return &ManagedIdentityCredential{
		client:     client,
		refreshers: newRefresherSet(logger, opts.Cache, cacheKey("managed_identity", client.name(), opts.ClientID)),
		logger:     logger,
	}, nil
}

// GetToken implements pipeline.TokenCredential.
func (c *ManagedIdentityCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	resource, err := resolveResource(opts)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	return c.refreshers.forResource(resource).get(ctx, func(ctx context.Context) (pipeline.AccessToken, error) {
		return c.client.acquire(ctx, resource)
	})
}

func (c *ManagedIdentityCredential) Close() error { return nil }

var _ pipeline.TokenCredential = (*ManagedIdentityCredential)(nil)

// appServiceClient implements the 2017-09-01 App Service protocol, also
// used by Azure ML hosting: GET with the shared secret in a header.
type appServiceClient struct {
	endpoint   string
	secret     string
	clientID   string
	httpClient *http.Client
	now        func() time.Time
}

func (c *appServiceClient) name() string { return "app_service" }

func (c *appServiceClient) acquire(ctx context.Context, resource string) (pipeline.AccessToken, error) {
	q := url.Values{
		"api-version": {"2017-09-01"},
		"resource":    {resource},
	}
	if c.clientID != "" {
		q.Set("clientid", c.clientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	req.Header.Set("secret", c.secret)
	return roundTripToken(c.httpClient, req, c.now)
}

// cloudShellClient implements the Cloud Shell protocol: a form POST with
// the Metadata header.
type cloudShellClient struct {
	endpoint   string
	clientID   string
	httpClient *http.Client
	now        func() time.Time
}

func (c *cloudShellClient) name() string { return "cloud_shell" }

func (c *cloudShellClient) acquire(ctx context.Context, resource string) (pipeline.AccessToken, error) {
	form := url.Values{"resource": {resource}}
	if c.clientID != "" {
		form.Set("client_id", c.clientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Metadata", "true")
	return roundTripToken(c.httpClient, req, c.now)
}

// roundTripToken sends a prepared identity endpoint request and parses
// the token response.
func roundTripToken(client *http.Client, req *http.Request, now func() time.Time) (pipeline.AccessToken, error) {
	resp, err := client.Do(req)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, resp.StatusCode, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.AccessToken{}, &statusError{StatusCode: resp.StatusCode, Body: body}
	}
	token, err := parseTokenResponse(body, now)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, resp.StatusCode, body)
	}
	return token, nil
}

// statusError is a non-2xx identity endpoint response, kept typed so the
// IMDS retry classifier can decide per status.
type statusError struct {
	StatusCode int
	Body       []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("identity endpoint returned status %d", e.StatusCode)
}
