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

// oboEnv is the environment contract of the on-behalf-of flow: compute
// jobs receive a job-scoped token exchange endpoint.
type oboEnv struct {
	// Endpoint of the job-scoped token exchange service. ENV: OBO_ENDPOINT
	Endpoint string `env:"OBO_ENDPOINT"`
}

// OnBehalfOfCredentialOptions configures an OnBehalfOfCredential.
type OnBehalfOfCredentialOptions struct {
	// Endpoint overrides OBO_ENDPOINT.
	Endpoint   string
	HTTPClient *http.Client
	Cache      TokenCache
	LogHandler slog.Handler
}

// OnBehalfOfCredential exchanges a compute job's identity for a token
// acting as the user who submitted the job. The exchange endpoint is
// provisioned into the job environment as OBO_ENDPOINT; when absent the
// credential reports itself unavailable so chains can move on.
type OnBehalfOfCredential struct {
	endpoint   string
	httpClient *http.Client
	refreshers *refresherSet
	now        func() time.Time
}

func NewOnBehalfOfCredential(opts *OnBehalfOfCredentialOptions) (*OnBehalfOfCredential, error) {
	if opts == nil {
		opts = &OnBehalfOfCredentialOptions{}
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		var env oboEnv
		_ = envdecode.Decode(&env)
		endpoint = env.Endpoint
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := newCredentialLogger(opts.LogHandler)
	return &OnBehalfOfCredential{
		endpoint:   endpoint,
		httpClient: httpClient,
		refreshers: newRefresherSet(logger, opts.Cache, cacheKey("obo", endpoint)),
		now:        time.Now,
	}, nil
}

// GetToken implements pipeline.TokenCredential.
func (c *OnBehalfOfCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	resource, err := resolveResource(opts)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	if c.endpoint == "" {
		return pipeline.AccessToken{}, newCredentialUnavailableError("OnBehalfOfCredential",
			"no OBO endpoint configured and OBO_ENDPOINT is not set")
	}
	return c.refreshers.forResource(resource).get(ctx, func(ctx context.Context) (pipeline.AccessToken, error) {
		return c.exchange(ctx, resource)
	})
}

func (c *OnBehalfOfCredential) exchange(ctx context.Context, resource string) (pipeline.AccessToken, error) {
	form := url.Values{"resource": {resource}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, resp.StatusCode, nil)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return pipeline.AccessToken{}, newAuthenticationFailedError(
			fmt.Errorf("token exchange returned %s", resp.Status), resp.StatusCode, body)
	}
	token, err := parseTokenResponse(body, c.now)
	if err != nil {
		return pipeline.AccessToken{}, newAuthenticationFailedError(err, resp.StatusCode, body)
	}
	return token, nil
}

func (c *OnBehalfOfCredential) Close() error { return nil }

var _ pipeline.TokenCredential = (*OnBehalfOfCredential)(nil)
