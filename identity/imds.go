package identity

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cloudward/azkit-go/internal/backoff"
	"github.com/cloudward/azkit-go/pipeline"
)

const (
	// defaultIMDSEndpoint is the well-known instance metadata token
	// endpoint reachable from compute instances.
	defaultIMDSEndpoint = "http://169.254.169.254/metadata/identity/oauth2/token"
	imdsAPIVersion      = "2018-02-01"

	// imdsProbeTimeout bounds the first-use reachability probe. Off
	// Azure the address does not route, so the probe fails fast.
	imdsProbeTimeout = time.Second

	// imds410Window is how long 410 responses are retried. The metadata
	// service returns 410 while the endpoint is upgrading and documents
	// that clients should keep trying for up to 70 seconds.
	imds410Window = 70 * time.Second
)

// imdsClient acquires tokens from IMDS with exponential backoff over the
// transient statuses the service is known to return during platform
// maintenance (404, 410, 429, 5xx).
type imdsClient struct {
	endpoint   string
	clientID   string
	httpClient *http.Client
	executor   *backoff.Executor
	logger     *slog.Logger

	probeOnce sync.Once
	probeErr  error
}

func newIMDSClient(httpClient *http.Client, endpoint, clientID string, logger *slog.Logger) *imdsClient {
	if endpoint == "" {
		endpoint = defaultIMDSEndpoint
	}
	return &imdsClient{
		endpoint:   endpoint,
		clientID:   clientID,
		httpClient: httpClient,
		logger:     logger,
		executor: &backoff.Executor{
			MaxAttempts: 5,
			BaseDelay:   time.Second,
			MaxDelay:    16 * time.Second,
			Classify:    classifyIMDSError,
		},
	}
}

func (c *imdsClient) name() string { return "imds" }

func classifyIMDSError(err error) backoff.Decision {
	var se *statusError
	if !errors.As(err, &se) {
		// Connection-level failures during maintenance look like
		// timeouts; retry them within the attempt budget.
		return backoff.Decision{Retry: true}
	}
	switch {
	case se.StatusCode == http.StatusGone:
		return backoff.Decision{Retry: true, MinWindow: imds410Window}
	case se.StatusCode == http.StatusNotFound,
		se.StatusCode == http.StatusTooManyRequests,
		se.StatusCode >= 500:
		return backoff.Decision{Retry: true}
	default:
		return backoff.Decision{Retry: false}
	}
}

// probe checks reachability once per client. A connection error means
// there is no IMDS in this environment, which is a "skip this
// credential" signal rather than an authentication failure.
func (c *imdsClient) probe(ctx context.Context) error {
	c.probeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(ctx, imdsProbeTimeout)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint, nil)
		if err != nil {
			c.probeErr = err
			return
		}
		// No Metadata header: IMDS rejects the request quickly, which is
		// all the probe needs to prove reachability.
		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.probeErr = newCredentialUnavailableError("ManagedIdentityCredential",
				"IMDS endpoint unreachable: "+err.Error())
			return
		}
		resp.Body.Close()
	})
	return c.probeErr
}

func (c *imdsClient) acquire(ctx context.Context, resource string) (pipeline.AccessToken, error) {
	if err := c.probe(ctx); err != nil {
		return pipeline.AccessToken{}, err
	}

	token, err := backoff.Do(ctx, c.executor, func(ctx context.Context) (pipeline.AccessToken, error) {
		return c.request(ctx, resource)
	})
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			if se.StatusCode == http.StatusBadRequest {
				// IMDS answers 400 when the instance has no identity
				// assigned at all.
				return pipeline.AccessToken{}, newCredentialUnavailableError("ManagedIdentityCredential",
					"IMDS reports no identity is assigned to this instance")
			}
			return pipeline.AccessToken{}, newAuthenticationFailedError(err, se.StatusCode, se.Body)
		}
		return pipeline.AccessToken{}, err
	}
	return token, nil
}

func (c *imdsClient) request(ctx context.Context, resource string) (pipeline.AccessToken, error) {
	q := url.Values{
		"api-version": {imdsAPIVersion},
		"resource":    {resource},
	}
	if c.clientID != "" {
		q.Set("client_id", c.clientID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	req.Header.Set("Metadata", "true")
	return roundTripToken(c.httpClient, req, time.Now)
}
