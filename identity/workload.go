package identity

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/joeshaw/envdecode"

	"github.com/cloudward/azkit-go/pipeline"
)

// workloadEnv is the workload identity environment contract injected by
// the platform webhook.
type workloadEnv struct {
	// TokenFile holds the federated assertion. ENV: AZURE_FEDERATED_TOKEN_FILE
	TokenFile string `env:"AZURE_FEDERATED_TOKEN_FILE"`
	// ClientID of the federated application. ENV: AZURE_CLIENT_ID
	ClientID string `env:"AZURE_CLIENT_ID"`
	// TenantID of the federated application. ENV: AZURE_TENANT_ID
	TenantID string `env:"AZURE_TENANT_ID"`
	// AuthorityHost overrides the public authority. ENV: AZURE_AUTHORITY_HOST
	AuthorityHost string `env:"AZURE_AUTHORITY_HOST"`
}

// WorkloadIdentityCredentialOptions configures a
// WorkloadIdentityCredential. Zero values fall back to the environment
// contract.
type WorkloadIdentityCredentialOptions struct {
	TokenFilePath string
	ClientID      string
	TenantID      string
	AuthorityHost string
	TokenEndpoint string
	HTTPClient    *http.Client
	Cache         TokenCache
	LogHandler    slog.Handler
}

// WorkloadIdentityCredential exchanges a platform-projected federated
// token file for an access token via the client assertion grant. The
// platform rotates the file periodically; a watcher reloads the
// assertion when the file changes so long-lived processes never present
// a stale assertion.
type WorkloadIdentityCredential struct {
	client     *tokenClient
	clientID   string
	tokenFile  string
	refreshers *refresherSet
	logger     *slog.Logger

	mu        sync.RWMutex
	assertion string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

func NewWorkloadIdentityCredential(opts *WorkloadIdentityCredentialOptions) (*WorkloadIdentityCredential, error) {
	if opts == nil {
		opts = &WorkloadIdentityCredentialOptions{}
	}
	var env workloadEnv
	_ = envdecode.Decode(&env)

	tokenFile := firstNonEmpty(opts.TokenFilePath, env.TokenFile)
	clientID := firstNonEmpty(opts.ClientID, env.ClientID)
	tenantID := firstNonEmpty(opts.TenantID, env.TenantID)
	authority := firstNonEmpty(opts.AuthorityHost, env.AuthorityHost)

	if tokenFile == "" || clientID == "" || tenantID == "" {
		return nil, newCredentialUnavailableError("WorkloadIdentityCredential",
			"AZURE_FEDERATED_TOKEN_FILE, AZURE_CLIENT_ID and AZURE_TENANT_ID must all be configured")
	}

	logger := newCredentialLogger(opts.LogHandler)
	client := newTokenClient(opts.HTTPClient, authority, tenantID)
	if opts.TokenEndpoint != "" {
		client.setEndpoint(opts.TokenEndpoint)
	}

	c := &WorkloadIdentityCredential{
		client:     client,
		clientID:   clientID,
		tokenFile:  tokenFile,
		refreshers: newRefresherSet(logger, opts.Cache, cacheKey("workload_identity", tenantID, clientID)),
		logger:     logger,
		done:       make(chan struct{}),
	}
	c.startWatcher()
	return c, nil
}

func (c *WorkloadIdentityCredential) startWatcher() {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Debug("assertion file watcher unavailable, falling back to per-read loads",
			slog.String("error", err.Error()))
		return
	}
	if err := w.Add(c.tokenFile); err != nil {
		c.logger.Debug("cannot watch assertion file",
			slog.String("path", c.tokenFile), slog.String("error", err.Error()))
		w.Close()
		return
	}
	c.watcher = w
	go func() {
		for {
			select {
			case <-c.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
					c.mu.Lock()
					c.assertion = ""
					c.mu.Unlock()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
}

// currentAssertion returns the cached file content, reloading after the
// watcher invalidated it (or on first use).
func (c *WorkloadIdentityCredential) currentAssertion() (string, error) {
	c.mu.RLock()
	a := c.assertion
	c.mu.RUnlock()
	if a != "" {
		return a, nil
	}

	data, err := os.ReadFile(c.tokenFile)
	if err != nil {
		return "", newCredentialUnavailableError("WorkloadIdentityCredential",
			"cannot read federated token file: "+err.Error())
	}
	c.mu.Lock()
	c.assertion = string(data)
	c.mu.Unlock()
	return string(data), nil
}

// GetToken implements pipeline.TokenCredential.
func (c *WorkloadIdentityCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	resource, err := resolveResource(opts)
	if err != nil {
		return pipeline.AccessToken{}, err
	}
	scope := opts.Scopes[0]
	return c.refreshers.forResource(tenantEntry(opts.TenantID, resource)).get(ctx, func(ctx context.Context) (pipeline.AccessToken, error) {
		assertion, err := c.currentAssertion()
		if err != nil {
			return pipeline.AccessToken{}, err
		}
		return c.client.requestToken(ctx, opts.TenantID, url.Values{
			"grant_type":            {"client_credentials"},
			"client_id":             {c.clientID},
			"client_assertion_type": {"urn:ietf:params:oauth:client-assertion-type:jwt-bearer"},
			"client_assertion":      {assertion},
			"scope":                 {scope},
		})
	})
}

// Close stops the assertion file watcher.
func (c *WorkloadIdentityCredential) Close() error {
	close(c.done)
	if c.watcher != nil {
		return c.watcher.Close()
	}
	return nil
}

var _ pipeline.TokenCredential = (*WorkloadIdentityCredential)(nil)

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
