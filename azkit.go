// Package azkit assembles the HTTP policy pipeline and credential
// machinery into a ready-to-use client core. Service clients wrap a
// Client, give it their base headers and scopes, and get the full
// cross-cutting behavior: request ids, user agent, logging with
// redaction, proxy injection, bearer authentication and typed body
// decoding.
package azkit

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/cloudward/azkit-go/pipeline"
)

// Version of this module, reported in the User-Agent header.
const Version = "0.3.0"

// moniker identifies the core component in composed user agents.
const moniker = "azkit/" + Version

// ClientOptions configures a Client and the pipeline behind it.
type ClientOptions struct {
	// Credential enables bearer authentication when set.
	Credential pipeline.TokenCredential
	// Scopes requested from the credential. Required with Credential.
	Scopes []string
	// AllowInsecureAuth permits bearer tokens over plain HTTP, for
	// localhost testing.
	AllowInsecureAuth bool

	// BaseHeaders are applied to every request.
	BaseHeaders map[string]string
	// ApplicationID is prepended to the computed User-Agent.
	ApplicationID string
	// RequestID fixes the client request id; leave empty for per-call
	// UUIDs.
	RequestID string
	// DisableAutoRequestID turns off UUID generation.
	DisableAutoRequestID bool
	// Proxies maps URL scheme to proxy URL for every call.
	Proxies map[string]*url.URL

	// LogHandler receives pipeline logs. If nil, logging is discarded.
	LogHandler slog.Handler
	// NetworkTraceEnable turns on full request/response tracing at
	// debug level.
	NetworkTraceEnable bool

	// HTTPClient overrides the transport's client.
	HTTPClient *http.Client
}

// NewPipeline builds the default policy chain in its fixed order:
// request id, base headers, user agent, proxy injection, bearer
// authentication, redacted HTTP logging, network tracing, and body
// decoding around the transport.
func NewPipeline(opts ClientOptions) pipeline.Pipeline {
	policies := []pipeline.Policy{
		pipeline.NewRequestIDPolicyWithOptions(pipeline.RequestIDPolicyOptions{
			RequestID:     opts.RequestID,
			AutoRequestID: !opts.DisableAutoRequestID,
		}),
		pipeline.NewHeadersPolicy(opts.BaseHeaders),
		pipeline.NewUserAgentPolicy(pipeline.UserAgentPolicyOptions{
			SDKMoniker:    moniker,
			ApplicationID: opts.ApplicationID,
		}),
		pipeline.NewProxyPolicy(opts.Proxies),
	}
	if opts.Credential != nil {
		policies = append(policies, pipeline.NewBearerTokenAuthPolicy(
			opts.Credential, opts.Scopes,
			pipeline.BearerTokenAuthPolicyOptions{AllowInsecure: opts.AllowInsecureAuth},
		))
	}
	policies = append(policies,
		pipeline.NewHTTPLoggingPolicy(pipeline.HTTPLoggingPolicyOptions{
			LogHandler: opts.LogHandler,
		}),
		pipeline.NewNetworkTraceLoggingPolicy(pipeline.NetworkTraceLoggingPolicyOptions{
			LogHandler:    opts.LogHandler,
			LoggingEnable: opts.NetworkTraceEnable,
		}),
		pipeline.NewContentDecodePolicy(),
	)
	return pipeline.New(pipeline.NewTransport(opts.HTTPClient), policies...)
}

// Client executes requests through the assembled pipeline.
type Client struct {
	pl pipeline.Pipeline
}

// NewClient builds a Client from options.
func NewClient(opts ClientOptions) *Client {
	return &Client{pl: NewPipeline(opts)}
}

// Do runs one request through the pipeline. opts may be nil.
func (c *Client) Do(req *http.Request, opts *pipeline.CallOptions) (*pipeline.Response, error) {
	return c.pl.Do(pipeline.NewRequest(req, opts))
}
