package pipeline

import (
	"context"
	"net/http"
	"net/url"
)

// CallOptions is the typed per-call override bag. Each field is consumed
// by exactly one policy; consuming policies clear the field they took so
// the first consumer in registration order wins.
type CallOptions struct {
	// Headers are merged over the configured base headers. Per-call
	// values win on key collision.
	Headers map[string]string

	// UserAgent is prepended to the computed User-Agent, or replaces it
	// wholesale when UserAgentOverwrite is set.
	UserAgent          string
	UserAgentOverwrite bool

	// LoggingEnable toggles network trace logging for this call.
	LoggingEnable *bool

	// ResponseEncoding overrides the charset used when decoding the
	// response body.
	ResponseEncoding string

	// Proxies maps URL scheme to proxy URL for this call.
	Proxies map[string]*url.URL

	// RequestID overrides the client request id. A nil pointer means
	// unset; a pointer to the empty string suppresses the header.
	RequestID *string

	// Stream indicates the caller will consume the raw body; the decode
	// policy skips the call entirely.
	Stream bool
}

func (o *CallOptions) takeHeaders() map[string]string {
	h := o.Headers
	o.Headers = nil
	return h
}

func (o *CallOptions) takeUserAgent() (string, bool) {
	ua, ow := o.UserAgent, o.UserAgentOverwrite
	o.UserAgent, o.UserAgentOverwrite = "", false
	return ua, ow
}

func (o *CallOptions) takeLoggingEnable() *bool {
	v := o.LoggingEnable
	o.LoggingEnable = nil
	return v
}

func (o *CallOptions) takeResponseEncoding() string {
	v := o.ResponseEncoding
	o.ResponseEncoding = ""
	return v
}

func (o *CallOptions) takeProxies() map[string]*url.URL {
	v := o.Proxies
	o.Proxies = nil
	return v
}

func (o *CallOptions) takeRequestID() (string, bool) {
	if o.RequestID == nil {
		return "", false
	}
	v := *o.RequestID
	o.RequestID = nil
	return v, true
}

// Request is the mutable envelope for one in-flight call. It is owned
// exclusively by that call and must not be shared.
type Request struct {
	Raw     *http.Request
	Options *CallOptions

	values map[string]any
}

// NewRequest wraps a raw request. A nil opts is replaced with an empty
// CallOptions so policies never nil-check it.
func NewRequest(raw *http.Request, opts *CallOptions) *Request {
	if opts == nil {
		opts = &CallOptions{}
	}
	return &Request{Raw: raw, Options: opts, values: make(map[string]any)}
}

// SetValue stores per-call scratch state visible to later policies and to
// the inbound pass.
func (r *Request) SetValue(key string, v any) {
	r.values[key] = v
}

// Value reads per-call scratch state.
func (r *Request) Value(key string) (any, bool) {
	v, ok := r.values[key]
	return v, ok
}

func (r *Request) Context() context.Context {
	return r.Raw.Context()
}
