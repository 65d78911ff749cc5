package pipeline

import (
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/cloudward/azkit-go/internal/logctx"
)

// Redacted replaces every header and query parameter value that is not
// on the policy's allow-list.
const Redacted = "REDACTED"

// Default allow-lists match the cross-service conventions: identifiers
// and caching/conditional headers are safe, anything else may carry
// secrets and is redacted.
var defaultAllowedHeaders = []string{
	"accept",
	"cache-control",
	"connection",
	"content-length",
	"content-type",
	"date",
	"etag",
	"expires",
	"if-match",
	"if-modified-since",
	"if-none-match",
	"if-unmodified-since",
	"last-modified",
	"pragma",
	"request-id",
	"retry-after",
	"server",
	"traceparent",
	"transfer-encoding",
	"user-agent",
	"www-authenticate",
	RequestIDHeader,
	"x-ms-return-client-request-id",
}

var defaultAllowedQueryParams = []string{"api-version"}

// HTTPLoggingPolicyOptions configures an HTTPLoggingPolicy.
type HTTPLoggingPolicyOptions struct {
	// LogHandler receives the records. If nil, logging is discarded.
	LogHandler slog.Handler
	// AllowedHeaders extends the default header allow-list.
	AllowedHeaders []string
	// AllowedQueryParams extends the default query parameter allow-list.
	AllowedQueryParams []string
}

// HTTPLoggingPolicy emits one INFO record per request and one per
// response, redacting everything outside an allow-list. The allow-lists
// are lowercased once at construction, not per call.
type HTTPLoggingPolicy struct {
	logger         *slog.Logger
	allowedHeaders map[string]struct{}
	allowedParams  map[string]struct{}
}

func NewHTTPLoggingPolicy(opts HTTPLoggingPolicyOptions) *HTTPLoggingPolicy {
	h := opts.LogHandler
	if h == nil {
		h = slog.NewTextHandler(io.Discard, nil)
	}
	p := &HTTPLoggingPolicy{
		logger:         slog.New(logctx.Handler{Handler: h}),
		allowedHeaders: lowerSet(defaultAllowedHeaders, opts.AllowedHeaders),
		allowedParams:  lowerSet(defaultAllowedQueryParams, opts.AllowedQueryParams),
	}
	return p
}

func lowerSet(lists ...[]string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, list := range lists {
		for _, v := range list {
			set[strings.ToLower(v)] = struct{}{}
		}
	}
	return set
}

func (p *HTTPLoggingPolicy) OnRequest(req *Request) error {
	ctx := req.Context()
	if !p.logger.Enabled(ctx, slog.LevelInfo) {
		return nil
	}
	p.logger.LogAttrs(ctx, slog.LevelInfo, "request",
		slog.String("method", req.Raw.Method),
		slog.String("url", p.redactedURL(req.Raw.URL)),
		slog.Any("headers", p.redactedHeaders(req.Raw.Header)),
	)
	return nil
}

func (p *HTTPLoggingPolicy) OnResponse(req *Request, resp *Response) error {
	ctx := req.Context()
	if !p.logger.Enabled(ctx, slog.LevelInfo) {
		return nil
	}
	p.logger.LogAttrs(ctx, slog.LevelInfo, "response",
		slog.Int("status", resp.Raw.StatusCode),
		slog.Any("headers", p.redactedHeaders(resp.Raw.Header)),
	)
	return nil
}

func (p *HTTPLoggingPolicy) redactedURL(u *url.URL) string {
	q := u.Query()
	if len(q) == 0 {
		return u.String()
	}
	red := make(url.Values, len(q))
	for k, vs := range q {
		if _, ok := p.allowedParams[strings.ToLower(k)]; ok {
			red[k] = vs
			continue
		}
		red[k] = []string{Redacted}
	}
	c := *u
	c.RawQuery = red.Encode()
	return c.String()
}

func (p *HTTPLoggingPolicy) redactedHeaders(h map[string][]string) []string {
	lines := make([]string, 0, len(h))
	for k, vs := range h {
		if _, ok := p.allowedHeaders[strings.ToLower(k)]; ok {
			lines = append(lines, k+": "+strings.Join(vs, ", "))
			continue
		}
		lines = append(lines, k+": "+Redacted)
	}
	return lines
}

var _ Policy = (*HTTPLoggingPolicy)(nil)
