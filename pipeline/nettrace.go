package pipeline

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// NetworkTraceLoggingPolicy logs full request and response details,
// including headers and bodies, at debug level. It is off unless enabled
// per-client or per-call, and it never fails a call: any logging error
// is downgraded to a warning line.
type NetworkTraceLoggingPolicy struct {
	logger        *slog.Logger
	loggingEnable bool
}

// NetworkTraceLoggingPolicyOptions configures the trace policy.
type NetworkTraceLoggingPolicyOptions struct {
	// LogHandler receives the trace records. If nil, logging is discarded.
	LogHandler slog.Handler
	// LoggingEnable turns tracing on for every call. Per-call options can
	// still enable or disable individual calls.
	LoggingEnable bool
}

func NewNetworkTraceLoggingPolicy(opts NetworkTraceLoggingPolicyOptions) *NetworkTraceLoggingPolicy {
	h := opts.LogHandler
	if h == nil {
		h = slog.NewTextHandler(io.Discard, nil)
	}
	return &NetworkTraceLoggingPolicy{
		logger:        slog.New(h),
		loggingEnable: opts.LoggingEnable,
	}
}

func (p *NetworkTraceLoggingPolicy) enabledFor(req *Request) bool {
	enabled := p.loggingEnable
	if v := req.Options.takeLoggingEnable(); v != nil {
		enabled = *v
	}
	// Stash the decision so the response hook of this same call agrees
	// with the request hook even though the option was consumed.
	req.SetValue(valueKeyLoggingEnable, enabled)
	return enabled
}

func (p *NetworkTraceLoggingPolicy) OnRequest(req *Request) error {
	ctx := req.Context()
	if !p.enabledFor(req) || !p.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	func() {
		defer p.recoverLogging(ctx, "request")

		attrs := []slog.Attr{
			slog.String("method", req.Raw.Method),
			slog.String("url", req.Raw.URL.String()),
			slog.Any("headers", headerLines(req.Raw.Header)),
		}
		if body, ok := requestBodyForTrace(req); ok {
			attrs = append(attrs, slog.String("body", body))
		} else {
			attrs = append(attrs, slog.String("body", "(body omitted)"))
		}
		p.logger.LogAttrs(ctx, slog.LevelDebug, "outgoing request", attrs...)
	}()
	return nil
}

func (p *NetworkTraceLoggingPolicy) OnResponse(req *Request, resp *Response) error {
	ctx := req.Context()
	enabled, _ := resp.Value(valueKeyLoggingEnable)
	if on, ok := enabled.(bool); !ok || !on || !p.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}

	func() {
		defer p.recoverLogging(ctx, "response")

		attrs := []slog.Attr{
			slog.Int("status", resp.Raw.StatusCode),
			slog.Any("headers", headerLines(resp.Raw.Header)),
		}
		if body, ok := responseBodyForTrace(req, resp); ok {
			attrs = append(attrs, slog.String("body", body))
		} else {
			attrs = append(attrs, slog.String("body", "(body omitted)"))
		}
		p.logger.LogAttrs(ctx, slog.LevelDebug, "incoming response", attrs...)
	}()
	return nil
}

// recoverLogging keeps telemetry failures from aborting the call.
func (p *NetworkTraceLoggingPolicy) recoverLogging(ctx context.Context, phase string) {
	if r := recover(); r != nil {
		p.logger.LogAttrs(ctx, slog.LevelWarn, "failed to trace "+phase,
			slog.Any("error", r))
	}
}

func requestBodyForTrace(req *Request) (string, bool) {
	if req.Options.Stream {
		return "", false
	}
	if req.Raw.Body == nil {
		return "", true
	}
	// Only bodies that can be replayed are safe to read here.
	if req.Raw.GetBody == nil {
		return "", false
	}
	rc, err := req.Raw.GetBody()
	if err != nil {
		return "", false
	}
	defer rc.Close()
	data := make([]byte, 4096)
	n, _ := rc.Read(data)
	return string(data[:n]), true
}

func responseBodyForTrace(req *Request, resp *Response) (string, bool) {
	if req.Options.Stream {
		return "", false
	}
	ct := resp.Raw.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "image/") || strings.HasPrefix(ct, "application/octet-stream") {
		return "", false
	}
	data, err := resp.Body()
	if err != nil {
		return "", false
	}
	return string(data), true
}

func headerLines(h map[string][]string) []string {
	lines := make([]string, 0, len(h))
	for k, vs := range h {
		lines = append(lines, k+": "+strings.Join(vs, ", "))
	}
	return lines
}

var _ Policy = (*NetworkTraceLoggingPolicy)(nil)
