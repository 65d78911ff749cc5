// Package logctx enriches slog records with per-call HTTP pipeline
// attributes carried on the context.
package logctx

import (
	"context"
	"log/slog"
)

type Handler struct {
	slog.Handler
}

func (h Handler) Handle(ctx context.Context, r slog.Record) error {
	if cd, ok := ctx.Value(callDataKey{}).(*CallData); ok {
		attrs := []slog.Attr{
			slog.String("method", cd.Method),
			slog.String("url", cd.URL),
		}
		if cd.RequestID != "" {
			attrs = append(attrs, slog.String("request_id", cd.RequestID))
		}
		if cd.Status != 0 {
			attrs = append(attrs, slog.Int("status", cd.Status))
		}
		r.AddAttrs(slog.Group("http", listToAny(attrs)...))
	}
	return h.Handler.Handle(ctx, r)
}

func (h Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return Handler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h Handler) WithGroup(name string) slog.Handler {
	return Handler{Handler: h.Handler.WithGroup(name)}
}

func listToAny(attrs []slog.Attr) []any {
	out := make([]any, len(attrs))
	for i, a := range attrs {
		out[i] = a
	}
	return out
}

type callDataKey struct{}

// CallData holds the attributes of one in-flight pipeline call. It is
// stored by pointer so policies that learn more as the call progresses
// (the request id, the response status) can fill fields in later.
type CallData struct {
	Method    string
	URL       string
	RequestID string
	Status    int
}

func WithCallData(ctx context.Context, data *CallData) context.Context {
	return context.WithValue(ctx, callDataKey{}, data)
}

// CallDataFrom returns the call data on ctx, or nil.
func CallDataFrom(ctx context.Context) *CallData {
	cd, _ := ctx.Value(callDataKey{}).(*CallData)
	return cd
}
