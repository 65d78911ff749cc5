// Package pipeline implements the HTTP policy chain: an ordered sequence
// of middleware units that observe and mutate an outgoing request and its
// response around a terminal transport.
package pipeline

import (
	"fmt"
	"net/url"

	"github.com/cloudward/azkit-go/internal/logctx"
)

// Policy is one unit in the chain. Both hooks are optional in spirit;
// embed NoopPolicy to implement only one side.
//
// OnRequest may mutate the raw request and consume per-call options. It
// must not fail on missing optional configuration, and must fail loudly
// on invalid explicit configuration.
//
// OnResponse sees the same Request instance that OnRequest saw, so any
// scratch values written on the outbound pass are visible inbound.
type Policy interface {
	OnRequest(req *Request) error
	OnResponse(req *Request, resp *Response) error
}

// NoopPolicy is an embeddable Policy implementation whose hooks do
// nothing. It spares single-hook policies from stub methods.
type NoopPolicy struct{}

func (NoopPolicy) OnRequest(*Request) error            { return nil }
func (NoopPolicy) OnResponse(*Request, *Response) error { return nil }

// Pipeline is an immutable ordered policy chain plus a terminal
// transport. Registration order is execution order for the outbound
// pass; the inbound pass unwinds in reverse.
type Pipeline struct {
	policies  []Policy
	transport Transport
}

// New assembles a pipeline. The policies run in the given order.
func New(transport Transport, policies ...Policy) Pipeline {
	return Pipeline{
		policies:  append([]Policy(nil), policies...),
		transport: transport,
	}
}

// Do executes one call: the outbound hooks in order, the transport send,
// then the inbound hooks in reverse order. The request envelope must not
// be reused across calls.
func (p Pipeline) Do(req *Request) (*Response, error) {
	// Query strings can carry credentials (SAS signatures and the
	// like), so the log context only ever sees the URL without one.
	// The redacting logging policy owns the allow-list that decides
	// which query parameters are loggable.
	cd := &logctx.CallData{
		Method: req.Raw.Method,
		URL:    strippedURL(req.Raw.URL),
	}
	req.Raw = req.Raw.WithContext(logctx.WithCallData(req.Raw.Context(), cd))

	for _, pol := range p.policies {
		if err := pol.OnRequest(req); err != nil {
			return nil, err
		}
	}

	raw, err := p.transport.Do(req)
	if err != nil {
		return nil, &TransportError{err: err}
	}

	resp := &Response{Raw: raw, req: req}
	cd.Status = raw.StatusCode

	for i := len(p.policies) - 1; i >= 0; i-- {
		if err := p.policies[i].OnResponse(req, resp); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func strippedURL(u *url.URL) string {
	if u.RawQuery == "" && u.Fragment == "" {
		return u.String()
	}
	c := *u
	c.RawQuery = ""
	c.Fragment = ""
	return c.String()
}

// TransportError wraps a failure from the terminal transport so no raw
// transport error escapes the pipeline undecorated.
type TransportError struct {
	err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport: %s", e.err) }
func (e *TransportError) Unwrap() error { return e.err }
