package pipeline

import (
	"github.com/google/uuid"

	"github.com/cloudward/azkit-go/internal/logctx"
)

// RequestIDHeader is the wire header carrying the client request id.
const RequestIDHeader = "x-ms-client-request-id"

// RequestIDPolicy sets the client request id header. Resolution order:
// explicit per-call override, then the configured per-client id, then a
// fresh UUID when auto generation is enabled. An explicit empty override
// (per-call pointer to "" or a configured empty id with auto disabled)
// suppresses the header entirely.
type RequestIDPolicy struct {
	NoopPolicy
	requestID     string
	autoRequestID bool
}

// RequestIDPolicyOptions configures a RequestIDPolicy.
type RequestIDPolicyOptions struct {
	// RequestID is a fixed id applied to every request.
	RequestID string
	// AutoRequestID generates a fresh UUID per request when no explicit
	// id is available. Defaults to true in NewRequestIDPolicy.
	AutoRequestID bool
}

// NewRequestIDPolicy returns a policy with auto generation enabled.
func NewRequestIDPolicy() *RequestIDPolicy {
	return &RequestIDPolicy{autoRequestID: true}
}

// NewRequestIDPolicyWithOptions returns a policy with explicit settings.
func NewRequestIDPolicyWithOptions(opts RequestIDPolicyOptions) *RequestIDPolicy {
	return &RequestIDPolicy{requestID: opts.RequestID, autoRequestID: opts.AutoRequestID}
}

func (p *RequestIDPolicy) OnRequest(req *Request) error {
	if req.Raw.Header.Get(RequestIDHeader) != "" {
		return nil
	}

	id := p.requestID
	if override, ok := req.Options.takeRequestID(); ok {
		id = override
		if id == "" {
			return nil
		}
	} else if id == "" {
		if !p.autoRequestID {
			return nil
		}
		id = uuid.NewString()
	}

	req.Raw.Header.Set(RequestIDHeader, id)
	if cd := logctx.CallDataFrom(req.Context()); cd != nil {
		cd.RequestID = id
	}
	return nil
}

var _ Policy = (*RequestIDPolicy)(nil)
