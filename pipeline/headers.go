package pipeline

// HeadersPolicy applies a configured set of base headers to every
// request, then applies any per-call header overrides on top. Per-call
// values win on key collision.
type HeadersPolicy struct {
	NoopPolicy
	base map[string]string
}

// NewHeadersPolicy copies baseHeaders so later mutation by the caller
// cannot leak into in-flight requests.
func NewHeadersPolicy(baseHeaders map[string]string) *HeadersPolicy {
	base := make(map[string]string, len(baseHeaders))
	for k, v := range baseHeaders {
		base[k] = v
	}
	return &HeadersPolicy{base: base}
}

// AddHeader adds or replaces a base header for all subsequent requests.
func (p *HeadersPolicy) AddHeader(key, value string) {
	p.base[key] = value
}

func (p *HeadersPolicy) OnRequest(req *Request) error {
	for k, v := range p.base {
		req.Raw.Header.Set(k, v)
	}
	for k, v := range req.Options.takeHeaders() {
		req.Raw.Header.Set(k, v)
	}
	return nil
}

var _ Policy = (*HeadersPolicy)(nil)
