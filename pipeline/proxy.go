package pipeline

import "net/url"

// ProxyPolicy injects a configured proxy mapping (URL scheme to proxy
// URL) into the call context unless a per-call mapping is already
// present. The transport consumes the mapping when dialing.
type ProxyPolicy struct {
	NoopPolicy
	proxies map[string]*url.URL
}

func NewProxyPolicy(proxies map[string]*url.URL) *ProxyPolicy {
	copied := make(map[string]*url.URL, len(proxies))
	for k, v := range proxies {
		copied[k] = v
	}
	return &ProxyPolicy{proxies: copied}
}

func (p *ProxyPolicy) OnRequest(req *Request) error {
	if perCall := req.Options.takeProxies(); perCall != nil {
		req.SetValue(valueKeyProxies, perCall)
		return nil
	}
	if _, ok := req.Value(valueKeyProxies); ok {
		return nil
	}
	if len(p.proxies) > 0 {
		req.SetValue(valueKeyProxies, p.proxies)
	}
	return nil
}

var _ Policy = (*ProxyPolicy)(nil)
