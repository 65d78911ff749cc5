package pipeline

import (
	"errors"
	"net/http"
	"net/url"
)

// Transport is the terminal of the pipeline: it sends the prepared raw
// request over the wire.
type Transport interface {
	Do(req *Request) (*http.Response, error)
}

// NewTransport wraps an http.Client as a pipeline Transport. A nil
// client uses http.DefaultClient. Per-call proxy mappings injected by
// the proxy policy are honored by deriving a client whose proxy function
// selects by request scheme.
func NewTransport(client *http.Client) Transport {
	if client == nil {
		client = http.DefaultClient
	}
	return &httpTransport{client: client}
}

type httpTransport struct {
	client *http.Client
}

func (t *httpTransport) Do(req *Request) (*http.Response, error) {
	client := t.client
	if v, ok := req.Value(valueKeyProxies); ok {
		proxies, ok := v.(map[string]*url.URL)
		if !ok {
			return nil, errors.New("transport: malformed proxy mapping in call context")
		}
		if len(proxies) > 0 {
			client = t.clientWithProxies(proxies)
		}
	}
	return client.Do(req.Raw)
}

// clientWithProxies derives a one-call client from the base client. The
// proxy path is rare enough that per-call construction beats caching
// keyed on the mapping.
func (t *httpTransport) clientWithProxies(proxies map[string]*url.URL) *http.Client {
	base, ok := t.client.Transport.(*http.Transport)
	if !ok || base == nil {
		base, _ = http.DefaultTransport.(*http.Transport)
	}
	tr := base.Clone()
	tr.Proxy = func(r *http.Request) (*url.URL, error) {
		if u, ok := proxies[r.URL.Scheme]; ok {
			return u, nil
		}
		return nil, nil
	}
	derived := *t.client
	derived.Transport = tr
	return &derived
}
