package pipeline

import (
	"errors"
	"fmt"
)

// BearerTokenAuthPolicy obtains a token from a TokenCredential before
// the request is dispatched and attaches it as a Bearer Authorization
// header. Token caching and refresh live inside the credential; this
// policy is the only pipeline stage that may block on I/O.
type BearerTokenAuthPolicy struct {
	NoopPolicy
	credential TokenCredential
	scopes     []string
	allowHTTP  bool
}

// BearerTokenAuthPolicyOptions configures a BearerTokenAuthPolicy.
type BearerTokenAuthPolicyOptions struct {
	// AllowInsecure permits sending tokens over plain HTTP. Intended for
	// localhost testing only.
	AllowInsecure bool
}

func NewBearerTokenAuthPolicy(cred TokenCredential, scopes []string, opts BearerTokenAuthPolicyOptions) *BearerTokenAuthPolicy {
	return &BearerTokenAuthPolicy{
		credential: cred,
		scopes:     append([]string(nil), scopes...),
		allowHTTP:  opts.AllowInsecure,
	}
}

// ErrInsecureAuthorization indicates a bearer token would have been sent
// over an unencrypted channel.
var ErrInsecureAuthorization = errors.New("bearer token authentication is not permitted for non-https URLs")

func (p *BearerTokenAuthPolicy) OnRequest(req *Request) error {
	if req.Raw.URL.Scheme != "https" && !p.allowHTTP {
		return ErrInsecureAuthorization
	}
	tk, err := p.credential.GetToken(req.Context(), TokenRequestOptions{Scopes: p.scopes})
	if err != nil {
		return err
	}
	req.Raw.Header.Set("Authorization", fmt.Sprintf("Bearer %s", tk.Token))
	return nil
}

var _ Policy = (*BearerTokenAuthPolicy)(nil)
