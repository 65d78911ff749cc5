package pipeline

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/joeshaw/envdecode"
)

// userAgentEnv is populated from the process environment via envdecode.
type userAgentEnv struct {
	// Suffix is appended to the computed User-Agent. ENV: AZURE_HTTP_USER_AGENT
	Suffix string `env:"AZURE_HTTP_USER_AGENT"`
}

// UserAgentPolicyOptions configures a UserAgentPolicy.
type UserAgentPolicyOptions struct {
	// SDKMoniker identifies the SDK component, e.g. "azkit/1.2.3". It is
	// rendered as "azsdk-go-<moniker>".
	SDKMoniker string

	// ApplicationID is an optional caller-supplied prefix.
	ApplicationID string

	// BaseUserAgent replaces the computed base string entirely when set.
	BaseUserAgent string

	// DisableEnvSuffix skips the AZURE_HTTP_USER_AGENT suffix.
	DisableEnvSuffix bool
}

// UserAgentPolicy composes and applies the User-Agent header. The base
// string is computed once at construction: platform info, the SDK
// moniker, the optional application id prefix and the optional
// environment suffix.
type UserAgentPolicy struct {
	NoopPolicy
	userAgent string
}

// NewUserAgentPolicy builds the policy, reading AZURE_HTTP_USER_AGENT
// unless disabled.
func NewUserAgentPolicy(opts UserAgentPolicyOptions) *UserAgentPolicy {
	base := opts.BaseUserAgent
	if base == "" {
		base = fmt.Sprintf("azsdk-go-%s %s (%s-%s)",
			opts.SDKMoniker, runtime.Version(), runtime.GOOS, runtime.GOARCH)
	}
	if opts.ApplicationID != "" {
		base = opts.ApplicationID + " " + base
	}
	if !opts.DisableEnvSuffix {
		var env userAgentEnv
		_ = envdecode.Decode(&env)
		if env.Suffix != "" {
			base = base + " " + env.Suffix
		}
	}
	return &UserAgentPolicy{userAgent: base}
}

// UserAgent returns the computed base User-Agent string.
func (p *UserAgentPolicy) UserAgent() string {
	return p.userAgent
}

func (p *UserAgentPolicy) OnRequest(req *Request) error {
	ua, overwrite := req.Options.takeUserAgent()
	final := p.userAgent
	switch {
	case ua != "" && overwrite:
		final = ua
	case ua != "":
		final = ua + " " + p.userAgent
	}
	if strings.TrimSpace(final) == "" {
		return nil
	}
	req.Raw.Header.Set("User-Agent", final)
	return nil
}

var _ Policy = (*UserAgentPolicy)(nil)
