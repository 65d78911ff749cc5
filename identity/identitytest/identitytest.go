// Package identitytest provides credential doubles for tests of code
// that consumes pipeline.TokenCredential.
package identitytest

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cloudward/azkit-go/pipeline"
)

// StaticCredential returns a fixed token and never fails.
type StaticCredential struct {
	Token     string
	ExpiresOn time.Time

	calls atomic.Int64
}

// GetToken implements pipeline.TokenCredential.
func (c *StaticCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	c.calls.Add(1)
	exp := c.ExpiresOn
	if exp.IsZero() {
		exp = time.Now().Add(time.Hour)
	}
	return pipeline.AccessToken{Token: c.Token, ExpiresOn: exp}, nil
}

// Calls reports how many times GetToken ran.
func (c *StaticCredential) Calls() int64 { return c.calls.Load() }

// FuncCredential delegates to a function, for scripted behaviors.
type FuncCredential func(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error)

// GetToken implements pipeline.TokenCredential.
func (f FuncCredential) GetToken(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
	return f(ctx, opts)
}

var (
	_ pipeline.TokenCredential = (*StaticCredential)(nil)
	_ pipeline.TokenCredential = (FuncCredential)(nil)
)
