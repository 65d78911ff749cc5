package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudward/azkit-go/identity/identitytest"
	"github.com/cloudward/azkit-go/pipeline"
)

func TestChainedTokenCredentialSkipsUnavailable(t *testing.T) {
	unavailable := identitytest.FuncCredential(func(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
		return pipeline.AccessToken{}, newCredentialUnavailableError("FirstCredential", "not configured")
	})
	working := &identitytest.StaticCredential{Token: "chain-token"}

	chain, err := NewChainedTokenCredential([]pipeline.TokenCredential{unavailable, working}, nil)
	require.NoError(t, err)

	tk, err := chain.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, "chain-token", tk.Token)
}

func TestChainedTokenCredentialMemoizesWinner(t *testing.T) {
	var probes int
	unavailable := identitytest.FuncCredential(func(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
		probes++
		return pipeline.AccessToken{}, newCredentialUnavailableError("FirstCredential", "not configured")
	})
	working := &identitytest.StaticCredential{Token: "chain-token", ExpiresOn: time.Now().Add(time.Hour)}

	chain, err := NewChainedTokenCredential([]pipeline.TokenCredential{unavailable, working}, nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := chain.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
		require.NoError(t, err)
	}
	assert.Equal(t, 1, probes, "losing sources must not be probed again after a winner is found")
	assert.Equal(t, int64(3), working.Calls())
}

func TestChainedTokenCredentialStopsOnHardFailure(t *testing.T) {
	hardErr := newAuthenticationFailedError(errors.New("bad secret"), 401, nil)
	failing := identitytest.FuncCredential(func(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
		return pipeline.AccessToken{}, hardErr
	})
	var reached bool
	next := identitytest.FuncCredential(func(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
		reached = true
		return pipeline.AccessToken{Token: "x", ExpiresOn: time.Now().Add(time.Hour)}, nil
	})

	chain, err := NewChainedTokenCredential([]pipeline.TokenCredential{failing, next}, nil)
	require.NoError(t, err)

	_, err = chain.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	var afe *AuthenticationFailedError
	require.ErrorAs(t, err, &afe)
	assert.False(t, reached, "a hard failure must stop the chain")
}

func TestChainedTokenCredentialAllUnavailable(t *testing.T) {
	mk := func(name string) identitytest.FuncCredential {
		return func(ctx context.Context, opts pipeline.TokenRequestOptions) (pipeline.AccessToken, error) {
			return pipeline.AccessToken{}, newCredentialUnavailableError(name, "missing")
		}
	}
	chain, err := NewChainedTokenCredential([]pipeline.TokenCredential{mk("A"), mk("B")}, nil)
	require.NoError(t, err)

	_, err = chain.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	var cue *CredentialUnavailableError
	require.ErrorAs(t, err, &cue)
	assert.Contains(t, cue.Error(), "A")
	assert.Contains(t, cue.Error(), "B")
}

func TestChainedTokenCredentialRequiresSources(t *testing.T) {
	_, err := NewChainedTokenCredential(nil, nil)
	require.Error(t, err)
}
