package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudward/azkit-go/pipeline"
)

func TestClientSecretCredentialPinnedEndpoint(t *testing.T) {
	var calls atomic.Int64
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":    r.PostForm.Get("grant_type"),
			"client_id":     r.PostForm.Get("client_id"),
			"client_secret": r.PostForm.Get("client_secret"),
			"scope":         r.PostForm.Get("scope"),
		}
		fmt.Fprint(w, tokenBody("cs-token", time.Now().Add(time.Hour)))
	}))
	defer srv.Close()

	cred, err := NewClientSecretCredential("tenant-1", "client-1", "s3cret", &ClientSecretCredentialOptions{
		TokenEndpoint: srv.URL,
	})
	require.NoError(t, err)

	tk, err := cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, "cs-token", tk.Token)
	assert.Equal(t, map[string]string{
		"grant_type":    "client_credentials",
		"client_id":     "client-1",
		"client_secret": "s3cret",
		"scope":         testScope,
	}, gotForm)

	// The refresher serves the second call without another round trip.
	_, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, int64(1), calls.Load())
}

func TestClientSecretCredentialDiscoversEndpoint(t *testing.T) {
	var discoveries atomic.Int64
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	issuer := srv.URL + "/tenant-1/v2.0"
	mux.HandleFunc("/tenant-1/v2.0/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		discoveries.Add(1)
		fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":%q,"token_endpoint":%q,"jwks_uri":%q}`,
			issuer, srv.URL+"/authorize", srv.URL+"/token", srv.URL+"/keys")
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, tokenBody("discovered-token", time.Now().Add(time.Hour)))
	})

	cred, err := NewClientSecretCredential("tenant-1", "client-1", "s3cret", &ClientSecretCredentialOptions{
		AuthorityHost: srv.URL,
	})
	require.NoError(t, err)

	tk, err := cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, "discovered-token", tk.Token)
	assert.Equal(t, int64(1), discoveries.Load())
}

func TestClientSecretCredentialEndpointError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":"invalid_client"}`)
	}))
	defer srv.Close()

	cred, err := NewClientSecretCredential("tenant-1", "client-1", "wrong", &ClientSecretCredentialOptions{
		TokenEndpoint: srv.URL,
	})
	require.NoError(t, err)

	_, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	var afe *AuthenticationFailedError
	require.ErrorAs(t, err, &afe)
	assert.Equal(t, http.StatusUnauthorized, afe.StatusCode)
	assert.Contains(t, string(afe.Body), "invalid_client")
}

func TestClientSecretCredentialScopeValidation(t *testing.T) {
	cred, err := NewClientSecretCredential("tenant-1", "client-1", "s3cret", nil)
	require.NoError(t, err)

	_, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{})
	require.ErrorIs(t, err, ErrScopeRequired)
}

func TestClientSecretCredentialSharedCache(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, tokenBody(fmt.Sprintf("token-%d", calls.Load()), time.Now().Add(time.Hour)))
	}))
	defer srv.Close()

	cache := &mapCache{entries: map[string]pipeline.AccessToken{}}
	newCred := func() *ClientSecretCredential {
		cred, err := NewClientSecretCredential("tenant-1", "client-1", "s3cret", &ClientSecretCredentialOptions{
			TokenEndpoint: srv.URL,
			Cache:         cache,
		})
		require.NoError(t, err)
		return cred
	}

	tk1, err := newCred().GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)

	// A second credential instance with the same cache adopts the stored
	// token instead of hitting the endpoint.
	tk2, err := newCred().GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, tk1.Token, tk2.Token)
	assert.Equal(t, int64(1), calls.Load())
}

type mapCache struct {
	entries map[string]pipeline.AccessToken
}

func (c *mapCache) Get(ctx context.Context, key string) (pipeline.AccessToken, bool, error) {
	tk, ok := c.entries[key]
	return tk, ok, nil
}

func (c *mapCache) Put(ctx context.Context, key string, tk pipeline.AccessToken) error {
	c.entries[key] = tk
	return nil
}

func (c *mapCache) Delete(ctx context.Context, key string) error {
	delete(c.entries, key)
	return nil
}

func (c *mapCache) Close() error { return nil }

func TestClientSecretCredentialTenantOverride(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	registerTenant := func(tenant, tokenPath string) {
		issuer := srv.URL + "/" + tenant + "/v2.0"
		mux.HandleFunc("/"+tenant+"/v2.0/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprintf(w, `{"issuer":%q,"authorization_endpoint":%q,"token_endpoint":%q,"jwks_uri":%q}`,
				issuer, srv.URL+"/authorize", srv.URL+tokenPath, srv.URL+"/keys")
		})
		mux.HandleFunc(tokenPath, func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, tokenBody(tenant+"-token", time.Now().Add(time.Hour)))
		})
	}
	registerTenant("tenant-a", "/token-a")
	registerTenant("tenant-b", "/token-b")

	cred, err := NewClientSecretCredential("tenant-a", "client-1", "s3cret", &ClientSecretCredentialOptions{
		AuthorityHost: srv.URL,
	})
	require.NoError(t, err)

	tk, err := cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a-token", tk.Token)

	// A per-request tenant must hit that tenant's discovered endpoint
	// and keep its own cache entry.
	tk, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{
		Scopes:   []string{testScope},
		TenantID: "tenant-b",
	})
	require.NoError(t, err)
	assert.Equal(t, "tenant-b-token", tk.Token)

	// The default tenant's cached token is unaffected by the override.
	tk, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, "tenant-a-token", tk.Token)
}
