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

func TestUsernamePasswordCredentialGrant(t *testing.T) {
	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type": r.PostForm.Get("grant_type"),
			"client_id":  r.PostForm.Get("client_id"),
			"username":   r.PostForm.Get("username"),
			"password":   r.PostForm.Get("password"),
			"scope":      r.PostForm.Get("scope"),
		}
		fmt.Fprint(w, tokenBody("ropc-token", time.Now().Add(time.Hour)))
	}))
	defer srv.Close()

	cred, err := NewUsernamePasswordCredential("tenant-1", "client-1", "alice@example.com", "pw", &UsernamePasswordCredentialOptions{
		TokenEndpoint: srv.URL,
	})
	require.NoError(t, err)

	tk, err := cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	require.NoError(t, err)
	assert.Equal(t, "ropc-token", tk.Token)
	assert.Equal(t, map[string]string{
		"grant_type": "password",
		"client_id":  "client-1",
		"username":   "alice@example.com",
		"password":   "pw",
		"scope":      testScope,
	}, gotForm)
}

func TestUsernamePasswordCredentialCachesPerResource(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, tokenBody("ropc-token", time.Now().Add(time.Hour)))
	}))
	defer srv.Close()

	cred, err := NewUsernamePasswordCredential("tenant-1", "client-1", "alice@example.com", "pw", &UsernamePasswordCredentialOptions{
		TokenEndpoint: srv.URL,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), calls.Load())

	// A tenant override is a distinct entry and acquires separately.
	_, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{
		Scopes:   []string{testScope},
		TenantID: "tenant-2",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestUsernamePasswordCredentialRejectedGrant(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid_grant","error_description":"wrong password"}`)
	}))
	defer srv.Close()

	cred, err := NewUsernamePasswordCredential("tenant-1", "client-1", "alice@example.com", "nope", &UsernamePasswordCredentialOptions{
		TokenEndpoint: srv.URL,
	})
	require.NoError(t, err)

	_, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{Scopes: []string{testScope}})
	var afe *AuthenticationFailedError
	require.ErrorAs(t, err, &afe)
	assert.Equal(t, http.StatusBadRequest, afe.StatusCode)
}

func TestUsernamePasswordCredentialScopeValidation(t *testing.T) {
	cred, err := NewUsernamePasswordCredential("tenant-1", "client-1", "alice@example.com", "pw", nil)
	require.NoError(t, err)

	_, err = cred.GetToken(context.Background(), pipeline.TokenRequestOptions{})
	require.ErrorIs(t, err, ErrScopeRequired)
}
