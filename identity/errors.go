package identity

import (
	"errors"
	"fmt"
)

// ErrScopeRequired indicates a token request carried zero or multiple
// scopes. Scope-to-resource reduction is one-to-one, so exactly one
// scope is required. The error is raised before any network access.
var ErrScopeRequired = errors.New("exactly one scope is required for a token request")

// AuthenticationFailedError indicates the credential reached its
// identity source but could not produce a token: bad secret, rejected
// grant, exhausted retries. It carries the provider's response body for
// diagnostics.
type AuthenticationFailedError struct {
	// StatusCode of the provider response, 0 when the failure happened
	// before a response arrived.
	StatusCode int
	// Body is the raw provider response.
	Body []byte

	err error
}

func newAuthenticationFailedError(err error, statusCode int, body []byte) *AuthenticationFailedError {
	return &AuthenticationFailedError{StatusCode: statusCode, Body: body, err: err}
}

func (e *AuthenticationFailedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("authentication failed: status %d: %s", e.StatusCode, e.err)
	}
	return fmt.Sprintf("authentication failed: %s", e.err)
}

func (e *AuthenticationFailedError) Unwrap() error { return e.err }

// CredentialUnavailableError signals that the identity source simply is
// not present in this environment, as opposed to being present and
// rejecting the request. Chained credentials treat it as "skip, try the
// next source" rather than as fatal.
type CredentialUnavailableError struct {
	credType string
	message  string
}

func newCredentialUnavailableError(credType, message string) *CredentialUnavailableError {
	return &CredentialUnavailableError{credType: credType, message: message}
}

func (e *CredentialUnavailableError) Error() string {
	return e.credType + ": " + e.message
}
