package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/cloudward/azkit-go/pipeline"
)

// appServiceTimeLayout is the datetime format the App Service MSI
// endpoint uses for expires_on instead of an epoch.
const appServiceTimeLayout = "01/02/2006 15:04:05 -07:00"

// tokenResponse tolerates the field spellings of every known provider:
// snake_case and camelCase keys, string and numeric epochs, relative
// expires_in and absolute expires_on.
type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	AccessTokenCamel string    `json:"accessToken"`
	ExpiresOn        flexValue `json:"expires_on"`
	ExpiresOnCamel   flexValue `json:"expiresOn"`
	ExpiresIn        flexValue `json:"expires_in"`
	ExpiresInCamel   flexValue `json:"expiresIn"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// flexValue is a number that providers serialize as a JSON number, a
// numeric string, or (App Service) a datetime string.
type flexValue struct {
	set     bool
	seconds int64
	at      time.Time
	isTime  bool
}

func (f *flexValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		f.set, f.seconds = true, n
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		f.set, f.seconds = true, n
		return nil
	}
	at, err := time.Parse(appServiceTimeLayout, s)
	if err != nil {
		return fmt.Errorf("unrecognized expiry value %q", s)
	}
	f.set, f.isTime, f.at = true, true, at
	return nil
}

// parseTokenResponse materializes an AccessToken from a provider
// response body. When every expiry field is absent, the expiry is
// recovered from the access token's own "exp" claim.
func parseTokenResponse(body []byte, now func() time.Time) (pipeline.AccessToken, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return pipeline.AccessToken{}, fmt.Errorf("malformed token response: %w", err)
	}
	if tr.Error != "" {
		return pipeline.AccessToken{}, fmt.Errorf("token request rejected: %s: %s", tr.Error, tr.ErrorDescription)
	}

	token := tr.AccessToken
	if token == "" {
		token = tr.AccessTokenCamel
	}
	if token == "" {
		return pipeline.AccessToken{}, errors.New("token response contains no access token")
	}

	if expiresOn, ok := firstSet(tr.ExpiresOn, tr.ExpiresOnCamel); ok {
		return pipeline.AccessToken{Token: token, ExpiresOn: expiresOn.asTime()}, nil
	}
	if expiresIn, ok := firstSet(tr.ExpiresIn, tr.ExpiresInCamel); ok {
		return pipeline.AccessToken{
			Token:     token,
			ExpiresOn: now().Add(time.Duration(expiresIn.seconds) * time.Second),
		}, nil
	}

	expiresOn, err := expiryFromJWT(token)
	if err != nil {
		return pipeline.AccessToken{}, fmt.Errorf("token response carries no expiry: %w", err)
	}
	return pipeline.AccessToken{Token: token, ExpiresOn: expiresOn}, nil
}

func firstSet(values ...flexValue) (flexValue, bool) {
	for _, v := range values {
		if v.set {
			return v, true
		}
	}
	return flexValue{}, false
}

func (f flexValue) asTime() time.Time {
	if f.isTime {
		return f.at
	}
	return time.Unix(f.seconds, 0)
}

// expiryFromJWT reads the unverified "exp" claim. The token arrived over
// the provider's authenticated channel; signature validation is the
// resource server's job, not the client's.
func expiryFromJWT(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, err
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, errors.New("no exp claim")
	}
	return exp.Time, nil
}
