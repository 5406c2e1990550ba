package oauthclient

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
)

// Token endpoint authentication method names, matching the
// token_endpoint_auth_method registration metadata values.
const (
	AuthMethodNone              = "none"
	AuthMethodClientSecretBasic = "client_secret_basic"
	AuthMethodClientSecretPost  = "client_secret_post"
)

// ClientAuthentication attaches client credentials to a token endpoint
// request. Strategies mutate the outgoing header or form body; nothing else
// writes client_id or client_secret.
type ClientAuthentication interface {
	// Method returns the registered authentication method name.
	Method() string

	// Apply attaches the credentials for clientID to the request.
	Apply(clientID string, header http.Header, form url.Values)
}

// NoClientAuthentication identifies a public client: client_id travels in
// the form body and no secret is sent.
type NoClientAuthentication struct{}

func (NoClientAuthentication) Method() string { return AuthMethodNone }

func (NoClientAuthentication) Apply(clientID string, header http.Header, form url.Values) {
	form.Set("client_id", clientID)
}

// ClientSecretBasic authenticates with an HTTP Basic Authorization header.
// Per RFC 6749 section 2.3.1 the id and secret are each form-urlencoded
// before being joined with a colon and base64 encoded.
type ClientSecretBasic struct {
	ClientSecret string
}

func (ClientSecretBasic) Method() string { return AuthMethodClientSecretBasic }

func (a ClientSecretBasic) Apply(clientID string, header http.Header, form url.Values) {
	credentials := url.QueryEscape(clientID) + ":" + url.QueryEscape(a.ClientSecret)
	header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(credentials)))
}

// ClientSecretPost authenticates by placing both credentials in the form
// body.
type ClientSecretPost struct {
	ClientSecret string
}

func (ClientSecretPost) Method() string { return AuthMethodClientSecretPost }

func (a ClientSecretPost) Apply(clientID string, header http.Header, form url.Values) {
	form.Set("client_id", clientID)
	form.Set("client_secret", a.ClientSecret)
}

// ClientAuthenticationFor selects the strategy matching a registered
// token_endpoint_auth_method. An empty method defaults to
// client_secret_basic as RFC 7591 prescribes.
func ClientAuthenticationFor(method, clientSecret string) (ClientAuthentication, error) {
	switch method {
	case AuthMethodNone:
		return NoClientAuthentication{}, nil
	case AuthMethodClientSecretBasic, "":
		return ClientSecretBasic{ClientSecret: clientSecret}, nil
	case AuthMethodClientSecretPost:
		return ClientSecretPost{ClientSecret: clientSecret}, nil
	default:
		return nil, fmt.Errorf("unsupported client authentication method %q", method)
	}
}
