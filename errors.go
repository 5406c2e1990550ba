package oauthclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// ErrServiceDisposed is returned synchronously by every Service operation
// after Dispose has been called. It indicates caller misuse, not a runtime
// condition, and is therefore not part of the Error taxonomy.
var ErrServiceDisposed = errors.New("oauthclient: service is disposed")

// ErrorType categorizes an Error by the protocol stage it belongs to.
type ErrorType int

const (
	// ErrorTypeGeneral covers failures that are not tied to a specific
	// OAuth request/response pairing: transport failures, cancelled flows,
	// malformed JSON, invalid discovery documents.
	ErrorTypeGeneral ErrorType = iota

	// ErrorTypeAuthorization covers errors returned on the authorization
	// redirect leg (RFC 6749 section 4.1.2.1) plus client-local failures
	// such as a state mismatch.
	ErrorTypeAuthorization

	// ErrorTypeToken covers errors returned by the token endpoint
	// (RFC 6749 section 5.2) plus non-2xx HTTP responses.
	ErrorTypeToken

	// ErrorTypeRegistration covers dynamic client registration errors
	// (RFC 7591 section 3.2.2).
	ErrorTypeRegistration

	// ErrorTypeIDTokenValidation covers ID token claim validation failures.
	ErrorTypeIDTokenValidation
)

// String returns a short label for the error type.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeGeneral:
		return "general"
	case ErrorTypeAuthorization:
		return "authorization"
	case ErrorTypeToken:
		return "token"
	case ErrorTypeRegistration:
		return "registration"
	case ErrorTypeIDTokenValidation:
		return "id_token_validation"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Error is the typed failure delivered through every callback and result
// channel of this package. Two errors are considered the same failure when
// their Type and Code match; errors.Is uses exactly that comparison, so
// callers can test against the canonical instances below regardless of the
// server-provided description attached to a concrete occurrence.
type Error struct {
	// Type is the protocol stage the error belongs to.
	Type ErrorType

	// Code identifies the failure within its type. Stable across releases.
	Code int

	// OAuthCode is the wire-level "error" value, when one exists.
	OAuthCode string

	// Description is the human-readable "error_description", when present.
	Description string

	// URI is the "error_uri" value, when present.
	URI string

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.OAuthCode != "" && e.Description != "":
		return fmt.Sprintf("%s error: %s: %s", e.Type, e.OAuthCode, e.Description)
	case e.OAuthCode != "":
		return fmt.Sprintf("%s error: %s", e.Type, e.OAuthCode)
	case e.Description != "":
		return fmt.Sprintf("%s error: %s", e.Type, e.Description)
	default:
		return fmt.Sprintf("%s error: code %d", e.Type, e.Code)
	}
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same Type and Code.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Type == other.Type && e.Code == other.Code
}

// WithCause returns a copy of e wrapping cause. The canonical instance is
// never mutated.
func (e *Error) WithCause(cause error) *Error {
	clone := *e
	clone.cause = cause
	return &clone
}

// WithDescription returns a copy of e carrying the given description.
func (e *Error) WithDescription(format string, args ...any) *Error {
	clone := *e
	clone.Description = fmt.Sprintf(format, args...)
	return &clone
}

// withServerFields returns a copy of e carrying server-provided error fields.
func (e *Error) withServerFields(oauthCode, description, uri string) *Error {
	clone := *e
	if oauthCode != "" {
		clone.OAuthCode = oauthCode
	}
	if description != "" {
		clone.Description = description
	}
	if uri != "" {
		clone.URI = uri
	}
	return &clone
}

// errorJSON is the persistence shape of an Error inside a serialized AuthState.
type errorJSON struct {
	Type        int    `json:"type"`
	Code        int    `json:"code"`
	Error       string `json:"error,omitempty"`
	Description string `json:"errorDescription,omitempty"`
	URI         string `json:"errorUri,omitempty"`
}

// MarshalJSON serializes the error for persistence. The wrapped cause is
// intentionally dropped: it is a process-local value.
func (e *Error) MarshalJSON() ([]byte, error) {
	return json.Marshal(errorJSON{
		Type:        int(e.Type),
		Code:        e.Code,
		Error:       e.OAuthCode,
		Description: e.Description,
		URI:         e.URI,
	})
}

// UnmarshalJSON restores a persisted error.
func (e *Error) UnmarshalJSON(data []byte) error {
	var raw errorJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decoding stored error: %w", err)
	}
	e.Type = ErrorType(raw.Type)
	e.Code = raw.Code
	e.OAuthCode = raw.Error
	e.Description = raw.Description
	e.URI = raw.URI
	return nil
}

// General errors. These carry no OAuth wire code.
var (
	// ErrInvalidDiscoveryDocument indicates a fetched provider metadata
	// document was missing a mandatory field or otherwise unusable.
	ErrInvalidDiscoveryDocument = &Error{Type: ErrorTypeGeneral, Code: 0, Description: "invalid discovery document"}

	// ErrUserCanceledFlow indicates the user abandoned the external flow.
	ErrUserCanceledFlow = &Error{Type: ErrorTypeGeneral, Code: 1, Description: "user canceled flow"}

	// ErrProgramCanceledFlow indicates the flow was cancelled
	// programmatically, e.g. by disposing the pending callback.
	ErrProgramCanceledFlow = &Error{Type: ErrorTypeGeneral, Code: 2, Description: "flow canceled programmatically"}

	// ErrNetwork wraps any transport-level failure.
	ErrNetwork = &Error{Type: ErrorTypeGeneral, Code: 3, Description: "network error"}

	// ErrServer indicates the server returned a response that could not be
	// processed as either success or a well-formed OAuth error.
	ErrServer = &Error{Type: ErrorTypeGeneral, Code: 4, Description: "server error"}

	// ErrJSONDeserialization indicates a response body failed to parse.
	ErrJSONDeserialization = &Error{Type: ErrorTypeGeneral, Code: 5, Description: "JSON deserialization error"}

	// ErrTokenResponseConstruction indicates a parsed token response could
	// not be folded into a usable value.
	ErrTokenResponseConstruction = &Error{Type: ErrorTypeGeneral, Code: 6, Description: "token response construction error"}

	// ErrInvalidRegistrationResponse indicates a registration response was
	// missing required fields.
	ErrInvalidRegistrationResponse = &Error{Type: ErrorTypeGeneral, Code: 7, Description: "invalid registration response"}

	// ErrIDTokenParsing indicates an ID token could not be decoded.
	ErrIDTokenParsing = &Error{Type: ErrorTypeGeneral, Code: 8, Description: "unable to parse ID token"}
)

// Authorization request errors (RFC 6749 section 4.1.2.1).
var (
	ErrAuthorizationInvalidRequest          = &Error{Type: ErrorTypeAuthorization, Code: 1000, OAuthCode: "invalid_request"}
	ErrAuthorizationUnauthorizedClient      = &Error{Type: ErrorTypeAuthorization, Code: 1001, OAuthCode: "unauthorized_client"}
	ErrAuthorizationAccessDenied            = &Error{Type: ErrorTypeAuthorization, Code: 1002, OAuthCode: "access_denied"}
	ErrAuthorizationUnsupportedResponseType = &Error{Type: ErrorTypeAuthorization, Code: 1003, OAuthCode: "unsupported_response_type"}
	ErrAuthorizationInvalidScope            = &Error{Type: ErrorTypeAuthorization, Code: 1004, OAuthCode: "invalid_scope"}
	ErrAuthorizationServerError             = &Error{Type: ErrorTypeAuthorization, Code: 1005, OAuthCode: "server_error"}
	ErrAuthorizationTemporarilyUnavailable  = &Error{Type: ErrorTypeAuthorization, Code: 1006, OAuthCode: "temporarily_unavailable"}
	ErrAuthorizationClientError             = &Error{Type: ErrorTypeAuthorization, Code: 1007}
	ErrAuthorizationOther                   = &Error{Type: ErrorTypeAuthorization, Code: 1008}

	// ErrStateMismatch is client-local: the state returned on the redirect
	// did not match the state of the originating request.
	ErrStateMismatch = &Error{Type: ErrorTypeAuthorization, Code: 9, Description: "state mismatch"}
)

// Token request errors (RFC 6749 section 5.2).
var (
	ErrTokenInvalidRequest       = &Error{Type: ErrorTypeToken, Code: 2000, OAuthCode: "invalid_request"}
	ErrTokenInvalidClient        = &Error{Type: ErrorTypeToken, Code: 2001, OAuthCode: "invalid_client"}
	ErrTokenInvalidGrant         = &Error{Type: ErrorTypeToken, Code: 2002, OAuthCode: "invalid_grant"}
	ErrTokenUnauthorizedClient   = &Error{Type: ErrorTypeToken, Code: 2003, OAuthCode: "unauthorized_client"}
	ErrTokenUnsupportedGrantType = &Error{Type: ErrorTypeToken, Code: 2004, OAuthCode: "unsupported_grant_type"}
	ErrTokenInvalidScope         = &Error{Type: ErrorTypeToken, Code: 2005, OAuthCode: "invalid_scope"}
	ErrTokenClientError          = &Error{Type: ErrorTypeToken, Code: 2006}
	ErrTokenOther                = &Error{Type: ErrorTypeToken, Code: 2007}

	// ErrTokenHTTP wraps a non-2xx token endpoint response whose body did
	// not parse as an OAuth error document. The raw body text, when
	// available, is carried in the Description.
	ErrTokenHTTP = &Error{Type: ErrorTypeToken, Code: 2008}

	// Device authorization grant polling states (RFC 8628 section 3.5).
	ErrTokenAuthorizationPending = &Error{Type: ErrorTypeToken, Code: 2009, OAuthCode: "authorization_pending"}
	ErrTokenSlowDown             = &Error{Type: ErrorTypeToken, Code: 2010, OAuthCode: "slow_down"}
	ErrTokenExpiredToken         = &Error{Type: ErrorTypeToken, Code: 2011, OAuthCode: "expired_token"}
)

// Dynamic client registration errors (RFC 7591 section 3.2.2).
var (
	ErrRegistrationInvalidRedirectURI    = &Error{Type: ErrorTypeRegistration, Code: 4000, OAuthCode: "invalid_redirect_uri"}
	ErrRegistrationInvalidClientMetadata = &Error{Type: ErrorTypeRegistration, Code: 4001, OAuthCode: "invalid_client_metadata"}
	ErrRegistrationClientError           = &Error{Type: ErrorTypeRegistration, Code: 4002}
	ErrRegistrationOther                 = &Error{Type: ErrorTypeRegistration, Code: 4003}
)

// ID token validation errors. Each failure mode is independently
// distinguishable so callers can react to (or test for) a specific check.
var (
	ErrIDTokenIssuerMissing    = &Error{Type: ErrorTypeIDTokenValidation, Code: 5000, Description: "id token issuer is missing"}
	ErrIDTokenIssuerInvalid    = &Error{Type: ErrorTypeIDTokenValidation, Code: 5001, Description: "id token issuer is not a valid https URL"}
	ErrIDTokenAudienceMismatch = &Error{Type: ErrorTypeIDTokenValidation, Code: 5002, Description: "id token audience does not match client"}
	ErrIDTokenExpired          = &Error{Type: ErrorTypeIDTokenValidation, Code: 5003, Description: "id token is expired"}
	ErrIDTokenIssuedAtTooOld   = &Error{Type: ErrorTypeIDTokenValidation, Code: 5004, Description: "id token issued-at is too far in the past"}
	ErrIDTokenNonceMismatch    = &Error{Type: ErrorTypeIDTokenValidation, Code: 5005, Description: "id token nonce does not match request"}
)

var authorizationErrorsByCode = map[string]*Error{
	"invalid_request":           ErrAuthorizationInvalidRequest,
	"unauthorized_client":       ErrAuthorizationUnauthorizedClient,
	"access_denied":             ErrAuthorizationAccessDenied,
	"unsupported_response_type": ErrAuthorizationUnsupportedResponseType,
	"invalid_scope":             ErrAuthorizationInvalidScope,
	"server_error":              ErrAuthorizationServerError,
	"temporarily_unavailable":   ErrAuthorizationTemporarilyUnavailable,
}

var tokenErrorsByCode = map[string]*Error{
	"invalid_request":        ErrTokenInvalidRequest,
	"invalid_client":         ErrTokenInvalidClient,
	"invalid_grant":          ErrTokenInvalidGrant,
	"unauthorized_client":    ErrTokenUnauthorizedClient,
	"unsupported_grant_type": ErrTokenUnsupportedGrantType,
	"invalid_scope":          ErrTokenInvalidScope,
	"authorization_pending":  ErrTokenAuthorizationPending,
	"slow_down":              ErrTokenSlowDown,
	"expired_token":          ErrTokenExpiredToken,
}

var registrationErrorsByCode = map[string]*Error{
	"invalid_redirect_uri":    ErrRegistrationInvalidRedirectURI,
	"invalid_client_metadata": ErrRegistrationInvalidClientMetadata,
}

// AuthorizationErrorForOAuthCode maps a wire "error" value from an
// authorization redirect into the canonical error instance, falling back to
// ErrAuthorizationOther for unrecognized codes.
func AuthorizationErrorForOAuthCode(code string) *Error {
	if e, ok := authorizationErrorsByCode[code]; ok {
		return e
	}
	return ErrAuthorizationOther.withServerFields(code, "", "")
}

// TokenErrorForOAuthCode maps a wire "error" value from a token endpoint
// response into the canonical error instance, falling back to ErrTokenOther.
func TokenErrorForOAuthCode(code string) *Error {
	if e, ok := tokenErrorsByCode[code]; ok {
		return e
	}
	return ErrTokenOther.withServerFields(code, "", "")
}

// RegistrationErrorForOAuthCode maps a wire "error" value from a
// registration endpoint response into the canonical error instance.
func RegistrationErrorForOAuthCode(code string) *Error {
	if e, ok := registrationErrorsByCode[code]; ok {
		return e
	}
	return ErrRegistrationOther.withServerFields(code, "", "")
}

// oauthErrorBody is the standard OAuth error JSON document.
type oauthErrorBody struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
	ErrorURI         string `json:"error_uri,omitempty"`
}

// errorFromOAuthJSON builds a typed error from a parsed OAuth error body
// using the per-stage lookup.
func errorFromOAuthJSON(body oauthErrorBody, lookup func(string) *Error) *Error {
	base := lookup(body.Error)
	return base.withServerFields(body.Error, body.ErrorDescription, body.ErrorURI)
}

// errorFromQuery extracts an authorization error from redirect callback
// query parameters.
func errorFromQuery(values url.Values) *Error {
	base := AuthorizationErrorForOAuthCode(values.Get("error"))
	return base.withServerFields(
		values.Get("error"),
		values.Get("error_description"),
		values.Get("error_uri"),
	)
}

// MissingFieldError reports a required field absent from a server-provided
// document, naming the exact field.
type MissingFieldError struct {
	Field string
}

// Error implements the error interface.
func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// Is reports whether target is a MissingFieldError for the same field, or a
// field-agnostic MissingFieldError (empty Field) matching the whole category.
func (e *MissingFieldError) Is(target error) bool {
	other, ok := target.(*MissingFieldError)
	if !ok {
		return false
	}
	return other.Field == "" || other.Field == e.Field
}
