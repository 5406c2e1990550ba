package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// expiryTolerance is subtracted from the access token expiry when deciding
// whether a refresh is needed, absorbing clock skew between client and
// server.
const expiryTolerance = 60 * time.Second

// AuthStateAction receives fresh tokens, or the error that prevented
// obtaining them. Exactly one of the token pair and err is meaningful.
type AuthStateAction func(accessToken, idToken string, err error)

// AuthState aggregates the results of an authorization session: the latest
// authorization, token and registration exchanges, folded together so the
// current tokens and refresh needs can be read directly. An AuthState is
// safe for concurrent use and serializes to a canonical JSON document.
type AuthState struct {
	mu sync.Mutex

	lastAuthorizationResponse *AuthorizationResponse
	authorizationError        *Error
	lastTokenResponse         *TokenResponse
	lastRegistrationResponse  *RegistrationResponse

	// refreshToken and scope survive token responses that omit them.
	refreshToken string
	scope        string

	needsTokenRefresh bool

	refreshInFlight bool
	pendingActions  []AuthStateAction
}

// NewAuthState returns an empty, unauthorized state.
func NewAuthState() *AuthState {
	return &AuthState{}
}

// NewAuthStateFromAuthorization returns a state folded over a single
// authorization outcome.
func NewAuthStateFromAuthorization(resp *AuthorizationResponse, err error) (*AuthState, error) {
	s := NewAuthState()
	if updateErr := s.UpdateAuthorization(resp, err); updateErr != nil {
		return nil, updateErr
	}
	return s, nil
}

// NewAuthStateFromRegistration returns a state seeded with a dynamic
// registration outcome.
func NewAuthStateFromRegistration(resp *RegistrationResponse) (*AuthState, error) {
	s := NewAuthState()
	if err := s.UpdateRegistration(resp, nil); err != nil {
		return nil, err
	}
	return s, nil
}

// foldError stores protocol errors and discards transient general ones, so
// a network hiccup never erases evidence of a real authorization failure.
func (s *AuthState) foldError(err error, protocolType ErrorType) {
	e, ok := err.(*Error)
	if !ok {
		return
	}
	if e.Type == protocolType {
		s.authorizationError = e
	}
}

// UpdateAuthorization folds an authorization outcome into the state.
// Exactly one of resp and err must be non-nil.
func (s *AuthState) UpdateAuthorization(resp *AuthorizationResponse, err error) error {
	if (resp == nil) == (err == nil) {
		return fmt.Errorf("exactly one of response and error must be set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.foldError(err, ErrorTypeAuthorization)
		return nil
	}

	s.lastAuthorizationResponse = resp
	s.authorizationError = nil
	s.lastTokenResponse = nil
	if resp.Scope != "" {
		s.scope = resp.Scope
	} else if resp.Request != nil {
		s.scope = resp.Request.Scope
	}
	return nil
}

// UpdateToken folds a token exchange outcome into the state. Exactly one
// of resp and err must be non-nil. A response without a refresh token
// retains the previously issued one.
func (s *AuthState) UpdateToken(resp *TokenResponse, err error) error {
	if (resp == nil) == (err == nil) {
		return fmt.Errorf("exactly one of response and error must be set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.foldError(err, ErrorTypeToken)
		return nil
	}

	s.updateTokenLocked(resp)
	return nil
}

func (s *AuthState) updateTokenLocked(resp *TokenResponse) {
	s.lastTokenResponse = resp
	s.authorizationError = nil
	s.needsTokenRefresh = false
	if resp.RefreshToken != "" {
		s.refreshToken = resp.RefreshToken
	}
	if resp.Scope != "" {
		s.scope = resp.Scope
	}
}

// UpdateRegistration folds a registration outcome into the state. Exactly
// one of resp and err must be non-nil. A new registration invalidates any
// tokens issued under the previous client identity.
func (s *AuthState) UpdateRegistration(resp *RegistrationResponse, err error) error {
	if (resp == nil) == (err == nil) {
		return fmt.Errorf("exactly one of response and error must be set")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.foldError(err, ErrorTypeRegistration)
		return nil
	}

	s.lastRegistrationResponse = resp
	s.lastAuthorizationResponse = nil
	s.lastTokenResponse = nil
	s.authorizationError = nil
	s.refreshToken = ""
	s.scope = ""
	return nil
}

// AccessToken returns the current access token, preferring the token
// response over the authorization response. Empty when unauthorized.
func (s *AuthState) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessTokenLocked()
}

func (s *AuthState) accessTokenLocked() string {
	if s.authorizationError != nil {
		return ""
	}
	if s.lastTokenResponse != nil && s.lastTokenResponse.AccessToken != "" {
		return s.lastTokenResponse.AccessToken
	}
	if s.lastAuthorizationResponse != nil {
		return s.lastAuthorizationResponse.AccessToken
	}
	return ""
}

// AccessTokenExpiry returns the absolute expiry of the current access
// token, zero when unknown.
func (s *AuthState) AccessTokenExpiry() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessTokenExpiryLocked()
}

func (s *AuthState) accessTokenExpiryLocked() time.Time {
	if s.authorizationError != nil {
		return time.Time{}
	}
	if s.lastTokenResponse != nil && s.lastTokenResponse.AccessToken != "" {
		return s.lastTokenResponse.AccessTokenExpiry
	}
	if s.lastAuthorizationResponse != nil {
		return s.lastAuthorizationResponse.AccessTokenExpiry
	}
	return time.Time{}
}

// IDToken returns the current raw ID token, preferring the token response
// over the authorization response.
func (s *AuthState) IDToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idTokenLocked()
}

func (s *AuthState) idTokenLocked() string {
	if s.authorizationError != nil {
		return ""
	}
	if s.lastTokenResponse != nil && s.lastTokenResponse.IDToken != "" {
		return s.lastTokenResponse.IDToken
	}
	if s.lastAuthorizationResponse != nil {
		return s.lastAuthorizationResponse.IDToken
	}
	return ""
}

// RefreshToken returns the most recently issued refresh token.
func (s *AuthState) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// Scope returns the most recently granted scope.
func (s *AuthState) Scope() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scope
}

// ClientID returns the effective client identifier: the dynamically
// registered one when present, otherwise the statically configured one
// from the authorization request.
func (s *AuthState) ClientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastRegistrationResponse != nil {
		return s.lastRegistrationResponse.ClientID
	}
	if s.lastAuthorizationResponse != nil && s.lastAuthorizationResponse.Request != nil {
		return s.lastAuthorizationResponse.Request.ClientID
	}
	return ""
}

// Configuration returns the service configuration the session runs
// against, nil for an empty state.
func (s *AuthState) Configuration() *ServiceConfiguration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configurationLocked()
}

func (s *AuthState) configurationLocked() *ServiceConfiguration {
	if s.lastAuthorizationResponse != nil && s.lastAuthorizationResponse.Request != nil {
		return s.lastAuthorizationResponse.Request.Config
	}
	if s.lastRegistrationResponse != nil && s.lastRegistrationResponse.Request != nil {
		return s.lastRegistrationResponse.Request.Config
	}
	return nil
}

// LastAuthorizationResponse returns the stored authorization response.
func (s *AuthState) LastAuthorizationResponse() *AuthorizationResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAuthorizationResponse
}

// LastTokenResponse returns the stored token response.
func (s *AuthState) LastTokenResponse() *TokenResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTokenResponse
}

// LastRegistrationResponse returns the stored registration response.
func (s *AuthState) LastRegistrationResponse() *RegistrationResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRegistrationResponse
}

// AuthorizationError returns the stored protocol error, nil when the last
// exchanges succeeded. The result is an *Error.
func (s *AuthState) AuthorizationError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authorizationError == nil {
		return nil
	}
	return s.authorizationError
}

// IsAuthorized reports whether the state holds usable tokens and no
// protocol error.
func (s *AuthState) IsAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.authorizationError != nil {
		return false
	}
	return s.accessTokenLocked() != "" || s.idTokenLocked() != ""
}

// NeedsTokenRefresh reports whether the access token should be refreshed
// before use: forced via SetNeedsTokenRefresh, or within expiryTolerance
// of its expiry. A token with no known expiry is assumed fresh; a state
// holding no access token at all always needs a refresh.
func (s *AuthState) NeedsTokenRefresh(clock Clock) bool {
	if clock == nil {
		clock = SystemClock{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.needsTokenRefreshLocked(clock)
}

func (s *AuthState) needsTokenRefreshLocked(clock Clock) bool {
	if s.needsTokenRefresh {
		return true
	}
	expiry := s.accessTokenExpiryLocked()
	if expiry.IsZero() {
		return s.accessTokenLocked() == ""
	}
	return !clock.Now().Before(expiry.Add(-expiryTolerance))
}

// SetNeedsTokenRefresh forces the next fresh-token action to refresh
// first, regardless of the known expiry.
func (s *AuthState) SetNeedsTokenRefresh(needsRefresh bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.needsTokenRefresh = needsRefresh
}

// CreateTokenRefreshRequest builds the refresh grant request for the
// current session, with optional additional parameters.
func (s *AuthState) CreateTokenRefreshRequest(params map[string]string) (*TokenRequest, error) {
	s.mu.Lock()
	refreshToken := s.refreshToken
	config := s.configurationLocked()
	var clientID string
	if s.lastRegistrationResponse != nil {
		clientID = s.lastRegistrationResponse.ClientID
	} else if s.lastAuthorizationResponse != nil && s.lastAuthorizationResponse.Request != nil {
		clientID = s.lastAuthorizationResponse.Request.ClientID
	}
	s.mu.Unlock()

	if refreshToken == "" {
		return nil, fmt.Errorf("no refresh token available")
	}
	if config == nil {
		return nil, fmt.Errorf("no service configuration available")
	}
	if clientID == "" {
		return nil, fmt.Errorf("no client ID available")
	}

	builder := NewTokenRequestBuilder(config, clientID, GrantTypeRefreshToken).
		SetRefreshToken(refreshToken)
	if len(params) > 0 {
		builder = builder.SetAdditionalParameters(params)
	}
	return builder.Build()
}

// PerformActionWithFreshTokens runs action with tokens guaranteed fresh at
// the time of invocation. When the current tokens are fresh the action
// runs synchronously before this method returns. Otherwise the action is
// queued and a single refresh is performed no matter how many callers
// arrive while it is in flight; every queued action then observes the same
// outcome exactly once.
//
// Stale tokens with no refresh token available fail the action with an
// authorization-required error.
func (s *AuthState) PerformActionWithFreshTokens(ctx context.Context, service *Service, auth ClientAuthentication, params map[string]string, clock Clock, action AuthStateAction) {
	if action == nil {
		return
	}
	if service == nil {
		action("", "", fmt.Errorf("service must not be nil"))
		return
	}
	if clock == nil {
		clock = SystemClock{}
	}

	s.mu.Lock()
	if !s.needsTokenRefreshLocked(clock) {
		accessToken := s.accessTokenLocked()
		idToken := s.idTokenLocked()
		s.mu.Unlock()
		action(accessToken, idToken, nil)
		return
	}
	if s.refreshToken == "" {
		s.mu.Unlock()
		action("", "", ErrAuthorizationClientError.WithDescription("no refresh token available; authorization is required"))
		return
	}

	s.pendingActions = append(s.pendingActions, action)
	if s.refreshInFlight {
		s.mu.Unlock()
		return
	}
	s.refreshInFlight = true
	s.mu.Unlock()

	refreshReq, err := s.CreateTokenRefreshRequest(params)
	var resp *TokenResponse
	if err == nil {
		resp, err = service.PerformTokenRequest(ctx, refreshReq, auth)
	}

	s.mu.Lock()
	if err == nil {
		s.updateTokenLocked(resp)
	} else {
		s.foldError(err, ErrorTypeToken)
	}
	actions := s.pendingActions
	s.pendingActions = nil
	s.refreshInFlight = false
	accessToken := s.accessTokenLocked()
	idToken := s.idTokenLocked()
	s.mu.Unlock()

	for _, queued := range actions {
		if err != nil {
			queued("", "", err)
		} else {
			queued(accessToken, idToken, nil)
		}
	}
}

// SignedOut returns a fresh state for the same client: configuration and
// registration are carried over, all session material is discarded.
func (s *AuthState) SignedOut() *AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &AuthState{lastRegistrationResponse: s.lastRegistrationResponse}
}

// authStateJSON is the persistence shape of an AuthState.
type authStateJSON struct {
	RefreshToken              string                 `json:"refreshToken,omitempty"`
	Scope                     string                 `json:"scope,omitempty"`
	NeedsTokenRefresh         bool                   `json:"needsTokenRefresh,omitempty"`
	LastAuthorizationResponse *AuthorizationResponse `json:"lastAuthorizationResponse,omitempty"`
	AuthorizationError        *Error                 `json:"authorizationError,omitempty"`
	LastTokenResponse         *TokenResponse         `json:"lastTokenResponse,omitempty"`
	LastRegistrationResponse  *RegistrationResponse  `json:"lastRegistrationResponse,omitempty"`
}

// MarshalJSON serializes the state, excluding in-flight refresh tracking.
func (s *AuthState) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Marshal(authStateJSON{
		RefreshToken:              s.refreshToken,
		Scope:                     s.scope,
		NeedsTokenRefresh:         s.needsTokenRefresh,
		LastAuthorizationResponse: s.lastAuthorizationResponse,
		AuthorizationError:        s.authorizationError,
		LastTokenResponse:         s.lastTokenResponse,
		LastRegistrationResponse:  s.lastRegistrationResponse,
	})
}

// UnmarshalJSON restores a serialized state.
func (s *AuthState) UnmarshalJSON(data []byte) error {
	var doc authStateJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decoding auth state: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshToken = doc.RefreshToken
	s.scope = doc.Scope
	s.needsTokenRefresh = doc.NeedsTokenRefresh
	s.lastAuthorizationResponse = doc.LastAuthorizationResponse
	s.authorizationError = doc.AuthorizationError
	s.lastTokenResponse = doc.LastTokenResponse
	s.lastRegistrationResponse = doc.LastRegistrationResponse
	s.refreshInFlight = false
	s.pendingActions = nil
	return nil
}

// Serialize renders the state as its canonical JSON document.
func (s *AuthState) Serialize() ([]byte, error) {
	return json.Marshal(s)
}

// DeserializeAuthState restores a state from its canonical JSON document.
func DeserializeAuthState(data []byte) (*AuthState, error) {
	s := NewAuthState()
	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

// stateTokenSource adapts an AuthState to the x/oauth2 TokenSource
// contract.
type stateTokenSource struct {
	ctx     context.Context
	state   *AuthState
	service *Service
	auth    ClientAuthentication
	clock   Clock
}

// TokenSource returns an oauth2.TokenSource whose Token method yields
// fresh tokens via PerformActionWithFreshTokens, refreshing as needed.
func (s *AuthState) TokenSource(ctx context.Context, service *Service, auth ClientAuthentication) oauth2.TokenSource {
	return &stateTokenSource{ctx: ctx, state: s, service: service, auth: auth, clock: SystemClock{}}
}

func (ts *stateTokenSource) Token() (*oauth2.Token, error) {
	var token *oauth2.Token
	var tokenErr error
	ts.state.PerformActionWithFreshTokens(ts.ctx, ts.service, ts.auth, nil, ts.clock, func(accessToken, idToken string, err error) {
		if err != nil {
			tokenErr = err
			return
		}
		token = &oauth2.Token{
			AccessToken: accessToken,
			TokenType:   "Bearer",
			Expiry:      ts.state.AccessTokenExpiry(),
		}
	})
	if tokenErr != nil {
		return nil, tokenErr
	}
	if token == nil {
		return nil, fmt.Errorf("no token available")
	}
	return token, nil
}
