package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/oakauth/oauthclient/instrumentation"
	"github.com/oakauth/oauthclient/internal/util"
)

const (
	defaultHTTPTimeout = 30 * time.Second

	// maxResponseBody bounds how much of an endpoint response is read.
	maxResponseBody = 1 << 20

	// stateLogLength is how many characters of a state value appear in
	// debug logs; the full value never does.
	stateLogLength = 8
)

// Launcher hands a front-channel URL to the user agent, typically by
// opening the system browser.
type Launcher interface {
	Launch(authorizationURL string) error
}

// LauncherFunc adapts a function to the Launcher interface.
type LauncherFunc func(authorizationURL string) error

func (f LauncherFunc) Launch(authorizationURL string) error { return f(authorizationURL) }

// AuthorizationCallback receives the outcome of an authorization flow.
// Exactly one of resp and err is non-nil.
type AuthorizationCallback func(resp *AuthorizationResponse, err error)

// EndSessionCallback receives the outcome of an end session flow. Exactly
// one of resp and err is non-nil.
type EndSessionCallback func(resp *EndSessionResponse, err error)

// ServiceOptions configures a Service. The zero value is usable; every
// field has a default.
type ServiceOptions struct {
	// HTTPClient performs all back-channel requests. Defaults to a client
	// with a 30 second timeout.
	HTTPClient *http.Client

	// Logger receives structured flow logs. Defaults to slog.Default().
	Logger *slog.Logger

	// Instrumentation receives metrics and traces. Defaults to no-op
	// providers.
	Instrumentation *instrumentation.Instrumentation

	// Registry correlates front-channel redirects. Defaults to a fresh
	// registry private to this service.
	Registry *CallbackRegistry

	// Clock fixes the instant relative lifetimes are resolved against.
	// Defaults to the system clock.
	Clock Clock

	// IDTokenValidation relaxes individual ID token checks for providers
	// that deviate from OpenID Connect Core. The zero value applies every
	// check.
	IDTokenValidation IDTokenValidationOptions
}

// Service drives the back-channel and front-channel legs of the OAuth
// flows. A Service is safe for concurrent use. Dispose retires it; every
// operation on a disposed service fails with ErrServiceDisposed.
type Service struct {
	httpClient  *http.Client
	logger      *slog.Logger
	inst        *instrumentation.Instrumentation
	tracer      trace.Tracer
	registry    *CallbackRegistry
	clock       Clock
	idTokenOpts IDTokenValidationOptions

	disposed atomic.Bool
}

// NewService creates a Service with the given options.
func NewService(opts ServiceOptions) *Service {
	s := &Service{
		httpClient:  opts.HTTPClient,
		logger:      opts.Logger,
		inst:        opts.Instrumentation,
		registry:    opts.Registry,
		clock:       opts.Clock,
		idTokenOpts: opts.IDTokenValidation,
	}
	if s.httpClient == nil {
		s.httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.inst == nil {
		s.inst = instrumentation.Disabled()
	}
	if s.registry == nil {
		s.registry = NewCallbackRegistry()
	}
	if s.clock == nil {
		s.clock = SystemClock{}
	}
	s.tracer = s.inst.Tracer("service")
	return s
}

// Dispose retires the service. Pending front-channel callbacks are
// dropped. Dispose is idempotent.
func (s *Service) Dispose() {
	if s.disposed.CompareAndSwap(false, true) {
		s.registry.ClearAll()
		s.logger.Debug("oauth service disposed")
	}
}

// Disposed reports whether Dispose has been called.
func (s *Service) Disposed() bool {
	return s.disposed.Load()
}

func (s *Service) checkDisposed() error {
	if s.disposed.Load() {
		return ErrServiceDisposed
	}
	return nil
}

// FetchServiceConfiguration retrieves and validates the issuer's discovery
// document and derives a ServiceConfiguration from it.
func (s *Service) FetchServiceConfiguration(ctx context.Context, issuer string) (*ServiceConfiguration, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	if issuer == "" {
		return nil, fmt.Errorf("issuer must not be empty")
	}

	ctx, span := s.tracer.Start(ctx, "oauth.fetch_discovery")
	defer span.End()
	instrumentation.SetSpanAttributes(span, attribute.String(instrumentation.AttrIssuer, issuer))

	discoveryURL := util.NormalizeURL(issuer) + wellKnownPath
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, discoveryURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")

	start := s.clock.Now()
	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.inst.Metrics().RecordDiscoveryFetched(ctx, issuer, false)
		wrapped := ErrNetwork.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}
	defer func() { _ = httpResp.Body.Close() }()
	s.recordEndpointRequest(ctx, "discovery", httpResp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		s.inst.Metrics().RecordDiscoveryFetched(ctx, issuer, false)
		wrapped := ErrNetwork.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}
	if httpResp.StatusCode != http.StatusOK {
		s.inst.Metrics().RecordDiscoveryFetched(ctx, issuer, false)
		s.logger.Warn("discovery request failed",
			"issuer", issuer,
			"status", httpResp.StatusCode)
		wrapped := ErrServer.WithDescription("discovery request returned HTTP %d", httpResp.StatusCode)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}

	metadata, err := ParseProviderMetadata(body)
	if err != nil {
		s.inst.Metrics().RecordDiscoveryFetched(ctx, issuer, false)
		instrumentation.RecordError(span, err)
		return nil, err
	}
	config, err := NewServiceConfigurationFromMetadata(metadata)
	if err != nil {
		s.inst.Metrics().RecordDiscoveryFetched(ctx, issuer, false)
		instrumentation.RecordError(span, err)
		return nil, err
	}

	s.inst.Metrics().RecordDiscoveryFetched(ctx, issuer, true)
	instrumentation.SetSpanSuccess(span)
	s.logger.Debug("discovery document fetched",
		"issuer", metadata.Issuer,
		"authorization_endpoint", config.AuthorizationEndpoint,
		"token_endpoint", config.TokenEndpoint)
	return config, nil
}

// AuthorizationURL renders the front-channel authorization URL for a
// request.
func (s *Service) AuthorizationURL(req *AuthorizationRequest) (string, error) {
	if err := s.checkDisposed(); err != nil {
		return "", err
	}
	if req == nil {
		return "", fmt.Errorf("authorization request must not be nil")
	}
	return req.ToURL()
}

// Authorize starts an authorization flow: the request is tracked in the
// callback registry and its URL handed to the launcher. The callback fires
// exactly once, when DeliverCallback receives the matching redirect.
//
// If the launcher fails the pending entry is removed and the callback
// never fires.
func (s *Service) Authorize(req *AuthorizationRequest, launcher Launcher, callback AuthorizationCallback) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("authorization request must not be nil")
	}
	if launcher == nil {
		return fmt.Errorf("launcher must not be nil")
	}
	if callback == nil {
		return fmt.Errorf("callback must not be nil")
	}

	authorizationURL, err := req.ToURL()
	if err != nil {
		return err
	}

	key := s.registry.registerAuthorization(req, func(callbackURI string) {
		resp, parseErr := ParseAuthorizationResponse(req, callbackURI, s.clock)
		callback(resp, parseErr)
	})

	s.inst.Metrics().RecordAuthorizationStarted(context.Background(), req.ClientID)
	s.logger.Debug("authorization flow started",
		"client_id", req.ClientID,
		"scope", req.Scope,
		"state_prefix", util.SafeTruncate(req.State, stateLogLength))

	if err := launcher.Launch(authorizationURL); err != nil {
		s.registry.cancel(key)
		return fmt.Errorf("launching authorization request: %w", err)
	}
	return nil
}

// EndSession starts an RP-initiated logout flow, tracked like Authorize.
func (s *Service) EndSession(req *EndSessionRequest, launcher Launcher, callback EndSessionCallback) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	if req == nil {
		return fmt.Errorf("end session request must not be nil")
	}
	if launcher == nil {
		return fmt.Errorf("launcher must not be nil")
	}
	if callback == nil {
		return fmt.Errorf("callback must not be nil")
	}

	endSessionURL, err := req.ToURL()
	if err != nil {
		return err
	}

	key := s.registry.registerEndSession(req, func(callbackURI string) {
		resp, parseErr := ParseEndSessionResponse(req, callbackURI)
		callback(resp, parseErr)
	})

	s.logger.Debug("end session flow started")

	if err := launcher.Launch(endSessionURL); err != nil {
		s.registry.cancel(key)
		return fmt.Errorf("launching end session request: %w", err)
	}
	return nil
}

// DeliverCallback routes a front-channel redirect URI to the pending flow
// whose state it carries, consuming the entry. It reports whether a flow
// matched; redirects with no matching pending flow are dropped.
func (s *Service) DeliverCallback(callbackURI string) bool {
	if s.disposed.Load() {
		return false
	}

	state := stateFromCallbackURI(callbackURI)
	entry, ok := s.registry.consume(state)
	s.inst.Metrics().RecordCallbackDelivered(context.Background(), ok)
	if !ok {
		s.logger.Debug("callback with no matching pending flow dropped",
			"state_prefix", util.SafeTruncate(state, stateLogLength))
		return false
	}
	entry.complete(callbackURI)
	return true
}

// stateFromCallbackURI extracts the state parameter from a redirect URI,
// checking the query first and the fragment second.
func stateFromCallbackURI(callbackURI string) string {
	parsed, err := url.Parse(callbackURI)
	if err != nil {
		return ""
	}
	if state := parsed.Query().Get("state"); state != "" {
		return state
	}
	if fragment, err := url.ParseQuery(parsed.Fragment); err == nil {
		return fragment.Get("state")
	}
	return ""
}

// PerformTokenRequest sends a token endpoint request with the given client
// authentication. A nil auth means a public client. Protocol errors from
// the server come back as token-category errors; transport failures as
// network errors.
func (s *Service) PerformTokenRequest(ctx context.Context, req *TokenRequest, auth ClientAuthentication) (*TokenResponse, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("token request must not be nil")
	}
	if auth == nil {
		auth = NoClientAuthentication{}
	}

	ctx, span := s.tracer.Start(ctx, "oauth.token_request")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, req.GrantType, req.Scope)

	form := req.ToValues()
	header := http.Header{}
	auth.Apply(req.ClientID, header, form)

	body, status, err := s.postForm(ctx, req.Config.TokenEndpoint, "token", header, form)
	if err != nil {
		return nil, s.failTokenRequest(ctx, span, req, err)
	}

	if status != http.StatusOK {
		var wire oauthErrorBody
		if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error != "" {
			return nil, s.failTokenRequest(ctx, span, req, errorFromOAuthJSON(wire, TokenErrorForOAuthCode))
		}
		return nil, s.failTokenRequest(ctx, span, req, ErrTokenHTTP.WithDescription("token endpoint returned HTTP %d", status))
	}

	resp, err := ParseTokenResponse(req, body, s.clock)
	if err != nil {
		return nil, s.failTokenRequest(ctx, span, req, err)
	}

	// An ID token in the response is validated against the originating
	// request before the response is handed to the caller; a token that
	// fails any check never becomes part of the session.
	if resp.IDToken != "" {
		idToken, err := ParseIDToken(resp.IDToken)
		if err != nil {
			return nil, s.failTokenRequest(ctx, span, req, err)
		}
		if err := idToken.Validate(req, s.clock, s.idTokenOpts); err != nil {
			return nil, s.failTokenRequest(ctx, span, req, err)
		}
	}

	s.recordTokenOutcome(ctx, req, true)
	instrumentation.SetSpanSuccess(span)
	s.logger.Debug("token request completed",
		"client_id", req.ClientID,
		"grant_type", req.GrantType,
		"refresh_token_present", resp.RefreshToken != "",
		"id_token_present", resp.IDToken != "")
	return resp, nil
}

func (s *Service) failTokenRequest(ctx context.Context, span trace.Span, req *TokenRequest, err error) error {
	s.recordTokenOutcome(ctx, req, false)
	instrumentation.RecordError(span, err)
	return err
}

func (s *Service) recordTokenOutcome(ctx context.Context, req *TokenRequest, success bool) {
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		s.inst.Metrics().RecordCodeExchange(ctx, req.ClientID, success)
	case GrantTypeRefreshToken:
		s.inst.Metrics().RecordTokenRefresh(ctx, req.ClientID, success)
	}
}

// PerformRegistrationRequest sends a dynamic client registration request.
func (s *Service) PerformRegistrationRequest(ctx context.Context, req *RegistrationRequest) (*RegistrationResponse, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("registration request must not be nil")
	}
	if req.Config.RegistrationEndpoint == "" {
		return nil, fmt.Errorf("service configuration has no registration endpoint")
	}

	ctx, span := s.tracer.Start(ctx, "oauth.client_registration")
	defer span.End()

	payload, err := req.ToJSON()
	if err != nil {
		return nil, fmt.Errorf("encoding registration request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Config.RegistrationEndpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("building registration request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := s.clock.Now()
	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		s.inst.Metrics().RecordClientRegistration(ctx, false)
		wrapped := ErrNetwork.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}
	defer func() { _ = httpResp.Body.Close() }()
	s.recordEndpointRequest(ctx, "registration", httpResp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		s.inst.Metrics().RecordClientRegistration(ctx, false)
		wrapped := ErrNetwork.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}

	// RFC 7591 prescribes 201 for success; some servers answer 200.
	if httpResp.StatusCode != http.StatusCreated && httpResp.StatusCode != http.StatusOK {
		s.inst.Metrics().RecordClientRegistration(ctx, false)
		var wire oauthErrorBody
		if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error != "" {
			wrapped := errorFromOAuthJSON(wire, RegistrationErrorForOAuthCode)
			instrumentation.RecordError(span, wrapped)
			return nil, wrapped
		}
		wrapped := ErrRegistrationClientError.WithDescription("registration endpoint returned HTTP %d", httpResp.StatusCode)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}

	resp, err := ParseRegistrationResponse(req, body)
	if err != nil {
		s.inst.Metrics().RecordClientRegistration(ctx, false)
		instrumentation.RecordError(span, err)
		return nil, err
	}
	s.inst.Metrics().RecordClientRegistration(ctx, true)
	instrumentation.SetSpanSuccess(span)
	s.logger.Debug("client registered",
		"client_id", resp.ClientID,
		"auth_method", resp.TokenEndpointAuthMethod)
	return resp, nil
}

// PerformDeviceAuthorizationRequest sends a device authorization request.
func (s *Service) PerformDeviceAuthorizationRequest(ctx context.Context, req *DeviceAuthorizationRequest, auth ClientAuthentication) (*DeviceAuthorizationResponse, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, fmt.Errorf("device authorization request must not be nil")
	}
	if auth == nil {
		auth = NoClientAuthentication{}
	}

	ctx, span := s.tracer.Start(ctx, "oauth.device_authorization")
	defer span.End()
	instrumentation.AddFlowAttributes(span, req.ClientID, GrantTypeDeviceCode, req.Scope)

	form := req.ToValues()
	header := http.Header{}
	auth.Apply(req.ClientID, header, form)

	body, status, err := s.postForm(ctx, req.Config.DeviceAuthorizationEndpoint, "device_authorization", header, form)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	if status != http.StatusOK {
		var wire oauthErrorBody
		if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error != "" {
			wrapped := errorFromOAuthJSON(wire, TokenErrorForOAuthCode)
			instrumentation.RecordError(span, wrapped)
			return nil, wrapped
		}
		wrapped := ErrTokenHTTP.WithDescription("device authorization endpoint returned HTTP %d", status)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}

	resp, err := ParseDeviceAuthorizationResponse(req, body, s.clock)
	if err != nil {
		instrumentation.RecordError(span, err)
		return nil, err
	}
	instrumentation.SetSpanSuccess(span)
	s.logger.Debug("device authorization started",
		"client_id", req.ClientID,
		"verification_uri", resp.VerificationURI,
		"interval", resp.Interval)
	return resp, nil
}

// PollDeviceToken polls the token endpoint until the device grant resolves.
// The advertised interval paces the polls; slow_down responses stretch it
// by five seconds as RFC 8628 requires. The poll ends when the server
// issues tokens, reports a terminal error, the device code expires, or ctx
// is done.
func (s *Service) PollDeviceToken(ctx context.Context, deviceResp *DeviceAuthorizationResponse, auth ClientAuthentication) (*TokenResponse, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	if deviceResp == nil {
		return nil, fmt.Errorf("device authorization response must not be nil")
	}

	tokenReq, err := deviceResp.Request.TokenRequest(deviceResp)
	if err != nil {
		return nil, err
	}

	interval := deviceResp.Interval
	if interval <= 0 {
		interval = defaultDeviceTokenInterval
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	// Consume the initial token so the first poll already waits one
	// interval, as RFC 8628 section 3.5 prescribes.
	_ = limiter.Allow()

	for {
		if deviceResp.HasExpired(s.clock) {
			return nil, ErrTokenExpiredToken
		}
		if err := limiter.Wait(ctx); err != nil {
			return nil, ErrProgramCanceledFlow.WithCause(err)
		}
		if err := s.checkDisposed(); err != nil {
			return nil, err
		}

		resp, err := s.PerformTokenRequest(ctx, tokenReq, auth)
		switch {
		case err == nil:
			s.inst.Metrics().RecordDevicePoll(ctx, "issued")
			return resp, nil
		case isTokenError(err, ErrTokenAuthorizationPending):
			s.inst.Metrics().RecordDevicePoll(ctx, "pending")
		case isTokenError(err, ErrTokenSlowDown):
			s.inst.Metrics().RecordDevicePoll(ctx, "slow_down")
			interval += 5 * time.Second
			limiter.SetLimit(rate.Every(interval))
			s.logger.Debug("device poll slowed down", "interval", interval)
		default:
			s.inst.Metrics().RecordDevicePoll(ctx, "error")
			return nil, err
		}
	}
}

func isTokenError(err error, canonical *Error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == canonical.Type && e.Code == canonical.Code
}

// RevokeToken revokes a token at the revocation endpoint per RFC 7009.
// tokenTypeHint may be "access_token", "refresh_token" or empty.
func (s *Service) RevokeToken(ctx context.Context, config *ServiceConfiguration, clientID, token, tokenTypeHint string, auth ClientAuthentication) error {
	if err := s.checkDisposed(); err != nil {
		return err
	}
	if config == nil {
		return fmt.Errorf("service configuration must not be nil")
	}
	if config.RevocationEndpoint == "" {
		return fmt.Errorf("service configuration has no revocation endpoint")
	}
	if token == "" {
		return fmt.Errorf("token must not be empty")
	}
	if auth == nil {
		auth = NoClientAuthentication{}
	}

	ctx, span := s.tracer.Start(ctx, "oauth.token_revocation")
	defer span.End()
	instrumentation.AddFlowAttributes(span, clientID, "", "")

	form := url.Values{}
	form.Set("token", token)
	setIfPresent(form, "token_type_hint", tokenTypeHint)
	header := http.Header{}
	auth.Apply(clientID, header, form)

	body, status, err := s.postForm(ctx, config.RevocationEndpoint, "revocation", header, form)
	if err != nil {
		instrumentation.RecordError(span, err)
		return err
	}
	if status != http.StatusOK {
		var wire oauthErrorBody
		if jsonErr := json.Unmarshal(body, &wire); jsonErr == nil && wire.Error != "" {
			wrapped := errorFromOAuthJSON(wire, TokenErrorForOAuthCode)
			instrumentation.RecordError(span, wrapped)
			return wrapped
		}
		wrapped := ErrTokenHTTP.WithDescription("revocation endpoint returned HTTP %d", status)
		instrumentation.RecordError(span, wrapped)
		return wrapped
	}

	s.inst.Metrics().RecordTokenRevocation(ctx, clientID)
	instrumentation.SetSpanSuccess(span)
	s.logger.Debug("token revoked", "client_id", clientID, "hint", tokenTypeHint)
	return nil
}

// FetchUserInfo retrieves the userinfo document with a bearer access token
// and returns the raw claims.
func (s *Service) FetchUserInfo(ctx context.Context, config *ServiceConfiguration, accessToken string) (map[string]any, error) {
	if err := s.checkDisposed(); err != nil {
		return nil, err
	}
	if config == nil {
		return nil, fmt.Errorf("service configuration must not be nil")
	}
	if config.UserInfoEndpoint == "" {
		return nil, fmt.Errorf("service configuration has no userinfo endpoint")
	}
	if accessToken == "" {
		return nil, fmt.Errorf("access token must not be empty")
	}

	ctx, span := s.tracer.Start(ctx, "oauth.userinfo")
	defer span.End()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, config.UserInfoEndpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building userinfo request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+accessToken)
	httpReq.Header.Set("Accept", "application/json")

	start := s.clock.Now()
	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		wrapped := ErrNetwork.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}
	defer func() { _ = httpResp.Body.Close() }()
	s.recordEndpointRequest(ctx, "userinfo", httpResp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		wrapped := ErrNetwork.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}
	if httpResp.StatusCode != http.StatusOK {
		wrapped := ErrServer.WithDescription("userinfo endpoint returned HTTP %d", httpResp.StatusCode)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}

	var claims map[string]any
	if err := json.Unmarshal(body, &claims); err != nil {
		wrapped := ErrJSONDeserialization.WithCause(err)
		instrumentation.RecordError(span, wrapped)
		return nil, wrapped
	}
	instrumentation.SetSpanSuccess(span)
	return claims, nil
}

// postForm sends a form-encoded POST and returns the response body and
// status. Transport failures come back as network errors.
func (s *Service) postForm(ctx context.Context, endpoint, endpointName string, header http.Header, form url.Values) ([]byte, int, error) {
	if endpoint == "" {
		return nil, 0, fmt.Errorf("service configuration has no %s endpoint", endpointName)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("building %s request: %w", endpointName, err)
	}
	for key, values := range header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	start := s.clock.Now()
	httpResp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, ErrNetwork.WithCause(err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	s.recordEndpointRequest(ctx, endpointName, httpResp.StatusCode, start)

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, 0, ErrNetwork.WithCause(err)
	}
	return body, httpResp.StatusCode, nil
}

func (s *Service) recordEndpointRequest(ctx context.Context, endpoint string, status int, start time.Time) {
	durationMs := float64(s.clock.Now().Sub(start)) / float64(time.Millisecond)
	s.inst.Metrics().RecordEndpointRequest(ctx, endpoint, status, durationMs)
}
