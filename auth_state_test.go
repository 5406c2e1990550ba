package oauthclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/oakauth/oauthclient/internal/testutil"
)

// seedAuthorizedState builds a state holding a completed code exchange
// against the given token endpoint.
func seedAuthorizedState(t *testing.T, tokenEndpoint string, expiry time.Time) *AuthState {
	t.Helper()
	cfg, err := NewServiceConfiguration("https://issuer.example/authorize", tokenEndpoint)
	if err != nil {
		t.Fatalf("NewServiceConfiguration: %v", err)
	}
	authReq, err := NewAuthorizationRequestBuilder(cfg, "client-1", ResponseTypeCode, "app:/callback").
		SetScopes("openid", "profile").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	state := NewAuthState()
	if err := state.UpdateAuthorization(&AuthorizationResponse{
		Request:           authReq,
		State:             authReq.State,
		AuthorizationCode: "code-1",
	}, nil); err != nil {
		t.Fatalf("UpdateAuthorization: %v", err)
	}

	tokenReq, err := NewTokenRequestBuilder(cfg, "client-1", GrantTypeAuthorizationCode).
		SetAuthorizationCode("code-1").
		SetRedirectURI("app:/callback").
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := state.UpdateToken(&TokenResponse{
		Request:           tokenReq,
		TokenType:         "Bearer",
		AccessToken:       "at-1",
		AccessTokenExpiry: expiry,
		IDToken:           "idt-1",
		RefreshToken:      "rt-1",
		Scope:             "openid profile",
	}, nil); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}
	return state
}

func TestAuthStateEmpty(t *testing.T) {
	state := NewAuthState()

	if state.IsAuthorized() {
		t.Error("empty state reports authorized")
	}
	if state.AccessToken() != "" || state.IDToken() != "" || state.RefreshToken() != "" {
		t.Error("empty state holds tokens")
	}
	if state.ClientID() != "" {
		t.Errorf("ClientID = %q", state.ClientID())
	}
	if state.Configuration() != nil {
		t.Error("Configuration should be nil")
	}
	if !state.NeedsTokenRefresh(nil) {
		t.Error("state without tokens must need a refresh")
	}
	if state.AuthorizationError() != nil {
		t.Errorf("AuthorizationError = %v", state.AuthorizationError())
	}
}

func TestAuthStateUpdateExclusivity(t *testing.T) {
	state := NewAuthState()

	if err := state.UpdateToken(nil, nil); err == nil {
		t.Error("both nil should be rejected")
	}
	if err := state.UpdateToken(&TokenResponse{}, ErrTokenInvalidGrant); err == nil {
		t.Error("both set should be rejected")
	}
	if err := state.UpdateAuthorization(nil, nil); err == nil {
		t.Error("both nil should be rejected")
	}
	if err := state.UpdateRegistration(nil, nil); err == nil {
		t.Error("both nil should be rejected")
	}
}

func TestAuthStateErrorFolding(t *testing.T) {
	expiry := time.Now().Add(time.Hour)
	state := seedAuthorizedState(t, "https://issuer.example/token", expiry)

	// A transient network failure is not remembered.
	if err := state.UpdateToken(nil, ErrNetwork.WithDescription("connection reset")); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}
	if state.AuthorizationError() != nil {
		t.Errorf("general error was stored: %v", state.AuthorizationError())
	}
	if state.AccessToken() != "at-1" {
		t.Errorf("AccessToken = %q after transient error", state.AccessToken())
	}

	// A protocol error is stored and forces the token getters empty.
	if err := state.UpdateToken(nil, ErrTokenInvalidGrant.WithDescription("refresh token revoked")); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}
	if !errors.Is(state.AuthorizationError(), ErrTokenInvalidGrant) {
		t.Errorf("AuthorizationError = %v", state.AuthorizationError())
	}
	if state.AccessToken() != "" || state.IDToken() != "" {
		t.Error("tokens still visible under a stored protocol error")
	}
	if state.IsAuthorized() {
		t.Error("authorized despite stored protocol error")
	}

	// A successful exchange clears the stored error.
	if err := state.UpdateToken(&TokenResponse{AccessToken: "at-2"}, nil); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}
	if state.AuthorizationError() != nil {
		t.Errorf("error survived a successful exchange: %v", state.AuthorizationError())
	}
	if state.AccessToken() != "at-2" {
		t.Errorf("AccessToken = %q", state.AccessToken())
	}
}

func TestAuthStateRefreshTokenRetention(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))

	// A rotated token response without refresh_token or scope keeps both.
	if err := state.UpdateToken(&TokenResponse{AccessToken: "at-2"}, nil); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}
	if state.RefreshToken() != "rt-1" {
		t.Errorf("RefreshToken = %q, want %q", state.RefreshToken(), "rt-1")
	}
	if state.Scope() != "openid profile" {
		t.Errorf("Scope = %q", state.Scope())
	}

	// A response carrying new values replaces them.
	if err := state.UpdateToken(&TokenResponse{AccessToken: "at-3", RefreshToken: "rt-2", Scope: "openid"}, nil); err != nil {
		t.Fatalf("UpdateToken: %v", err)
	}
	if state.RefreshToken() != "rt-2" || state.Scope() != "openid" {
		t.Errorf("RefreshToken = %q, Scope = %q", state.RefreshToken(), state.Scope())
	}
}

func TestAuthStateNeedsTokenRefresh(t *testing.T) {
	expiry := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	state := seedAuthorizedState(t, "https://issuer.example/token", expiry)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{name: "well before tolerance window", now: expiry.Add(-time.Hour), want: false},
		{name: "just outside tolerance window", now: expiry.Add(-expiryTolerance - time.Second), want: false},
		{name: "at tolerance boundary", now: expiry.Add(-expiryTolerance), want: true},
		{name: "inside tolerance window", now: expiry.Add(-time.Second), want: true},
		{name: "after expiry", now: expiry.Add(time.Second), want: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := state.NeedsTokenRefresh(testutil.NewClock(tc.now)); got != tc.want {
				t.Errorf("NeedsTokenRefresh = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestAuthStateNeedsTokenRefreshForced(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))

	state.SetNeedsTokenRefresh(true)
	if !state.NeedsTokenRefresh(nil) {
		t.Error("forced refresh not reported")
	}
	state.SetNeedsTokenRefresh(false)
	if state.NeedsTokenRefresh(nil) {
		t.Error("forced refresh not cleared")
	}
}

func TestAuthStateNeedsTokenRefreshUnknownExpiry(t *testing.T) {
	// An access token without a known expiry is assumed fresh.
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Time{})
	if state.NeedsTokenRefresh(nil) {
		t.Error("token without expiry should be assumed fresh")
	}

	// Without any access token the unknown expiry means nothing: the state
	// needs a refresh.
	if !NewAuthState().NeedsTokenRefresh(nil) {
		t.Error("state without an access token must need a refresh")
	}
}

func TestAuthStateSerializeRoundTrip(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC))
	state.SetNeedsTokenRefresh(true)

	data, err := state.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	restored, err := DeserializeAuthState(data)
	if err != nil {
		t.Fatalf("DeserializeAuthState: %v", err)
	}

	if restored.AccessToken() != "at-1" || restored.IDToken() != "idt-1" {
		t.Errorf("tokens: access=%q id=%q", restored.AccessToken(), restored.IDToken())
	}
	if restored.RefreshToken() != "rt-1" || restored.Scope() != "openid profile" {
		t.Errorf("refresh=%q scope=%q", restored.RefreshToken(), restored.Scope())
	}
	if !restored.AccessTokenExpiry().Equal(state.AccessTokenExpiry()) {
		t.Errorf("expiry = %v, want %v", restored.AccessTokenExpiry(), state.AccessTokenExpiry())
	}
	if !restored.NeedsTokenRefresh(testutil.NewClock(time.Unix(0, 0))) {
		t.Error("forced refresh flag lost")
	}
	if restored.ClientID() != "client-1" {
		t.Errorf("ClientID = %q", restored.ClientID())
	}
}

func TestAuthStateSerializeStoredError(t *testing.T) {
	state := NewAuthState()
	if err := state.UpdateAuthorization(nil, ErrAuthorizationAccessDenied.WithDescription("user declined")); err != nil {
		t.Fatalf("UpdateAuthorization: %v", err)
	}

	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	restored, err := DeserializeAuthState(data)
	if err != nil {
		t.Fatalf("DeserializeAuthState: %v", err)
	}

	if !errors.Is(restored.AuthorizationError(), ErrAuthorizationAccessDenied) {
		t.Errorf("AuthorizationError = %v", restored.AuthorizationError())
	}
	if restored.IsAuthorized() {
		t.Error("authorized despite restored error")
	}
}

func TestAuthStateUpdateRegistration(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))

	regResp, err := ParseRegistrationResponse(buildRegistrationRequest(t), []byte(`{"client_id": "registered-1"}`))
	if err != nil {
		t.Fatalf("ParseRegistrationResponse: %v", err)
	}
	if err := state.UpdateRegistration(regResp, nil); err != nil {
		t.Fatalf("UpdateRegistration: %v", err)
	}

	if state.ClientID() != "registered-1" {
		t.Errorf("ClientID = %q", state.ClientID())
	}
	if state.AccessToken() != "" || state.RefreshToken() != "" || state.Scope() != "" {
		t.Error("session material survived re-registration")
	}
}

func TestAuthStateSignedOut(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))
	regResp, err := ParseRegistrationResponse(buildRegistrationRequest(t), []byte(`{"client_id": "registered-1"}`))
	if err != nil {
		t.Fatalf("ParseRegistrationResponse: %v", err)
	}
	if err := state.UpdateRegistration(regResp, nil); err != nil {
		t.Fatalf("UpdateRegistration: %v", err)
	}

	signedOut := state.SignedOut()
	if signedOut.ClientID() != "registered-1" {
		t.Errorf("ClientID = %q", signedOut.ClientID())
	}
	if signedOut.AccessToken() != "" || signedOut.RefreshToken() != "" {
		t.Error("signed-out state holds tokens")
	}
}

func TestCreateTokenRefreshRequest(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))

	req, err := state.CreateTokenRefreshRequest(map[string]string{"audience": "api"})
	if err != nil {
		t.Fatalf("CreateTokenRefreshRequest: %v", err)
	}
	if req.GrantType != GrantTypeRefreshToken || req.RefreshToken != "rt-1" || req.ClientID != "client-1" {
		t.Errorf("request: %+v", req)
	}
	if req.AdditionalParameters["audience"] != "api" {
		t.Errorf("AdditionalParameters = %v", req.AdditionalParameters)
	}
}

func TestCreateTokenRefreshRequestWithoutRefreshToken(t *testing.T) {
	if _, err := NewAuthState().CreateTokenRefreshRequest(nil); err == nil {
		t.Error("expected error")
	}
}

func TestPerformActionWithFreshTokensSync(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))
	service := NewService(ServiceOptions{})

	called := false
	state.PerformActionWithFreshTokens(context.Background(), service, nil, nil, nil, func(accessToken, idToken string, err error) {
		called = true
		if err != nil {
			t.Errorf("action error: %v", err)
		}
		if accessToken != "at-1" || idToken != "idt-1" {
			t.Errorf("tokens: access=%q id=%q", accessToken, idToken)
		}
	})
	if !called {
		t.Error("fresh-token action did not run synchronously")
	}
}

func TestPerformActionWithFreshTokensEmptyState(t *testing.T) {
	service := NewService(ServiceOptions{})

	// An unauthorized state has nothing to refresh with; the action must
	// observe an error, never empty tokens presented as fresh.
	called := false
	NewAuthState().PerformActionWithFreshTokens(context.Background(), service, nil, nil, nil, func(accessToken, idToken string, err error) {
		called = true
		if !errors.Is(err, ErrAuthorizationClientError) {
			t.Errorf("error = %v, want ErrAuthorizationClientError", err)
		}
		if accessToken != "" || idToken != "" {
			t.Errorf("tokens delivered on empty state: access=%q id=%q", accessToken, idToken)
		}
	})
	if !called {
		t.Error("action did not run")
	}
}

func TestPerformActionWithFreshTokensNoRefreshToken(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))
	// Wipe the refresh token, then force staleness.
	if err := state.UpdateRegistration(&RegistrationResponse{ClientID: "registered-1"}, nil); err != nil {
		t.Fatalf("UpdateRegistration: %v", err)
	}
	state.SetNeedsTokenRefresh(true)
	service := NewService(ServiceOptions{})

	called := false
	state.PerformActionWithFreshTokens(context.Background(), service, nil, nil, nil, func(accessToken, idToken string, err error) {
		called = true
		if !errors.Is(err, ErrAuthorizationClientError) {
			t.Errorf("error = %v, want ErrAuthorizationClientError", err)
		}
	})
	if !called {
		t.Error("action did not run")
	}
}

func TestPerformActionWithFreshTokensRefreshes(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != GrantTypeRefreshToken {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostForm.Get("refresh_token"); got != "rt-1" {
			t.Errorf("refresh_token = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "at-fresh", "token_type": "Bearer", "expires_in": 3600, "refresh_token": "rt-2"}`))
	}))
	defer server.Close()

	state := seedAuthorizedState(t, server.URL+"/token", time.Now().Add(time.Hour))
	state.SetNeedsTokenRefresh(true)
	service := NewService(ServiceOptions{HTTPClient: server.Client()})

	called := false
	state.PerformActionWithFreshTokens(context.Background(), service, nil, nil, nil, func(accessToken, idToken string, err error) {
		called = true
		if err != nil {
			t.Errorf("action error: %v", err)
		}
		if accessToken != "at-fresh" {
			t.Errorf("accessToken = %q", accessToken)
		}
	})
	if !called {
		t.Fatal("action did not run")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("token endpoint hits = %d, want 1", got)
	}
	if state.RefreshToken() != "rt-2" {
		t.Errorf("RefreshToken = %q", state.RefreshToken())
	}
	if state.NeedsTokenRefresh(nil) {
		t.Error("refresh flag not cleared")
	}
}

func TestPerformActionWithFreshTokensCoalesces(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token": "at-fresh", "token_type": "Bearer", "expires_in": 3600}`))
	}))
	defer server.Close()

	state := seedAuthorizedState(t, server.URL+"/token", time.Now().Add(time.Hour))
	state.SetNeedsTokenRefresh(true)
	service := NewService(ServiceOptions{HTTPClient: server.Client()})

	const actions = 3
	var wg sync.WaitGroup
	var completions atomic.Int32

	// The first caller performs the refresh in its own goroutine and blocks
	// on the handler until released.
	wg.Add(1)
	go func() {
		defer wg.Done()
		state.PerformActionWithFreshTokens(context.Background(), service, nil, nil, nil, func(accessToken, idToken string, err error) {
			if err != nil || accessToken != "at-fresh" {
				t.Errorf("first action: token=%q err=%v", accessToken, err)
			}
			completions.Add(1)
		})
	}()

	// Wait until the refresh is in flight before piling on.
	deadline := time.Now().Add(5 * time.Second)
	for {
		state.mu.Lock()
		inFlight := state.refreshInFlight
		state.mu.Unlock()
		if inFlight {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("refresh never started")
		}
		time.Sleep(time.Millisecond)
	}

	// Late arrivals enqueue their action and return immediately.
	for i := 1; i < actions; i++ {
		state.PerformActionWithFreshTokens(context.Background(), service, nil, nil, nil, func(accessToken, idToken string, err error) {
			if err != nil || accessToken != "at-fresh" {
				t.Errorf("queued action: token=%q err=%v", accessToken, err)
			}
			completions.Add(1)
		})
	}

	close(release)
	wg.Wait()

	if got := hits.Load(); got != 1 {
		t.Errorf("token endpoint hits = %d, want 1", got)
	}
	if got := completions.Load(); got != actions {
		t.Errorf("completions = %d, want %d", got, actions)
	}
}

func TestAuthStateTokenSource(t *testing.T) {
	state := seedAuthorizedState(t, "https://issuer.example/token", time.Now().Add(time.Hour))
	service := NewService(ServiceOptions{})

	token, err := state.TokenSource(context.Background(), service, nil).Token()
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if token.AccessToken != "at-1" || token.TokenType != "Bearer" {
		t.Errorf("token: %+v", token)
	}
}
