package oauthclient

import (
	"sync"

	"github.com/google/uuid"
)

// pendingCallback pairs an in-flight front-channel request with the
// completion that consumes its redirect.
type pendingCallback struct {
	authorization *AuthorizationRequest
	endSession    *EndSessionRequest
	complete      func(callbackURI string)
}

// CallbackRegistry correlates front-channel redirects back to the request
// that initiated them, keyed by the request state. Each entry is consumed
// at most once; a redirect carrying an unknown state is dropped.
//
// A request built without state is tracked under a generated sentinel key;
// the registry remembers that key so a redirect carrying no state still
// resolves the flow. At most one stateless flow is pending at a time: a
// newer one supersedes the older, whose callback then never fires.
type CallbackRegistry struct {
	mu        sync.Mutex
	pending   map[string]pendingCallback
	stateless string
}

// NewCallbackRegistry returns an empty registry.
func NewCallbackRegistry() *CallbackRegistry {
	return &CallbackRegistry{pending: make(map[string]pendingCallback)}
}

// registryKey returns the correlation key for a state value.
func registryKey(state string) string {
	if state == "" {
		return "stateless:" + uuid.NewString()
	}
	return state
}

// registerAuthorization tracks an authorization request until its redirect
// arrives. The returned key cancels the entry.
func (r *CallbackRegistry) registerAuthorization(req *AuthorizationRequest, complete func(callbackURI string)) string {
	return r.register(req.stateKey(), pendingCallback{authorization: req, complete: complete})
}

// registerEndSession tracks an end session request until its post-logout
// redirect arrives. The returned key cancels the entry.
func (r *CallbackRegistry) registerEndSession(req *EndSessionRequest, complete func(callbackURI string)) string {
	return r.register(req.stateKey(), pendingCallback{endSession: req, complete: complete})
}

func (r *CallbackRegistry) register(state string, entry pendingCallback) string {
	key := registryKey(state)
	r.mu.Lock()
	defer r.mu.Unlock()
	if state == "" {
		if r.stateless != "" {
			delete(r.pending, r.stateless)
		}
		r.stateless = key
	}
	r.pending[key] = entry
	return key
}

// consume removes and returns the entry for a state, if one exists. An
// empty state resolves the pending stateless flow, if any.
func (r *CallbackRegistry) consume(state string) (pendingCallback, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := state
	if key == "" {
		key = r.stateless
		if key == "" {
			return pendingCallback{}, false
		}
	}
	entry, ok := r.pending[key]
	if ok {
		delete(r.pending, key)
		if key == r.stateless {
			r.stateless = ""
		}
	}
	return entry, ok
}

// cancel drops the entry registered under key without completing it.
func (r *CallbackRegistry) cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, key)
	if key == r.stateless {
		r.stateless = ""
	}
}

// Len reports the number of pending entries.
func (r *CallbackRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// ClearAll drops every pending entry without completing any of them.
func (r *CallbackRegistry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.pending)
	r.stateless = ""
}
