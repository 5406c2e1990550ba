// Package loopback receives front-channel redirects on a localhost HTTP
// listener, for native applications that register a loopback redirect URI.
package loopback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

const defaultPath = "/callback"

const responsePage = `<!DOCTYPE html>
<html>
<head><title>Authorization complete</title></head>
<body><p>You may close this window and return to the application.</p></body>
</html>
`

// Options configures a Receiver.
type Options struct {
	// Port to listen on; 0 picks an ephemeral port.
	Port int

	// Path the redirect URI points at. Defaults to "/callback".
	Path string

	// Logger receives lifecycle logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// Receiver is a one-shot localhost redirect listener. It binds on New so
// the redirect URI, including the chosen port, is known before the
// authorization request is built.
type Receiver struct {
	listener net.Listener
	server   *http.Server
	path     string
	logger   *slog.Logger

	mu       sync.Mutex
	deliver  func(callbackURI string) bool
	received chan string
	closed   bool
}

// New binds a listener on 127.0.0.1 and returns a receiver ready to serve.
func New(opts Options) (*Receiver, error) {
	path := opts.Path
	if path == "" {
		path = defaultPath
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", opts.Port))
	if err != nil {
		return nil, fmt.Errorf("binding loopback listener: %w", err)
	}

	r := &Receiver{
		listener: listener,
		path:     path,
		logger:   logger,
		received: make(chan string, 1),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+path, r.handleCallback)
	r.server = &http.Server{Handler: mux}

	go func() {
		if err := r.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("loopback server stopped", "error", err)
		}
	}()

	logger.Debug("loopback receiver listening", "redirect_uri", r.RedirectURI())
	return r, nil
}

// RedirectURI returns the redirect URI to register and to place in
// authorization requests.
func (r *Receiver) RedirectURI() string {
	return (&url.URL{
		Scheme: "http",
		Host:   r.listener.Addr().String(),
		Path:   r.path,
	}).String()
}

// SetDeliver routes arriving redirects into the given function, typically
// Service.DeliverCallback. Without one, redirects are only available via
// Wait.
func (r *Receiver) SetDeliver(deliver func(callbackURI string) bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliver = deliver
}

func (r *Receiver) handleCallback(w http.ResponseWriter, req *http.Request) {
	callbackURI := r.RedirectURI()
	if req.URL.RawQuery != "" {
		callbackURI += "?" + req.URL.RawQuery
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(responsePage))

	r.mu.Lock()
	deliver := r.deliver
	r.mu.Unlock()

	if deliver != nil && !deliver(callbackURI) {
		r.logger.Debug("redirect did not match a pending flow")
	}
	select {
	case r.received <- callbackURI:
	default:
	}
}

// Wait blocks until a redirect arrives or ctx is done, returning the full
// callback URI.
func (r *Receiver) Wait(ctx context.Context) (string, error) {
	select {
	case callbackURI := <-r.received:
		return callbackURI, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close stops the listener. Close is idempotent.
func (r *Receiver) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return r.server.Shutdown(ctx)
}
