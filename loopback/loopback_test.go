package loopback

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestReceiverRedirectURI(t *testing.T) {
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	uri := r.RedirectURI()
	if !strings.HasPrefix(uri, "http://127.0.0.1:") {
		t.Errorf("RedirectURI = %q", uri)
	}
	if !strings.HasSuffix(uri, "/callback") {
		t.Errorf("RedirectURI = %q, want default path", uri)
	}
}

func TestReceiverCustomPath(t *testing.T) {
	r, err := New(Options{Path: "/oauth/return"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	if !strings.HasSuffix(r.RedirectURI(), "/oauth/return") {
		t.Errorf("RedirectURI = %q", r.RedirectURI())
	}
}

func TestReceiverDeliversRedirect(t *testing.T) {
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	delivered := make(chan string, 1)
	r.SetDeliver(func(callbackURI string) bool {
		delivered <- callbackURI
		return true
	})

	resp, err := http.Get(r.RedirectURI() + "?state=s-1&code=c-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if !strings.Contains(string(body), "close this window") {
		t.Errorf("body = %q", body)
	}

	select {
	case uri := <-delivered:
		if !strings.Contains(uri, "state=s-1") || !strings.Contains(uri, "code=c-1") {
			t.Errorf("delivered URI = %q", uri)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("redirect never delivered")
	}
}

func TestReceiverWait(t *testing.T) {
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	resp, err := http.Get(r.RedirectURI() + "?state=s-1")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	uri, err := r.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if !strings.Contains(uri, "state=s-1") {
		t.Errorf("Wait = %q", uri)
	}
}

func TestReceiverWaitCanceled(t *testing.T) {
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer r.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.Wait(ctx); err == nil {
		t.Error("Wait on canceled context should fail")
	}
}

func TestReceiverCloseIdempotent(t *testing.T) {
	r, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
