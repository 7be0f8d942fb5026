package outbound

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewResolverDefaultsTTL(t *testing.T) {
	if r := NewResolver(0); r.ttl != DefaultTTL {
		t.Fatalf("expected default ttl, got %v", r.ttl)
	}
	if r := NewResolver(time.Minute); r.ttl != time.Minute {
		t.Fatalf("expected 1m ttl, got %v", r.ttl)
	}
}

func TestClientDialsThroughCache(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "ok")
	}))
	defer srv.Close()

	r := NewResolver(time.Minute)
	client := r.Client(5 * time.Second)
	// Route through the "localhost" name so the resolver is consulted.
	target := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)

	resp, err := client.Get(target)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Fatalf("unexpected body %q", body)
	}
}

func TestDialContextRejectsBadAddress(t *testing.T) {
	r := NewResolver(time.Minute)
	if _, err := r.DialContext(context.Background(), "tcp", "no-port"); err == nil {
		t.Fatal("expected error for address without port")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r := NewResolver(10 * time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
