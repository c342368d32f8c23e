package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/petal-labs/conduit/manifest"
)

func TestDoReturnsBodyAndUpstreamRequestID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("x-ai-protocol-request-id"); got != "req-123" {
			t.Errorf("client request id header = %q, want %q", got, "req-123")
		}
		w.Header().Set("x-request-id", "upstream-abc")
		w.WriteHeader(200)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Do(context.Background(), Request{
		Method:          "POST",
		URL:             srv.URL,
		Body:            []byte(`{}`),
		ClientRequestID: "req-123",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if resp.UpstreamRequestID != "upstream-abc" {
		t.Errorf("UpstreamRequestID = %q, want %q", resp.UpstreamRequestID, "upstream-abc")
	}
	if string(resp.Body) != `{"ok":true}` {
		t.Errorf("Body = %s", resp.Body)
	}
}

func TestDoAppliesAttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer srv.Close()

	c := New()
	_, err := c.Do(context.Background(), Request{
		Method:         "GET",
		URL:            srv.URL,
		AttemptTimeout: 10 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected a timeout error")
	}
}

func TestStreamYieldsBodyIncrementally(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		w.WriteHeader(200)
		w.Write([]byte("data: first\n\n"))
		if flusher != nil {
			flusher.Flush()
		}
		w.Write([]byte("data: second\n\n"))
	}))
	defer srv.Close()

	c := New()
	resp, err := c.Stream(context.Background(), Request{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer resp.Stream.Close()

	all, err := io.ReadAll(resp.Stream)
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(all) != "data: first\n\ndata: second\n\n" {
		t.Errorf("stream body = %q", all)
	}
}

func TestStreamCancellationClosesPromptly(t *testing.T) {
	blockForever := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.(http.Flusher).Flush()
		<-blockForever
	}))
	defer srv.Close()
	defer close(blockForever)

	c := New()
	ctx, cancel := context.WithCancel(context.Background())
	resp, err := c.Stream(ctx, Request{Method: "GET", URL: srv.URL})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		buf := make([]byte, 16)
		resp.Stream.Read(buf)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cancellation did not interrupt the in-flight read promptly")
	}
}

func TestBuildAuthHeadersBearer(t *testing.T) {
	h, qp, qv := BuildAuthHeaders(manifest.AuthConfig{Scheme: manifest.AuthBearer}, "sk-test")
	if h.Get("Authorization") != "Bearer sk-test" {
		t.Errorf("Authorization = %q", h.Get("Authorization"))
	}
	if qp != "" || qv != "" {
		t.Errorf("bearer scheme should not produce query params")
	}
}

func TestBuildAuthHeadersHeaderScheme(t *testing.T) {
	h, _, _ := BuildAuthHeaders(manifest.AuthConfig{Scheme: manifest.AuthHeader, HeaderName: "x-api-key"}, "sk-test")
	if h.Get("x-api-key") != "sk-test" {
		t.Errorf("x-api-key = %q", h.Get("x-api-key"))
	}
}
