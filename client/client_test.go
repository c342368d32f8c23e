package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
)

func testManifestFor(providerID, baseURL string) *manifest.Manifest {
	return &manifest.Manifest{
		ProviderID: providerID,
		BaseURL:    baseURL,
		Auth:       manifest.AuthConfig{Scheme: manifest.AuthBearer, EnvVar: "X_API_KEY"},
		Endpoints: map[string]manifest.Endpoint{
			"chat": {Path: "/v1/chat", Method: "POST"},
		},
		Capabilities:  mustCapabilities(`["chat","streaming","tools"]`),
		ParameterMaps: map[string]string{"messages": "messages", "stream": "stream"},
		RetryPolicy: manifest.RetryPolicyConfig{
			Strategy: "fixed", MaxRetries: 2, MinDelayMS: 1, MaxDelayMS: 5, Jitter: "none",
		},
	}
}

func mustCapabilities(jsonList string) manifest.Capabilities {
	var c manifest.Capabilities
	if err := c.UnmarshalJSON([]byte(jsonList)); err != nil {
		panic(err)
	}
	return c
}

func TestClientGetResponseSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New([]*manifest.Manifest{testManifestFor("acme", srv.URL)},
		WithCredential("acme", core.NewSecret("sk-test")))
	if err != nil {
		t.Fatal(err)
	}

	resp, stats, err := c.Chat(core.ModelID("acme/model-a")).User("hello").GetResponse(context.Background())
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if resp == nil {
		t.Fatal("expected a non-nil response")
	}
	if stats.AttemptCount != 1 {
		t.Fatalf("AttemptCount = %d, want 1", stats.AttemptCount)
	}
	if stats.RetryCount != 0 {
		t.Fatalf("RetryCount = %d, want 0", stats.RetryCount)
	}
}

func TestClientRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"type":"server_error","message":"boom"}}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c, err := New([]*manifest.Manifest{testManifestFor("acme", srv.URL)},
		WithCredential("acme", core.NewSecret("sk-test")))
	if err != nil {
		t.Fatal(err)
	}

	resp, stats, err := c.Chat(core.ModelID("acme/model-a")).User("hello").GetResponse(context.Background())
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if resp == nil {
		t.Fatal("expected a non-nil response after the retried attempt succeeded")
	}
	if stats.AttemptCount != 2 {
		t.Fatalf("AttemptCount = %d, want 2", stats.AttemptCount)
	}
	if stats.RetryCount != 1 {
		t.Fatalf("RetryCount = %d, want 1", stats.RetryCount)
	}
	if calls.Load() != 2 {
		t.Fatalf("server saw %d calls, want 2", calls.Load())
	}
}

func TestClientFallsBackAfterRetriesExhausted(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"type":"server_error"}}`))
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer fallback.Close()

	primaryManifest := testManifestFor("acme", primary.URL)
	primaryManifest.RetryPolicy.MaxRetries = 0
	fallbackManifest := testManifestFor("other", fallback.URL)

	c, err := New([]*manifest.Manifest{primaryManifest, fallbackManifest},
		WithCredential("acme", core.NewSecret("sk-a")),
		WithCredential("other", core.NewSecret("sk-b")))
	if err != nil {
		t.Fatal(err)
	}

	resp, stats, err := c.Chat(core.ModelID("acme/model-a")).
		User("hello").
		Fallbacks(core.ModelID("other/model-b")).
		GetResponse(context.Background())
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if resp == nil {
		t.Fatal("expected the fallback provider's response")
	}
	if stats.FallbackCount != 1 {
		t.Fatalf("FallbackCount = %d, want 1", stats.FallbackCount)
	}
	if primaryCalls.Load() != 1 {
		t.Fatalf("primary saw %d calls, want exactly 1 (no retry budget)", primaryCalls.Load())
	}
}

func TestClientCapabilityPreflightFallsBackWithoutCallingServer(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer primary.Close()

	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer fallback.Close()

	noStreaming := testManifestFor("acme", primary.URL)
	noStreaming.Capabilities = mustCapabilities(`["chat"]`)
	fallbackManifest := testManifestFor("other", fallback.URL)

	c, err := New([]*manifest.Manifest{noStreaming, fallbackManifest},
		WithCredential("acme", core.NewSecret("sk-a")),
		WithCredential("other", core.NewSecret("sk-b")))
	if err != nil {
		t.Fatal(err)
	}

	stream, _, err := c.Chat(core.ModelID("acme/model-a")).
		User("hello").
		Fallbacks(core.ModelID("other/model-b")).
		Stream(context.Background())
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if stream == nil {
		t.Fatal("expected a stream from the fallback provider")
	}
	core.Drain(context.Background(), stream, nil)

	if primaryCalls.Load() != 0 {
		t.Fatalf("primary's server was called %d times; a capability miss must never reach transport", primaryCalls.Load())
	}
}

func TestClientServiceDispatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"data":[{"id":"model-a"},{"id":"model-b"}]}`))
	}))
	defer srv.Close()

	m := testManifestFor("acme", srv.URL)
	m.Services = map[string]manifest.ServiceDefinition{
		"list_models": {Endpoint: manifest.Endpoint{Path: "/v1/models", Method: "GET"}},
	}

	c, err := New([]*manifest.Manifest{m}, WithCredential("acme", core.NewSecret("sk-a")))
	if err != nil {
		t.Fatal(err)
	}

	out, err := c.Service(context.Background(), "acme", "list_models")
	if err != nil {
		t.Fatalf("Service() error = %v", err)
	}
	if out["data"] == nil {
		t.Fatal("expected the unbound response body to pass through with its top-level keys")
	}
}

func TestClientUnknownProviderIsReportedNotPanicked(t *testing.T) {
	c, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	_, _, err = c.Chat(core.ModelID("ghost/model")).User("hi").GetResponse(context.Background())
	if err == nil {
		t.Fatal("expected an error for an unregistered provider")
	}
}

func TestClientAttemptLoopRespectsContextCancellation(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, err := New([]*manifest.Manifest{testManifestFor("acme", srv.URL)},
		WithCredential("acme", core.NewSecret("sk-a")))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err = c.Chat(core.ModelID("acme/model-a")).User("hi").GetResponse(ctx)
	if err == nil {
		t.Fatal("expected an error once the context deadline is exceeded")
	}
}
