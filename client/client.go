// Package client implements the §4.6 Client facade: AiClient resolves a
// "provider/model" identifier to a compiled manifest, drives the
// retry/fallback attempt loop over transport, pipeline, and policy, and
// hands the caller back a ChatResponse or ChatStream plus CallStats.
// Everything below it (manifest, transport, pipeline, policy, registry) is
// pure machinery; this package is the only public entry point a consumer
// of this library needs to import.
package client

import (
	"fmt"
	"strings"
	"sync"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
	"github.com/petal-labs/conduit/policy"
	"github.com/petal-labs/conduit/registry"
	"github.com/petal-labs/conduit/transport"
)

// AiClient is the top-level handle a caller constructs once and reuses
// across calls; it owns the policy engine's cross-call state (circuit
// breakers, rate limiters, in-flight semaphore) and the registry's
// compiled-pipeline cache, both of which are only useful when shared.
type AiClient struct {
	mu          sync.RWMutex
	manifests   map[string]*manifest.Manifest
	credentials map[string]core.Secret

	transport *transport.Client
	registry  *registry.Registry
	policy    *policy.Engine
	telemetry core.TelemetryHook

	defaultFallbacks []core.ModelID
}

// Option configures an AiClient at construction time.
type Option func(*AiClient)

// WithCredential registers the secret used to authenticate requests to
// providerID. A provider this client was never given a credential for is
// not rejected, at construction time or at resolution: its requests are
// sent with an empty credential, so the failure surfaces only as the
// provider's own response to the attempt.
func WithCredential(providerID string, secret core.Secret) Option {
	return func(c *AiClient) { c.credentials[providerID] = secret }
}

// WithTelemetry installs a sink for per-attempt RequestStartEvent/
// RequestEndEvent pairs. The default is core.NoopTelemetryHook.
func WithTelemetry(h core.TelemetryHook) Option {
	return func(c *AiClient) {
		if h != nil {
			c.telemetry = h
		}
	}
}

// WithPolicyConfig overrides the default breaker/limiter/in-flight
// configuration (§5 defaults) for every provider this client talks to.
func WithPolicyConfig(cfg policy.Config) Option {
	return func(c *AiClient) { c.policy = policy.NewEngine(cfg) }
}

// WithTransport swaps in a preconfigured *transport.Client, e.g. one
// wrapping a custom *http.Client for tests.
func WithTransport(t *transport.Client) Option {
	return func(c *AiClient) {
		if t != nil {
			c.transport = t
		}
	}
}

// WithDefaultFallbacks sets the fallback chain used by any ChatBuilder
// that does not call its own Fallbacks, per §3 "client-level default
// fallback chain".
func WithDefaultFallbacks(chain []core.ModelID) Option {
	return func(c *AiClient) { c.defaultFallbacks = chain }
}

// WithRegistry installs a *registry.Registry with adapter-tag factories
// already registered, instead of the zero-value generic-only registry.
func WithRegistry(r *registry.Registry) Option {
	return func(c *AiClient) {
		if r != nil {
			c.registry = r
		}
	}
}

// New constructs an AiClient serving the given manifests, keyed internally
// by each manifest's ProviderID. Two manifests declaring the same
// ProviderID is a construction error, since model resolution depends on
// that id being unique.
func New(manifests []*manifest.Manifest, opts ...Option) (*AiClient, error) {
	c := &AiClient{
		manifests:   make(map[string]*manifest.Manifest, len(manifests)),
		credentials: make(map[string]core.Secret),
		transport:   transport.New(),
		registry:    registry.New(),
		policy:      policy.NewEngine(policy.DefaultConfig()),
		telemetry:   core.NoopTelemetryHook{},
	}
	for _, m := range manifests {
		if m == nil {
			continue
		}
		if _, dup := c.manifests[m.ProviderID]; dup {
			return nil, fmt.Errorf("client: duplicate provider_id %q across manifests", m.ProviderID)
		}
		c.manifests[m.ProviderID] = m
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Chat starts a fluent chat call against model, a "provider/model"
// identifier (§3 ModelID). Resolution failures surface lazily, from
// GetResponse/Stream, not from Chat itself, so the builder chain below it
// can always be constructed.
func (c *AiClient) Chat(model core.ModelID) *ChatBuilder {
	return &ChatBuilder{
		client: c,
		req:    core.ChatRequest{Model: model},
	}
}

// resolve splits a "provider/model" id and looks up the provider's
// manifest and credential. The model segment is returned verbatim for
// the caller to place into the compiled request; this runtime does not
// interpret it further.
func (c *AiClient) resolve(id core.ModelID) (*manifest.Manifest, core.Secret, string, error) {
	providerID, modelName, ok := splitModelID(id)
	if !ok {
		return nil, core.Secret{}, "", fmt.Errorf("%w: %q is not a \"provider/model\" id", core.ErrModelRequired, id)
	}

	c.mu.RLock()
	m, ok := c.manifests[providerID]
	cred := c.credentials[providerID]
	c.mu.RUnlock()
	if !ok {
		return nil, core.Secret{}, "", fmt.Errorf("%w: %s", core.ErrManifestNotFound, providerID)
	}
	return m, cred, modelName, nil
}

func splitModelID(id core.ModelID) (provider, model string, ok bool) {
	s := string(id)
	idx := strings.IndexByte(s, '/')
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

// fallbackChainFor returns req's own Fallbacks if set, otherwise the
// client's default chain (§3: request-level overrides client-level).
func (c *AiClient) fallbackChainFor(req *core.ChatRequest) []core.ModelID {
	if req.Fallbacks != nil {
		return req.Fallbacks
	}
	return c.defaultFallbacks
}
