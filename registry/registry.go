// Package registry implements §9's "dynamic dispatch over providers":
// a table keyed by a manifest endpoint's adapter tag, producing precompiled
// operator instances instead of a per-frame type switch. Most manifests
// declare no adapter_tag at all and are served by the generic, fully
// manifest-driven pipeline.New; a provider whose wire format needs
// handling the generic decoder/event-mapper/accumulator chain can't
// express registers its own Factory under that tag.
package registry

import (
	"fmt"
	"sync"

	"github.com/petal-labs/conduit/manifest"
	"github.com/petal-labs/conduit/pipeline"
)

// Factory builds the precompiled Pipeline for one manifest's streaming
// config. A Registry built by New already has the generic factory
// installed under the empty tag.
type Factory func(m *manifest.Manifest) (*pipeline.Pipeline, error)

// Registry holds adapter-tag-keyed Factories and caches the Pipeline each
// one builds per provider, so a client that reuses a Manifest across many
// calls compiles its pipeline exactly once (§4.2 "Rule precompilation",
// extended here across the lifetime of a Registry rather than just within
// one Pipeline).
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	compiled  map[string]*pipeline.Pipeline
}

// New constructs a Registry with the generic manifest-driven factory
// installed as the default (empty-tag) factory.
func New() *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		compiled:  make(map[string]*pipeline.Pipeline),
	}
	r.factories[""] = pipeline.New
	return r
}

// Register installs f as the Factory for adapterTag, overriding the
// generic default for every manifest whose chat endpoint declares that
// tag. Registering under the empty string replaces the default factory
// itself.
func (r *Registry) Register(adapterTag string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[adapterTag] = f
}

// Pipeline returns the compiled Pipeline for m, building it via the
// Factory registered for m's chat endpoint's adapter_tag (or the generic
// factory, if none is registered for that tag) on first use and caching
// it by provider id thereafter.
func (r *Registry) Pipeline(m *manifest.Manifest) (*pipeline.Pipeline, error) {
	if p, ok := r.cached(m.ProviderID); ok {
		return p, nil
	}

	tag := adapterTagOf(m)
	factory := r.factoryFor(tag)

	p, err := factory(m)
	if err != nil {
		return nil, fmt.Errorf("registry: build pipeline for %s (adapter_tag=%q): %w", m.ProviderID, tag, err)
	}

	r.mu.Lock()
	r.compiled[m.ProviderID] = p
	r.mu.Unlock()
	return p, nil
}

func (r *Registry) cached(providerID string) (*pipeline.Pipeline, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.compiled[providerID]
	return p, ok
}

func (r *Registry) factoryFor(tag string) Factory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if f, ok := r.factories[tag]; ok {
		return f
	}
	return r.factories[""]
}

func adapterTagOf(m *manifest.Manifest) string {
	ep, ok := m.Endpoint("chat")
	if !ok {
		return ""
	}
	return ep.AdapterTag
}
