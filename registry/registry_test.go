package registry

import (
	"testing"

	"github.com/petal-labs/conduit/manifest"
	"github.com/petal-labs/conduit/pipeline"
)

func testManifest(providerID, adapterTag string) *manifest.Manifest {
	return &manifest.Manifest{
		ProviderID: providerID,
		Endpoints: map[string]manifest.Endpoint{
			"chat": {Path: "/chat", Method: "POST", AdapterTag: adapterTag},
		},
	}
}

func TestRegistryUsesGenericFactoryByDefault(t *testing.T) {
	r := New()
	p, err := r.Pipeline(testManifest("openai", ""))
	if err != nil {
		t.Fatal(err)
	}
	if p == nil {
		t.Fatal("expected a non-nil pipeline from the generic factory")
	}
}

func TestRegistryCachesPerProvider(t *testing.T) {
	r := New()
	m := testManifest("openai", "")

	p1, err := r.Pipeline(m)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := r.Pipeline(m)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatal("expected the second call to return the cached pipeline, not rebuild it")
	}
}

func TestRegistryDispatchesOnAdapterTag(t *testing.T) {
	r := New()
	called := false
	r.Register("custom_v1", func(m *manifest.Manifest) (*pipeline.Pipeline, error) {
		called = true
		return pipeline.New(m)
	})

	if _, err := r.Pipeline(testManifest("acme", "custom_v1")); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Fatal("expected the registered factory for adapter_tag=custom_v1 to run")
	}

	called = false
	if _, err := r.Pipeline(testManifest("other", "")); err != nil {
		t.Fatal(err)
	}
	if called {
		t.Fatal("a manifest with no adapter_tag must not dispatch to a tag-specific factory")
	}
}
