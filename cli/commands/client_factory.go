package commands

import (
	"fmt"
	"os"

	"github.com/petal-labs/conduit/cli/config"
	"github.com/petal-labs/conduit/cli/keystore"
	"github.com/petal-labs/conduit/client"
	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
)

// ClientFactory builds an AiClient from every manifest-backed provider
// declared in cfg.
type ClientFactory func(cfg *config.Config, ks keystore.Keystore) (*client.AiClient, error)

func defaultClientFactory() ClientFactory {
	return func(cfg *config.Config, ks keystore.Keystore) (*client.AiClient, error) {
		if cfg == nil || len(cfg.Providers) == 0 {
			return nil, fmt.Errorf("no providers configured (see %s)", config.DefaultConfigPath())
		}

		var manifests []*manifest.Manifest
		var opts []client.Option
		for providerID, pc := range cfg.Providers {
			m, err := loadProviderManifest(pc)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", providerID, err)
			}
			manifests = append(manifests, m)

			secret := resolveCredential(ks, pc, m)
			if !secret.IsEmpty() {
				opts = append(opts, client.WithCredential(providerID, secret))
			}
		}

		return client.New(manifests, opts...)
	}
}

// loadProviderManifest reads, parses and validates the manifest document
// declared by pc.ManifestPath.
func loadProviderManifest(pc config.ProviderConfig) (*manifest.Manifest, error) {
	if pc.ManifestPath == "" {
		return nil, fmt.Errorf("manifest_path not set")
	}
	data, err := os.ReadFile(pc.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	if pc.BaseURL != "" {
		m.BaseURL = pc.BaseURL
	}
	if err := manifest.Validate(m, manifest.Permissive); err != nil {
		return nil, fmt.Errorf("compiling manifest: %w", err)
	}
	return m, nil
}

// resolveCredential prefers the keystore entry named by pc.APIKeyRef,
// falling back to the manifest's declared environment variable. Neither
// being set is not an error here: resolution failures surface lazily from
// the attempt loop instead, mirroring how a missing manifest is discovered.
func resolveCredential(ks keystore.Keystore, pc config.ProviderConfig, m *manifest.Manifest) core.Secret {
	if pc.APIKeyRef != "" && ks != nil {
		if value, err := ks.Get(pc.APIKeyRef); err == nil {
			return core.NewSecret(value)
		}
	}
	if m.Auth.EnvVar != "" {
		if value := os.Getenv(m.Auth.EnvVar); value != "" {
			return core.NewSecret(value)
		}
	}
	return core.Secret{}
}
