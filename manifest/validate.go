package manifest

import (
	"fmt"
	"strings"

	"github.com/petal-labs/conduit/core"
)

// ValidationMode selects how strictly Validate enforces the invariants in
// §3: strict mode rejects an incomplete streaming declaration outright;
// permissive mode infers minimal defaults instead (§6 strict_streaming).
type ValidationMode int

const (
	Permissive ValidationMode = iota
	Strict
)

// Validate checks the manifest-level invariants from §3. It never touches
// the network and never mutates m except, in Permissive mode, to fill in
// inferred streaming defaults.
func Validate(m *Manifest, mode ValidationMode) error {
	if m.ProviderID == "" {
		return fmt.Errorf("manifest: provider_id is required")
	}
	if m.ProtocolVersion == "" {
		return fmt.Errorf("manifest: protocol_version is required")
	}
	if _, ok := m.Endpoints["chat"]; !ok {
		return fmt.Errorf("manifest %s: endpoints.chat is required", m.ProviderID)
	}

	for param, path := range m.ParameterMaps {
		if !isWritablePath(path) {
			return fmt.Errorf("manifest %s: parameter_mappings[%s] = %q is not a writable JSON path", m.ProviderID, param, path)
		}
	}

	if m.Capabilities.Has(string(core.CapabilityStreaming)) {
		if m.Streaming == nil || m.Streaming.DecoderFormat == "" || m.Streaming.ContentPath == "" {
			if mode == Strict {
				return fmt.Errorf("manifest %s: capabilities.streaming is declared but streaming.decoder_format/content_path are incomplete", m.ProviderID)
			}
			inferStreamingDefaults(m)
		}
	}

	for code := range m.ErrorClass.ByErrorStatus {
		if sc := m.ErrorClass.ByErrorStatus[code]; !sc.Valid() {
			return fmt.Errorf("manifest %s: error_classification.by_error_status[%s] = %q is not a standard code", m.ProviderID, code, sc)
		}
	}
	for status, sc := range m.ErrorClass.ByHTTPStatus {
		if !sc.Valid() {
			return fmt.Errorf("manifest %s: error_classification.by_http_status[%s] = %q is not a standard code", m.ProviderID, status, sc)
		}
	}

	return nil
}

// inferStreamingDefaults fills a minimally usable streaming config for
// permissive-mode manifests that claim the streaming capability without
// fully specifying it — SSE framing with an OpenAI-shaped content path, the
// most common manifest shape observed in the wild.
func inferStreamingDefaults(m *Manifest) {
	if m.Streaming == nil {
		m.Streaming = &StreamingConfig{}
	}
	if m.Streaming.DecoderFormat == "" {
		m.Streaming.DecoderFormat = "sse"
	}
	if m.Streaming.ContentPath == "" {
		m.Streaming.ContentPath = "choices.0.delta.content"
	}
}

// isWritablePath checks that path looks like a dot-segment JSON path:
// non-empty, no blank segments, and no characters jsonpath.Set could not
// interpret as either an object key or an array index.
func isWritablePath(path string) bool {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$.")
	if path == "" {
		return false
	}
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return false
		}
	}
	return true
}
