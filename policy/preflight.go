package policy

import (
	"fmt"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/manifest"
)

// CheckCapabilities runs the §4.3 pre-flight rule 1 against a manifest
// before any attempt is admitted. manifest.Compile re-runs the same check
// against the payload it is about to build; calling it here too lets the
// client facade classify a capability miss as fallbackable and move to the
// next model in the chain before spending an attempt slot, a circuit-breaker
// trip, or a rate-limit token on a request that was never going to succeed.
func CheckCapabilities(m *manifest.Manifest, req *core.ChatRequest) error {
	if req.Stream && !m.SupportsCapability(core.CapabilityStreaming) {
		return fmt.Errorf("%w: provider %s does not declare streaming", core.ErrCapabilityUnmet, m.ProviderID)
	}
	if len(req.Tools) > 0 && !m.SupportsCapability(core.CapabilityTools) {
		return fmt.Errorf("%w: provider %s does not declare tools", core.ErrCapabilityUnmet, m.ProviderID)
	}
	if req.HasImageContent() && !m.SupportsMultimodalImage() {
		return fmt.Errorf("%w: provider %s does not declare vision/multimodal", core.ErrCapabilityUnmet, m.ProviderID)
	}
	if req.HasAudioContent() && !m.SupportsMultimodalAudio() {
		return fmt.Errorf("%w: provider %s does not declare audio/multimodal", core.ErrCapabilityUnmet, m.ProviderID)
	}
	return nil
}
