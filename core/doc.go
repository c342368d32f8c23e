// Package core defines the provider-agnostic types that flow through the
// rest of conduit: the Unified Request/Response model, content blocks,
// streaming events, the standard error taxonomy, and small ambient
// concerns (secrets, logging, telemetry) that every other package depends
// on without depending back.
//
// Nothing in this package knows about manifests, HTTP, or any specific
// provider. Packages above it (manifest, pipeline, policy, client, and the
// CLI) import core; core imports nothing else in this module.
package core
