package manifest

import (
	"fmt"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/jsonpath"
	"github.com/rs/zerolog"
)

// recognizedParams is the fixed set of Unified Request fields the compiler
// knows how to extract and the parameter_mappings key each corresponds to
// (§3 parameter_mappings).
var recognizedParams = []string{
	"messages", "temperature", "max_tokens", "top_p", "stream", "tools",
	"tool_choice", "stop", "response_format", "seed",
	"presence_penalty", "frequency_penalty",
}

// CompileResult is the outcome of compiling one Unified Request against a
// manifest: the raw provider payload and the endpoint it targets.
type CompileResult struct {
	Payload  []byte
	Endpoint Endpoint
}

// Compile runs the §4.1 compile algorithm: starting from an empty JSON
// object, writes each recognized, present request parameter to its
// manifest-declared path. A parameter with no mapping entry is dropped,
// never silently transported, and logged at debug level via log (never a
// package global — the caller supplies its per-call logger).
func Compile(m *Manifest, req *core.ChatRequest, log zerolog.Logger) (*CompileResult, error) {
	ep, ok := m.Endpoint("chat")
	if !ok {
		return nil, fmt.Errorf("manifest %s: no chat endpoint declared", m.ProviderID)
	}

	if err := preflightCapabilities(m, req); err != nil {
		return nil, err
	}

	payload := []byte(`{}`)
	var err error

	write := func(param string, value interface{}) {
		path, mapped := m.ParameterMaps[param]
		if !mapped || path == "" {
			log.Debug().Str("provider", m.ProviderID).Str("param", param).Msg("parameter dropped: no mapping entry")
			return
		}
		if err != nil {
			return
		}
		payload, err = jsonpath.Set(payload, path, value)
	}

	write("messages", messagesToRaw(req.Messages))
	if req.Temperature != nil {
		write("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		write("max_tokens", *req.MaxTokens)
	}
	if req.TopP != nil {
		write("top_p", *req.TopP)
	}
	write("stream", req.Stream)
	if len(req.Tools) > 0 {
		write("tools", toolsToRaw(req.Tools))
	}
	if req.ToolChoice != "" {
		write("tool_choice", req.ToolChoice)
	}
	if len(req.Stop) > 0 {
		write("stop", req.Stop)
	}
	if req.ResponseFormat != nil {
		write("response_format", responseFormatToRaw(req.ResponseFormat))
	}
	if req.Seed != nil {
		write("seed", *req.Seed)
	}
	if req.PresencePenalty != nil {
		write("presence_penalty", *req.PresencePenalty)
	}
	if req.FrequencyPenalty != nil {
		write("frequency_penalty", *req.FrequencyPenalty)
	}

	if err != nil {
		return nil, fmt.Errorf("manifest %s: compile: %w", m.ProviderID, err)
	}

	return &CompileResult{Payload: payload, Endpoint: ep}, nil
}

// preflightCapabilities implements §4.3 pre-flight rule 1 at compile time:
// the part of the check that depends only on the manifest and the
// request shape (the breaker/limiter/semaphore checks live in policy).
func preflightCapabilities(m *Manifest, req *core.ChatRequest) error {
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

func messagesToRaw(msgs []core.Message) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(msgs))
	for _, m := range msgs {
		entry := map[string]interface{}{"role": string(m.Role)}
		if m.Parts != nil {
			entry["content"] = partsToRaw(m.Parts)
		} else {
			entry["content"] = m.Content
		}
		if m.ToolCallID != "" {
			entry["tool_call_id"] = m.ToolCallID
		}
		out = append(out, entry)
	}
	return out
}

func partsToRaw(parts []core.ContentPart) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(parts))
	for _, p := range parts {
		switch v := p.(type) {
		case core.TextPart:
			out = append(out, map[string]interface{}{"type": "text", "text": v.Text})
		case core.ImagePart:
			out = append(out, map[string]interface{}{
				"type": "image", "source": string(v.Source), "media_type": v.MediaType,
				"url": v.URL, "data": v.Data, "file_id": v.FileID,
			})
		case core.AudioPart:
			out = append(out, map[string]interface{}{
				"type": "audio", "source": string(v.Source), "media_type": v.MediaType,
				"url": v.URL, "data": v.Data, "file_id": v.FileID,
			})
		case core.ToolUsePart:
			out = append(out, map[string]interface{}{
				"type": "tool_use", "id": v.ID, "name": v.Name, "input": v.Input,
			})
		case core.ToolResultPart:
			out = append(out, map[string]interface{}{
				"type": "tool_result", "tool_use_id": v.ToolUseID, "content": v.Content, "is_error": v.IsError,
			})
		}
	}
	return out
}

func toolsToRaw(tools []core.ToolDefinition) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(tools))
	for _, t := range tools {
		entry := map[string]interface{}{"name": t.Name}
		if t.Description != "" {
			entry["description"] = t.Description
		}
		if len(t.Parameters) > 0 {
			entry["parameters"] = t.Parameters
		}
		out = append(out, entry)
	}
	return out
}

func responseFormatToRaw(rf *core.ResponseFormat) map[string]interface{} {
	entry := map[string]interface{}{"type": rf.Type}
	if len(rf.Schema) > 0 {
		entry["schema"] = rf.Schema
	}
	return entry
}
