// Package manifest defines the typed, immutable provider manifest and its
// compile step: turning a core.ChatRequest into a provider-specific JSON
// payload via path writes (§3 Manifest, §4.1).
package manifest

import (
	"fmt"

	"github.com/petal-labs/conduit/core"
)

// ProtocolStatus is the manifest's lifecycle marker; informational only,
// the runtime does not gate behavior on it.
type ProtocolStatus string

const (
	StatusStable     ProtocolStatus = "stable"
	StatusBeta       ProtocolStatus = "beta"
	StatusDeprecated ProtocolStatus = "deprecated"
)

// AuthScheme selects how credentials are applied to an outbound request.
type AuthScheme string

const (
	AuthBearer AuthScheme = "bearer"
	AuthHeader AuthScheme = "header"
	AuthQuery  AuthScheme = "query"
)

// AuthConfig describes how to authenticate requests to this provider.
type AuthConfig struct {
	Scheme       AuthScheme        `yaml:"scheme" json:"scheme"`
	EnvVar       string            `yaml:"env_var" json:"env_var"`
	HeaderName   string            `yaml:"header_name,omitempty" json:"header_name,omitempty"`
	QueryParam   string            `yaml:"query_param,omitempty" json:"query_param,omitempty"`
	ExtraHeaders map[string]string `yaml:"extra_headers,omitempty" json:"extra_headers,omitempty"`
}

// Endpoint describes one operation's HTTP shape.
type Endpoint struct {
	Path       string `yaml:"path" json:"path"`
	Method     string `yaml:"method" json:"method"`
	BaseURL    string `yaml:"base_url,omitempty" json:"base_url,omitempty"`
	AdapterTag string `yaml:"adapter_tag,omitempty" json:"adapter_tag,omitempty"`
}

// StreamingConfig describes how to decode and interpret a streaming
// response body (§3, §4.2).
type StreamingConfig struct {
	DecoderFormat string             `yaml:"decoder_format" json:"decoder_format"`
	ContentPath   string             `yaml:"content_path" json:"content_path"`
	ToolCallPath  string             `yaml:"tool_call_path,omitempty" json:"tool_call_path,omitempty"`
	UsagePath     string             `yaml:"usage_path,omitempty" json:"usage_path,omitempty"`
	EventMap      []EventMapRule     `yaml:"event_map,omitempty" json:"event_map,omitempty"`
	StopCondition string             `yaml:"stop_condition,omitempty" json:"stop_condition,omitempty"`
	Accumulator   *AccumulatorConfig `yaml:"accumulator,omitempty" json:"accumulator,omitempty"`
	Candidate     *CandidateConfig   `yaml:"candidate,omitempty" json:"candidate,omitempty"`
	SelectorExpr  string             `yaml:"selector,omitempty" json:"selector,omitempty"`
	MaxFrameBytes int                `yaml:"max_frame_bytes,omitempty" json:"max_frame_bytes,omitempty"`
}

// EventMapRule is one row of the precompiled {match_expr -> event_template}
// table (§4.2 Event mapper).
type EventMapRule struct {
	Match    string `yaml:"match" json:"match"`
	Template string `yaml:"template" json:"template"` // "content_delta"|"tool_call_start"|"tool_call_delta"|"usage"|"stream_end"
}

// AccumulatorConfig controls per-tool-call fragment buffering (§4.2
// Accumulator).
type AccumulatorConfig struct {
	KeyPath string `yaml:"key_path" json:"key_path"`
	FlushOn string `yaml:"flush_on,omitempty" json:"flush_on,omitempty"`
}

// CandidateConfig controls multi-candidate fan-out (§4.2 Fan-out).
type CandidateConfig struct {
	FanOut         bool   `yaml:"fan_out" json:"fan_out"`
	CandidateIDPath string `yaml:"candidate_id_path,omitempty" json:"candidate_id_path,omitempty"`
}

// ToolUseConfig describes where to find tool-call fields in a streamed or
// non-streamed frame (§3 tooling).
type ToolUseConfig struct {
	IDPath      string `yaml:"id_path" json:"id_path"`
	NamePath    string `yaml:"name_path" json:"name_path"`
	InputPath   string `yaml:"input_path" json:"input_path"`
	InputFormat string `yaml:"input_format" json:"input_format"` // "json"|"text"
	IndexPath   string `yaml:"index_path,omitempty" json:"index_path,omitempty"`
}

// ToolingConfig wraps the tool-call extraction rules.
type ToolingConfig struct {
	ToolUse ToolUseConfig `yaml:"tool_use" json:"tool_use"`
}

// Termination describes how to extract the provider's finish reason.
type Termination struct {
	Path      string            `yaml:"path" json:"path"`
	ValueMap  map[string]string `yaml:"value_map,omitempty" json:"value_map,omitempty"`
}

// ErrorClassification holds the two lookup tables used by the
// classification priority chain (§4.5).
type ErrorClassification struct {
	ByErrorStatus map[string]core.StandardCode `yaml:"by_error_status,omitempty" json:"by_error_status,omitempty"`
	ByHTTPStatus  map[string]core.StandardCode `yaml:"by_http_status,omitempty" json:"by_http_status,omitempty"`
}

// RetryPolicyConfig is the manifest-declared retry shape consumed by the
// policy engine's retry decision (§4.3).
type RetryPolicyConfig struct {
	Strategy        string `yaml:"strategy" json:"strategy"` // "exponential"|"fixed"
	MaxRetries      int    `yaml:"max_retries" json:"max_retries"`
	MinDelayMS      int    `yaml:"min_delay_ms" json:"min_delay_ms"`
	MaxDelayMS      int    `yaml:"max_delay_ms" json:"max_delay_ms"`
	Jitter          string `yaml:"jitter" json:"jitter"` // "none"|"full"
	RetryOnHTTP     []int  `yaml:"retry_on_http_status,omitempty" json:"retry_on_http_status,omitempty"`
}

// ServiceDefinition is one management operation (e.g. list_models).
type ServiceDefinition struct {
	Endpoint        Endpoint          `yaml:"endpoint" json:"endpoint"`
	ResponseBinding map[string]string `yaml:"response_binding,omitempty" json:"response_binding,omitempty"`
}

// Manifest is the typed, immutable declaration of one provider's API
// contract (§3). Zero value is never valid; construct via Parse.
type Manifest struct {
	Schema          string                       `yaml:"schema,omitempty" json:"schema,omitempty"`
	ID              string                       `yaml:"id,omitempty" json:"id,omitempty"`
	ProtocolVersion string                       `yaml:"protocol_version" json:"protocol_version"`
	ProviderID      string                       `yaml:"provider_id" json:"provider_id"`
	Status          ProtocolStatus               `yaml:"status,omitempty" json:"status,omitempty"`
	BaseURL         string                       `yaml:"base_url" json:"base_url"`
	Auth            AuthConfig                   `yaml:"auth" json:"auth"`
	Endpoints       map[string]Endpoint          `yaml:"endpoints" json:"endpoints"`
	Capabilities    Capabilities                 `yaml:"capabilities" json:"capabilities"`
	ParameterMaps   map[string]string             `yaml:"parameter_mappings" json:"parameter_mappings"`
	Streaming       *StreamingConfig             `yaml:"streaming,omitempty" json:"streaming,omitempty"`
	Tooling         *ToolingConfig               `yaml:"tooling,omitempty" json:"tooling,omitempty"`
	Termination     Termination                  `yaml:"termination,omitempty" json:"termination,omitempty"`
	ErrorClass      ErrorClassification          `yaml:"error_classification,omitempty" json:"error_classification,omitempty"`
	RetryPolicy     RetryPolicyConfig            `yaml:"retry_policy,omitempty" json:"retry_policy,omitempty"`
	RateLimitHeaders []string                    `yaml:"rate_limit_headers,omitempty" json:"rate_limit_headers,omitempty"`
	Services        map[string]ServiceDefinition `yaml:"services,omitempty" json:"services,omitempty"`
}

// Endpoint looks up a named endpoint, returning ok=false if undeclared.
func (m *Manifest) Endpoint(id string) (Endpoint, bool) {
	ep, ok := m.Endpoints[id]
	return ep, ok
}

// EffectiveBaseURL returns the endpoint's override base URL, falling back
// to the manifest-level default.
func (m *Manifest) EffectiveBaseURL(ep Endpoint) string {
	if ep.BaseURL != "" {
		return ep.BaseURL
	}
	return m.BaseURL
}

// SupportsCapability reports whether cap is declared (§3: treats both the
// list and map manifest shapes as a boolean-membership set).
func (m *Manifest) SupportsCapability(cap core.Capability) bool {
	return m.Capabilities.Has(string(cap))
}

// SupportsMultimodalImage reports whether this manifest accepts image
// content, per §4.3 pre-flight rule 1 ("vision" OR "multimodal").
func (m *Manifest) SupportsMultimodalImage() bool {
	return m.Capabilities.Has("multimodal") || m.Capabilities.Has("vision")
}

// SupportsMultimodalAudio reports whether this manifest accepts audio
// content, per §4.3 pre-flight rule 1 ("audio" OR "multimodal").
func (m *Manifest) SupportsMultimodalAudio() bool {
	return m.Capabilities.Has("multimodal") || m.Capabilities.Has("audio")
}

// ClassifyProviderCode resolves a provider error-code string directly
// against this manifest's by_error_status table (§4.5 step 1), falling
// through core.CanonicalizeProviderCode's fixed alias table when the
// manifest itself has no entry. Blank/whitespace-only codes are treated
// as absent (SPEC_FULL.md Open Questions).
func (m *Manifest) ClassifyProviderCode(rawCode string) (core.StandardCode, bool) {
	trimmed := trimSpace(rawCode)
	if trimmed == "" {
		return "", false
	}
	if code, ok := m.ErrorClass.ByErrorStatus[trimmed]; ok {
		return code, true
	}
	if code, ok := core.CanonicalizeProviderCode(trimmed); ok {
		return code, true
	}
	return "", false
}

// ClassifyHTTPStatus resolves an HTTP status against this manifest's
// by_http_status table (§4.5 step 2), falling through to the standard
// mapping (§4.5 step 3) when absent.
func (m *Manifest) ClassifyHTTPStatus(status int) core.StandardCode {
	key := fmt.Sprintf("%d", status)
	if code, ok := m.ErrorClass.ByHTTPStatus[key]; ok {
		return code
	}
	return core.StandardHTTPMapping(status)
}

func trimSpace(s string) string {
	start, end := 0, len(s)
	for start < end && isSpace(s[start]) {
		start++
	}
	for end > start && isSpace(s[end-1]) {
		end--
	}
	return s[start:end]
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
