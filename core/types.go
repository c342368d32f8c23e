package core

import "encoding/json"

// ModelID is a "provider/model" identifier, e.g. "openai/gpt-4o".
type ModelID string

// Role is a message's position in the conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Capability names the runtime gates requests against (§3 Manifest).
type Capability string

const (
	CapabilityChat        Capability = "chat"
	CapabilityStreaming   Capability = "streaming"
	CapabilityTools       Capability = "tools"
	CapabilityMultimodal  Capability = "multimodal"
	CapabilityVision      Capability = "vision"
	CapabilityAudio       Capability = "audio"
	CapabilityReasoning   Capability = "reasoning"
	CapabilityComputerUse Capability = "computer_use"
	CapabilityMCP         Capability = "mcp"
	CapabilityEmbeddings  Capability = "embeddings"
)

// Message is one turn of the conversation. Content is either a plain
// string (Content non-empty, Parts nil) or an ordered list of content
// blocks (Parts non-nil, Content empty) — never both.
type Message struct {
	Role       Role          `json:"role"`
	Content    string        `json:"content,omitempty"`
	Parts      []ContentPart `json:"parts,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// Text returns the message's flattened textual content: Content verbatim,
// or the concatenation of every TextPart in Parts.
func (m Message) Text() string {
	if m.Content != "" || m.Parts == nil {
		return m.Content
	}
	var out string
	for _, p := range m.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// ToolDefinition describes one callable tool offered to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ToolCall is a model-requested invocation of one tool, fully assembled
// (streaming fragments already concatenated and validated as JSON).
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ResponseFormat constrains the shape of the model's output.
type ResponseFormat struct {
	Type   string          `json:"type"` // "text" | "json_object" | "json_schema"
	Schema json.RawMessage `json:"schema,omitempty"`
}

// ChatRequest is the Unified Request: the caller's provider-independent
// input (§3).
type ChatRequest struct {
	Model             ModelID          `json:"model"`
	Messages          []Message        `json:"messages"`
	Stream            bool             `json:"stream"`
	Temperature       *float64         `json:"temperature,omitempty"`
	MaxTokens         *int             `json:"max_tokens,omitempty"`
	TopP              *float64         `json:"top_p,omitempty"`
	Tools             []ToolDefinition `json:"tools,omitempty"`
	ToolChoice        string           `json:"tool_choice,omitempty"`
	ResponseFormat    *ResponseFormat  `json:"response_format,omitempty"`
	Stop              []string         `json:"stop,omitempty"`
	Seed              *int             `json:"seed,omitempty"`
	PresencePenalty   *float64         `json:"presence_penalty,omitempty"`
	FrequencyPenalty  *float64         `json:"frequency_penalty,omitempty"`

	// Fallbacks overrides the client-level fallback chain for this call
	// only; nil means use the client's configured default.
	Fallbacks []ModelID `json:"-"`
}

// Validate checks the request-level invariants enforced before any
// manifest lookup (§4.3 pre-flight runs capability checks separately).
func (r *ChatRequest) Validate() error {
	if r.Model == "" {
		return ErrModelRequired
	}
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	return nil
}

// HasImageContent reports whether any message carries an image block.
func (r *ChatRequest) HasImageContent() bool {
	for _, m := range r.Messages {
		for _, p := range m.Parts {
			if _, ok := p.(ImagePart); ok {
				return true
			}
		}
	}
	return false
}

// HasAudioContent reports whether any message carries an audio block.
func (r *ChatRequest) HasAudioContent() bool {
	for _, m := range r.Messages {
		for _, p := range m.Parts {
			if _, ok := p.(AudioPart); ok {
				return true
			}
		}
	}
	return false
}

// TokenUsage is the unified usage shape; zero fields are omitted on
// marshal and left at their zero value when the provider didn't report
// them (CachedTokens is a pointer because 0 and "not reported" differ).
type TokenUsage struct {
	PromptTokens     int  `json:"prompt_tokens,omitempty"`
	CompletionTokens int  `json:"completion_tokens,omitempty"`
	TotalTokens      int  `json:"total_tokens,omitempty"`
	CachedTokens     *int `json:"cached_tokens,omitempty"`
}

// ChatResponse is the Unified Response for a non-streaming call (§3), and
// also what a streaming call collapses to via CollectResponse.
type ChatResponse struct {
	Content         string       `json:"content"`
	ToolCalls       []ToolCall   `json:"tool_calls,omitempty"`
	Usage           TokenUsage   `json:"usage"`
	FinishReason    string       `json:"finish_reason,omitempty"`
	RawStandardCode StandardCode `json:"raw_standard_code,omitempty"`
}
