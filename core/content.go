package core

import "encoding/json"

// ContentPart is one block of a multimodal message. Content is either a
// plain string or an ordered list of ContentParts (§3 Data Model).
type ContentPart interface {
	ContentType() string
}

// TextPart is a plain-text content block.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) ContentType() string { return "text" }

// ImageSource identifies where ImagePart's bytes come from.
type ImageSource string

const (
	ImageSourceURL    ImageSource = "url"
	ImageSourceBase64 ImageSource = "base64"
	ImageSourceFile   ImageSource = "file"
)

// ImagePart is an image content block. Exactly one of URL/Data/FileID is
// populated, selected by Source.
type ImagePart struct {
	Source    ImageSource `json:"source"`
	MediaType string      `json:"media_type,omitempty"`
	URL       string      `json:"url,omitempty"`
	Data      string      `json:"data,omitempty"`
	FileID    string      `json:"file_id,omitempty"`
}

func (ImagePart) ContentType() string { return "image" }

// AudioPart is an audio content block, keyed the same way as ImagePart.
type AudioPart struct {
	Source    ImageSource `json:"source"`
	MediaType string      `json:"media_type,omitempty"`
	URL       string      `json:"url,omitempty"`
	Data      string      `json:"data,omitempty"`
	FileID    string      `json:"file_id,omitempty"`
}

func (AudioPart) ContentType() string { return "audio" }

// ToolUsePart represents a model-emitted tool invocation embedded inline in
// message content (as distinct from the top-level ToolCalls slice on a
// ChatResponse — providers that interleave tool calls with text in their
// response format round-trip through this block).
type ToolUsePart struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

func (ToolUsePart) ContentType() string { return "tool_use" }

// ToolResultPart carries the result of a tool call back to the model as
// part of a user-role (or tool-role) message's content.
type ToolResultPart struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

func (ToolResultPart) ContentType() string { return "tool_result" }
