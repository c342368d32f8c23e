package client

import (
	"context"

	"github.com/petal-labs/conduit/core"
)

// ChatBuilder accumulates one Unified Request fluently, mirroring the
// teacher's core.ChatBuilder shape, before GetResponse or Stream drives it
// through the attempt loop.
type ChatBuilder struct {
	client *AiClient
	req    core.ChatRequest
}

// System appends a system-role message.
func (b *ChatBuilder) System(content string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, core.Message{Role: core.RoleSystem, Content: content})
	return b
}

// User appends a user-role message.
func (b *ChatBuilder) User(content string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, core.Message{Role: core.RoleUser, Content: content})
	return b
}

// Assistant appends an assistant-role message, for seeding multi-turn
// history.
func (b *ChatBuilder) Assistant(content string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, core.Message{Role: core.RoleAssistant, Content: content})
	return b
}

// Message appends an already-assembled Message, for callers building
// multimodal content via core.ContentPart directly.
func (b *ChatBuilder) Message(m core.Message) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, m)
	return b
}

// ToolResult appends a tool-role message carrying the result of a
// previously requested tool call, keyed by toolCallID.
func (b *ChatBuilder) ToolResult(toolCallID, content string) *ChatBuilder {
	b.req.Messages = append(b.req.Messages, core.Message{
		Role:       core.RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
	})
	return b
}

func (b *ChatBuilder) Temperature(v float64) *ChatBuilder { b.req.Temperature = &v; return b }
func (b *ChatBuilder) MaxTokens(v int) *ChatBuilder        { b.req.MaxTokens = &v; return b }
func (b *ChatBuilder) TopP(v float64) *ChatBuilder         { b.req.TopP = &v; return b }
func (b *ChatBuilder) Seed(v int) *ChatBuilder             { b.req.Seed = &v; return b }
func (b *ChatBuilder) PresencePenalty(v float64) *ChatBuilder {
	b.req.PresencePenalty = &v
	return b
}
func (b *ChatBuilder) FrequencyPenalty(v float64) *ChatBuilder {
	b.req.FrequencyPenalty = &v
	return b
}

// Tools declares the tools offered to the model for this call.
func (b *ChatBuilder) Tools(tools ...core.ToolDefinition) *ChatBuilder {
	b.req.Tools = append(b.req.Tools, tools...)
	return b
}

// ToolChoice constrains how the model must use the declared tools.
func (b *ChatBuilder) ToolChoice(choice string) *ChatBuilder {
	b.req.ToolChoice = choice
	return b
}

// ResponseFormat constrains the shape of the model's output.
func (b *ChatBuilder) ResponseFormat(rf *core.ResponseFormat) *ChatBuilder {
	b.req.ResponseFormat = rf
	return b
}

// Stop sets the stop-sequence list.
func (b *ChatBuilder) Stop(sequences ...string) *ChatBuilder {
	b.req.Stop = sequences
	return b
}

// Fallbacks overrides the client-level default fallback chain for this
// call only (§3).
func (b *ChatBuilder) Fallbacks(chain ...core.ModelID) *ChatBuilder {
	b.req.Fallbacks = chain
	return b
}

// GetResponse runs the attempt loop as a single non-streaming call and
// collapses the result into a *core.ChatResponse (§4.6).
func (b *ChatBuilder) GetResponse(ctx context.Context) (*core.ChatResponse, *core.CallStats, error) {
	b.req.Stream = false
	if err := b.req.Validate(); err != nil {
		return nil, nil, err
	}
	return runNonStreaming(ctx, b.client, &b.req)
}

// Stream runs the attempt loop and returns a *core.ChatStream once the
// first attempt's transport round trip has succeeded. No further retry or
// fallback happens once this call returns successfully: every event from
// here on, including a mid-stream StreamError, is surfaced to the caller
// as-is (§4.6 "no retry after any event has reached the caller").
func (b *ChatBuilder) Stream(ctx context.Context) (*core.ChatStream, *core.CallStats, error) {
	b.req.Stream = true
	if err := b.req.Validate(); err != nil {
		return nil, nil, err
	}
	return runStreaming(ctx, b.client, &b.req)
}
