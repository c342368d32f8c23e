package core

import (
	"context"
	"encoding/json"
)

// StreamEvent is one tagged variant of the normalized streaming event
// sequence (§3 Streaming Event). Concrete types below implement it.
type StreamEvent interface {
	EventType() string
}

// StreamStart opens every successful streaming call. Exactly one is
// emitted per call (§4.2 invariant a).
type StreamStart struct {
	RequestID string `json:"request_id"`
}

func (StreamStart) EventType() string { return "stream_start" }

// PartialContentDelta carries one ordered chunk of assistant text for a
// candidate. All deltas for a given candidate appear in source order.
type PartialContentDelta struct {
	CandidateIndex *int   `json:"candidate_index,omitempty"`
	Content        string `json:"content"`
}

func (PartialContentDelta) EventType() string { return "partial_content_delta" }

// ToolCallStarted announces a new tool call id; it precedes every
// PartialToolCall carrying the same ID (§4.2 invariant c).
type ToolCallStarted struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	CandidateIndex *int   `json:"candidate_index,omitempty"`
}

func (ToolCallStarted) EventType() string { return "tool_call_started" }

// PartialToolCall carries one fragment (or, after accumulator flush, the
// complete value) of a tool call's arguments.
type PartialToolCall struct {
	ID                string          `json:"id"`
	ArgumentsFragment json.RawMessage `json:"arguments_fragment"`
	CandidateIndex    *int            `json:"candidate_index,omitempty"`
}

func (PartialToolCall) EventType() string { return "partial_tool_call" }

// Metadata carries out-of-band information observed mid-stream, most
// commonly usage accounting once the provider reports it.
type Metadata struct {
	Usage *TokenUsage `json:"usage,omitempty"`
	Model string      `json:"model,omitempty"`
}

func (Metadata) EventType() string { return "metadata" }

// StreamEnd is the successful terminal event; exactly one StreamEnd XOR
// one StreamError closes every stream (§4.2 invariant d).
type StreamEnd struct {
	FinishReason   string `json:"finish_reason"`
	CandidateIndex *int   `json:"candidate_index,omitempty"`
}

func (StreamEnd) EventType() string { return "stream_end" }

// StreamError is the failing terminal event.
type StreamError struct {
	StandardCode StandardCode `json:"standard_code"`
	Message      string       `json:"message"`
	Retryable    bool         `json:"retryable"`
	Fallbackable bool         `json:"fallbackable"`
}

func (StreamError) EventType() string { return "stream_error" }

// IntPtr is a small helper for constructing the optional candidate-index
// fields above without a local variable at every call site.
func IntPtr(v int) *int { return &v }

// ChatStream is the lazy, non-restartable sequence of StreamEvents for one
// streaming call (§9 "Coroutine control flow"). Events closes once the
// terminal event (StreamEnd or StreamError) has been sent and no further
// sends will occur. The consumer drives consumption rate; cancelling ctx
// propagates to the producer and down to transport.
type ChatStream struct {
	Events <-chan StreamEvent
}

// CollectResponse runs the non-streaming collapse described in §4.2: it
// drains every event from events, concatenating every content delta into
// one Content string (candidate indices are not kept apart), assembling tool calls from ToolCallStarted+PartialToolCall
// pairs, and attaching the last-seen usage and finish reason. Returns the
// StreamError's classification as an *AIError if the stream ended in
// error instead of StreamEnd.
func CollectResponse(ctx context.Context, events <-chan StreamEvent) (*ChatResponse, error) {
	resp := &ChatResponse{}
	pending := map[string]*pendingCall{}
	var order []string

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return resp, nil
			}
			switch e := ev.(type) {
			case StreamStart:
				// no-op: the non-streaming caller doesn't observe request_id here.
			case PartialContentDelta:
				resp.Content += e.Content
			case ToolCallStarted:
				if _, exists := pending[e.ID]; !exists {
					pending[e.ID] = &pendingCall{name: e.Name}
					order = append(order, e.ID)
				}
			case PartialToolCall:
				pc, exists := pending[e.ID]
				if !exists {
					pc = &pendingCall{}
					pending[e.ID] = pc
					order = append(order, e.ID)
				}
				pc.args = append(pc.args, e.ArgumentsFragment...)
			case Metadata:
				if e.Usage != nil {
					resp.Usage = *e.Usage
				}
			case StreamEnd:
				resp.FinishReason = e.FinishReason
				resp.ToolCalls = finalizeToolCalls(order, pending)
				return resp, nil
			case StreamError:
				return nil, &AIError{
					Code:         e.StandardCode,
					HumanMessage: e.Message,
				}
			}
		}
	}
}

type pendingCall struct {
	name string
	args json.RawMessage
}

func finalizeToolCalls(order []string, pending map[string]*pendingCall) []ToolCall {
	if len(order) == 0 {
		return nil
	}
	calls := make([]ToolCall, 0, len(order))
	for _, id := range order {
		pc := pending[id]
		args := pc.args
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{ID: id, Name: pc.name, Arguments: args})
	}
	return calls
}

// Drain reads every event from stream until it closes, forwarding content
// deltas to onDelta as they arrive, and returns the collapsed response.
// This mirrors the teacher's DrainStream convenience for callers that want
// to both observe incremental text and receive a final structured result.
func Drain(ctx context.Context, stream *ChatStream, onDelta func(string)) (*ChatResponse, error) {
	tee := make(chan StreamEvent)
	go func() {
		defer close(tee)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-stream.Events:
				if !ok {
					return
				}
				if d, ok := ev.(PartialContentDelta); ok && onDelta != nil {
					onDelta(d.Content)
				}
				select {
				case tee <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return CollectResponse(ctx, tee)
}
