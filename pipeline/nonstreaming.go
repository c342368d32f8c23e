package pipeline

import (
	"context"

	"github.com/petal-labs/conduit/core"
	"github.com/tidwall/gjson"
)

// RunNonStreaming treats body as a single complete frame: it runs the
// same selector -> accumulator -> fan-out -> event mapper chain over it
// once, then collapses the resulting events into a ChatResponse via
// core.CollectResponse (§4.2 "Non-streaming response": the same operator
// chain runs over the single complete body, then collapses exactly as
// streaming responses do for non-streaming callers").
//
// Providers whose non-streaming payload shape differs from their
// streaming frame shape (nested choices arrays, a top-level usage object
// rather than a per-frame one) are handled by the manifest's streaming
// paths resolving correctly against the whole-body shape; manifests for
// which that is not true should declare a dedicated non-streaming
// response_binding under services instead of relying on this path.
func (p *Pipeline) RunNonStreaming(ctx context.Context, body []byte, requestID string) (*core.ChatResponse, error) {
	events := make(chan core.StreamEvent, 64)
	go func() {
		defer close(events)
		events <- core.StreamStart{RequestID: requestID}

		accumulator, err := NewAccumulator(p.manifest.Streaming, p.manifest.Tooling)
		if err != nil {
			events <- core.StreamError{StandardCode: core.CodeUnknown, Message: err.Error()}
			return
		}

		if p.emitNonStreamingFrame(accumulator, body, events) {
			return
		}
		events <- core.StreamEnd{FinishReason: "stop"}
	}()
	return core.CollectResponse(ctx, events)
}

// emitNonStreamingFrame mirrors handleFrame's selector/accumulator/fan-out
// sequencing, but uses MapAll instead of Map since one whole-body frame
// typically carries content, tool calls, usage, and finish_reason all at
// once rather than one fact per frame the way streaming frames do. It
// returns true if a StreamEnd was among the emitted events.
func (p *Pipeline) emitNonStreamingFrame(accumulator *Accumulator, data []byte, out chan<- core.StreamEvent) bool {
	if len(data) == 0 {
		return false
	}
	parsed := gjson.ParseBytes(data)

	if p.selector != nil && !p.selector.Keep(parsed) {
		return false
	}

	out2, intercepted, flushed, err := accumulator.Process(data)
	if err != nil {
		out <- core.StreamError{StandardCode: core.CodeUnknown, Message: err.Error()}
		return true
	}
	if intercepted && !flushed {
		return false
	}
	parsed = gjson.ParseBytes(out2)

	if p.mapper == nil {
		return false
	}
	idx := p.fanout.Index(parsed)
	sawEnd := false
	for _, ev := range p.mapper.MapAll(parsed, idx) {
		out <- ev
		if _, isEnd := ev.(core.StreamEnd); isEnd {
			sawEnd = true
		}
	}
	return sawEnd
}
