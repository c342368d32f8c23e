// Package pipeline turns one call's raw HTTP body bytes into the
// normalized StreamEvent sequence: decoder -> selector -> accumulator ->
// fan-out -> event mapper (§4.2).
package pipeline

import (
	"context"
	"io"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/jsonpath"
	"github.com/petal-labs/conduit/manifest"
	"github.com/tidwall/gjson"
)

// Pipeline is the precompiled operator chain for one manifest's streaming
// config. Build once per manifest (or per endpoint), reuse across calls —
// every path and expression inside it is already compiled (§4.2 "Rule
// precompilation"); per-stream mutable state (accumulator buffers) lives
// in a fresh Accumulator created per Run, not in the Pipeline itself.
type Pipeline struct {
	manifest      *manifest.Manifest
	selector      *Selector
	mapper        *EventMapper
	fanout        *FanOut
	stopCondition *jsonpath.Expr
	decoderFormat string
	maxFrameBytes int
}

// New compiles a Pipeline from a manifest. The manifest must have passed
// manifest.Validate first; New does not re-validate.
func New(m *manifest.Manifest) (*Pipeline, error) {
	p := &Pipeline{manifest: m}
	if m.Streaming == nil {
		return p, nil
	}
	p.decoderFormat = m.Streaming.DecoderFormat
	p.maxFrameBytes = m.Streaming.MaxFrameBytes

	sel, err := NewSelector(m.Streaming.SelectorExpr)
	if err != nil {
		return nil, err
	}
	p.selector = sel

	mapper, err := NewEventMapper(m)
	if err != nil {
		return nil, err
	}
	p.mapper = mapper

	p.fanout = NewFanOut(m.Streaming)

	if m.Streaming.StopCondition != "" {
		expr, err := jsonpath.Compile(m.Streaming.StopCondition)
		if err != nil {
			return nil, err
		}
		p.stopCondition = expr
	}
	return p, nil
}

// Run decodes body and emits the normalized event sequence on the
// returned ChatStream. It guarantees the terminal-event invariant (§4.2
// invariant d): exactly one StreamEnd xor StreamError is sent before the
// channel closes, even on decode error, frame-too-large, or ctx
// cancellation (§5 Cancellation semantics).
func (p *Pipeline) Run(ctx context.Context, body io.ReadCloser, requestID string) *core.ChatStream {
	events := make(chan core.StreamEvent)
	go p.drive(ctx, body, requestID, events)
	return &core.ChatStream{Events: events}
}

func (p *Pipeline) drive(ctx context.Context, body io.ReadCloser, requestID string, out chan<- core.StreamEvent) {
	defer close(out)
	defer body.Close()

	decoder, err := NewDecoder(p.decoderFormat, p.maxFrameBytes)
	if err != nil {
		p.emit(ctx, out, core.StreamStart{RequestID: requestID})
		p.emitError(ctx, out, core.CodeUnknown, err.Error(), false, false)
		return
	}

	accumulator, err := NewAccumulator(p.manifest.Streaming, p.manifest.Tooling)
	if err != nil {
		p.emit(ctx, out, core.StreamStart{RequestID: requestID})
		p.emitError(ctx, out, core.CodeUnknown, err.Error(), false, false)
		return
	}

	if !p.emit(ctx, out, core.StreamStart{RequestID: requestID}) {
		return
	}

	buf := make([]byte, 32*1024)
	sawAnyFrame := false

	for {
		select {
		case <-ctx.Done():
			p.emitCancelled(out)
			return
		default:
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			frames, decErr := decoder.Feed(buf[:n])
			if decErr != nil {
				p.emitError(ctx, out, classifyDecodeErr(decErr), decErr.Error(), decErr != ErrFrameTooLarge, true)
				return
			}
			for _, f := range frames {
				sawAnyFrame = true
				if p.handleFrame(ctx, accumulator, f, out) {
					return // terminal event already emitted
				}
			}
		}
		if readErr != nil {
			if readErr == io.EOF {
				frames, flushErr := decoder.Flush()
				if flushErr != nil {
					code := core.CodeServerError
					if !sawAnyFrame {
						code = core.CodeServerError
					}
					p.emitError(ctx, out, code, flushErr.Error(), true, true)
					return
				}
				for _, f := range frames {
					if p.handleFrame(ctx, accumulator, f, out) {
						return
					}
				}
				// EOF with no stop_condition/sentinel ever matched: synthesize
				// a terminal event rather than silently closing (§7: "streaming
				// pipelines that cannot produce any event must terminate with
				// StreamError, not with StreamEnd").
				if !sawAnyFrame {
					p.emitError(ctx, out, core.CodeServerError, "stream closed before any frame was observed", true, true)
					return
				}
				p.emit(ctx, out, core.StreamEnd{FinishReason: "stop"})
				return
			}
			if ctx.Err() != nil {
				p.emitCancelled(out)
				return
			}
			p.emitError(ctx, out, core.CodeServerError, readErr.Error(), true, true)
			return
		}
	}
}

// handleFrame runs one decoded frame through selector -> accumulator ->
// fan-out -> event mapper. It returns true if a terminal event was
// emitted (the caller must stop driving).
func (p *Pipeline) handleFrame(ctx context.Context, accumulator *Accumulator, f Frame, out chan<- core.StreamEvent) bool {
	if f.Sentinel {
		p.emit(ctx, out, core.StreamEnd{FinishReason: "stop"})
		return true
	}
	if len(f.Data) == 0 {
		return false
	}
	parsed := gjson.ParseBytes(f.Data)

	if p.selector != nil && !p.selector.Keep(parsed) {
		return false
	}

	data, intercepted, flushed, err := accumulator.Process(f.Data)
	if err != nil {
		p.emitError(ctx, out, core.CodeUnknown, err.Error(), false, false)
		return true
	}
	if intercepted && !flushed {
		return false // fragment still buffering; nothing to emit yet
	}
	parsed = gjson.ParseBytes(data)

	if p.stopCondition != nil && p.stopCondition.Eval(parsed) {
		p.emit(ctx, out, core.StreamEnd{FinishReason: p.finishReasonOrDefault(parsed)})
		return true
	}

	idx := p.fanout.Index(parsed)
	if p.mapper == nil {
		return false
	}
	ev, ok := p.mapper.Map(parsed, idx)
	if !ok {
		return false // unknown frame, dropped silently (§4.2)
	}
	if !p.emit(ctx, out, ev) {
		return true
	}
	if _, isEnd := ev.(core.StreamEnd); isEnd {
		return true
	}
	return false
}

func (p *Pipeline) finishReasonOrDefault(frame gjson.Result) string {
	if p.mapper == nil {
		return "stop"
	}
	if fr := p.mapper.finishReason(frame); fr != "" {
		return fr
	}
	return "stop"
}

func classifyDecodeErr(err error) core.StandardCode {
	if err == ErrFrameTooLarge {
		return core.CodeInvalidRequest
	}
	return core.CodeServerError
}

// emit sends ev on out, respecting cancellation. It returns false if ctx
// was cancelled before the send completed (caller should stop, having
// already emitted cancellation separately if needed).
func (p *Pipeline) emit(ctx context.Context, out chan<- core.StreamEvent, ev core.StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *Pipeline) emitError(ctx context.Context, out chan<- core.StreamEvent, code core.StandardCode, msg string, retryable, fallbackable bool) {
	p.emit(ctx, out, core.StreamError{
		StandardCode: code,
		Message:      msg,
		Retryable:    retryable,
		Fallbackable: fallbackable,
	})
}

func (p *Pipeline) emitCancelled(out chan<- core.StreamEvent) {
	// Cancellation produces exactly one StreamEnd{finish_reason:
	// "cancelled"}, not a StreamError (§5 Cancellation semantics). ctx is
	// already Done at every call site, so send unconditionally rather than
	// racing emit's own ctx.Done branch (which would drop the event).
	out <- core.StreamEnd{FinishReason: "cancelled"}
}
