package pipeline

import (
	"strings"

	"github.com/petal-labs/conduit/jsonpath"
	"github.com/petal-labs/conduit/manifest"
	"github.com/tidwall/gjson"
)

// Accumulator buffers per-tool-call argument fragments keyed by tool-call
// id, flushing the concatenated whole back into the frame when
// accumulator.flush_on matches (§4.2 Accumulator). Distinct ids accumulate
// independently, so interleaved tool calls never interfere with each
// other — the grounding for this is the teacher's toolcalls.Assembler,
// generalized from a fixed index key to a manifest-declared id path.
type Accumulator struct {
	cfg     *manifest.AccumulatorConfig
	tooling manifest.ToolUseConfig
	flushOn *jsonpath.Expr
	buffers map[string]*strings.Builder
}

// NewAccumulator builds an Accumulator from a manifest's streaming and
// tooling config. A manifest with no accumulator declared (most providers
// that emit whole tool-call arguments per frame, not fragments) yields a
// nil *Accumulator whose Process is a no-op passthrough.
func NewAccumulator(streaming *manifest.StreamingConfig, tooling *manifest.ToolingConfig) (*Accumulator, error) {
	if streaming == nil || streaming.Accumulator == nil {
		return nil, nil
	}
	var toolUse manifest.ToolUseConfig
	if tooling != nil {
		toolUse = tooling.ToolUse
	}
	a := &Accumulator{
		cfg:     streaming.Accumulator,
		tooling: toolUse,
		buffers: make(map[string]*strings.Builder),
	}
	if streaming.Accumulator.FlushOn != "" {
		expr, err := jsonpath.Compile(streaming.Accumulator.FlushOn)
		if err != nil {
			return nil, err
		}
		a.flushOn = expr
	}
	return a, nil
}

// Process appends this frame's fragment to the id's buffer and, if
// flush_on matches, rewrites the frame's key_path with the full
// concatenated string before returning it.
//
// intercepted reports whether this frame belongs to a buffered tool-call
// fragment sequence at all (tooling.tool_use.id_path resolved); flushed
// reports whether flush_on matched on this call. A caller should drop any
// frame where intercepted is true and flushed is false — it is a fragment
// still being buffered, not yet ready for the event mapper (§4.2).
func (a *Accumulator) Process(data []byte) (out []byte, intercepted, flushed bool, err error) {
	if a == nil || a.tooling.IDPath == "" {
		return data, false, false, nil
	}
	frame := gjson.ParseBytes(data)
	id := jsonpath.GetFromResult(frame, a.tooling.IDPath)
	if !id.Exists() {
		return data, false, false, nil
	}
	key := id.String()

	fragment := jsonpath.GetFromResult(frame, a.cfg.KeyPath)
	buf, ok := a.buffers[key]
	if !ok {
		buf = &strings.Builder{}
		a.buffers[key] = buf
	}
	if fragment.Exists() {
		buf.WriteString(fragment.String())
	}

	if a.flushOn == nil || !a.flushOn.Eval(frame) {
		return data, true, false, nil
	}

	whole := buf.String()
	delete(a.buffers, key)
	out, err = jsonpath.Set(data, a.cfg.KeyPath, whole)
	if err != nil {
		return data, true, false, err
	}
	return out, true, true, nil
}
