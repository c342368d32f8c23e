package pipeline

import (
	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/jsonpath"
	"github.com/petal-labs/conduit/manifest"
	"github.com/tidwall/gjson"
)

// FanOut resolves the candidate index stamped on every event emitted for a
// frame (§4.2 Fan-out). A manifest that does not declare
// streaming.candidate.fan_out leaves every event's CandidateIndex unset
// (nil); one that does always stamps an index, defaulting to 0 when the
// provider only ever returns a single candidate (SPEC_FULL.md Open
// Questions: "candidate_index: 0 is emitted... even when only one
// candidate is observed").
type FanOut struct {
	cfg *manifest.CandidateConfig
}

// NewFanOut builds a FanOut from a manifest's streaming config.
func NewFanOut(streaming *manifest.StreamingConfig) *FanOut {
	if streaming == nil || streaming.Candidate == nil {
		return &FanOut{}
	}
	return &FanOut{cfg: streaming.Candidate}
}

// Index returns the candidate index to stamp on events derived from frame,
// or nil if fan-out is not enabled for this manifest.
func (f *FanOut) Index(frame gjson.Result) *int {
	if f == nil || f.cfg == nil || !f.cfg.FanOut {
		return nil
	}
	if f.cfg.CandidateIDPath == "" {
		return core.IntPtr(0)
	}
	v := jsonpath.GetFromResult(frame, f.cfg.CandidateIDPath)
	if !v.Exists() {
		return core.IntPtr(0)
	}
	return core.IntPtr(int(v.Int()))
}
