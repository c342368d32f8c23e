package pipeline

import (
	"encoding/json"

	"github.com/petal-labs/conduit/core"
	"github.com/petal-labs/conduit/jsonpath"
	"github.com/petal-labs/conduit/manifest"
	"github.com/tidwall/gjson"
)

// Template names recognized in a manifest's streaming.event_map (§4.2
// Event mapper).
const (
	TemplateContentDelta = "content_delta"
	TemplateToolCallStart = "tool_call_start"
	TemplateToolCallDelta = "tool_call_delta"
	TemplateUsage         = "usage"
	TemplateStreamEnd     = "stream_end"
)

type compiledRule struct {
	match    *jsonpath.Expr
	template string
}

// EventMapper is the precompiled {match_expr -> event_template} table
// (§4.2). Every path and expression is parsed once, at construction time;
// Map never re-parses a string.
type EventMapper struct {
	rules       []compiledRule
	streaming   *manifest.StreamingConfig
	toolUse     manifest.ToolUseConfig
	termination manifest.Termination
}

// NewEventMapper compiles a manifest's event_map and termination config.
func NewEventMapper(m *manifest.Manifest) (*EventMapper, error) {
	em := &EventMapper{streaming: m.Streaming, termination: m.Termination}
	if m.Tooling != nil {
		em.toolUse = m.Tooling.ToolUse
	}
	if m.Streaming == nil {
		return em, nil
	}
	for _, rule := range m.Streaming.EventMap {
		expr, err := jsonpath.Compile(rule.Match)
		if err != nil {
			return nil, err
		}
		em.rules = append(em.rules, compiledRule{match: expr, template: rule.Template})
	}
	return em, nil
}

// Map evaluates the rule table against frame (in source order) and builds
// the event the first matching rule's template describes. ok is false
// when no rule matches — the caller drops the frame silently (§4.2: "the
// frame is dropped silently"); dropped frames are neither counted nor
// logged.
func (em *EventMapper) Map(frame gjson.Result, candidateIdx *int) (core.StreamEvent, bool) {
	for _, r := range em.rules {
		if !r.match.Eval(frame) {
			continue
		}
		ev, ok := em.buildEvent(r.template, frame, candidateIdx)
		if ok {
			return ev, true
		}
	}
	return nil, false
}

// MapAll evaluates every rule against frame and returns one event per
// matching rule, in rule order. Streaming frames typically describe a
// single fact each and so only ever match one rule; a whole non-streaming
// response body, by contrast, carries content, usage, and finish_reason
// simultaneously, so the non-streaming collapse path uses MapAll instead
// of Map to recover all of them from the one frame it has.
func (em *EventMapper) MapAll(frame gjson.Result, candidateIdx *int) []core.StreamEvent {
	var events []core.StreamEvent
	for _, r := range em.rules {
		if !r.match.Eval(frame) {
			continue
		}
		if ev, ok := em.buildEvent(r.template, frame, candidateIdx); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (em *EventMapper) buildEvent(template string, frame gjson.Result, candidateIdx *int) (core.StreamEvent, bool) {
	switch template {
	case TemplateContentDelta:
		if em.streaming == nil || em.streaming.ContentPath == "" {
			return nil, false
		}
		v := jsonpath.GetFromResult(frame, em.streaming.ContentPath)
		if !v.Exists() {
			return nil, false
		}
		return core.PartialContentDelta{CandidateIndex: candidateIdx, Content: v.String()}, true

	case TemplateToolCallStart:
		id := jsonpath.GetFromResult(frame, em.toolUse.IDPath)
		if !id.Exists() {
			return nil, false
		}
		name := jsonpath.GetFromResult(frame, em.toolUse.NamePath)
		return core.ToolCallStarted{ID: id.String(), Name: name.String(), CandidateIndex: candidateIdx}, true

	case TemplateToolCallDelta:
		id := jsonpath.GetFromResult(frame, em.toolUse.IDPath)
		if !id.Exists() {
			return nil, false
		}
		v := jsonpath.GetFromResult(frame, em.toolUse.InputPath)
		if !v.Exists() {
			return nil, false
		}
		var fragment []byte
		if em.toolUse.InputFormat == "text" {
			fragment = []byte(v.String())
		} else {
			fragment = []byte(v.Raw)
		}
		return core.PartialToolCall{ID: id.String(), ArgumentsFragment: json.RawMessage(fragment), CandidateIndex: candidateIdx}, true

	case TemplateUsage:
		if em.streaming == nil || em.streaming.UsagePath == "" {
			return nil, false
		}
		obj := jsonpath.GetFromResult(frame, em.streaming.UsagePath)
		if !obj.Exists() {
			return nil, false
		}
		return core.Metadata{Usage: normalizeUsage(obj)}, true

	case TemplateStreamEnd:
		return core.StreamEnd{FinishReason: em.finishReason(frame), CandidateIndex: candidateIdx}, true

	default:
		return nil, false
	}
}

// finishReason extracts the provider's finish-reason string and applies
// the manifest's value_map, if any (§4 Termination).
func (em *EventMapper) finishReason(frame gjson.Result) string {
	if em.termination.Path == "" {
		return ""
	}
	raw := jsonpath.GetFromResult(frame, em.termination.Path).String()
	if mapped, ok := em.termination.ValueMap[raw]; ok {
		return mapped
	}
	return raw
}

// usageKeyAliases maps the camelCase keys some providers use onto the
// unified snake_case shape (§4.2: "unifies into the standard usage shape
// (keys normalized: camelCase -> snake_case)").
var usageKeyAliases = map[string]string{
	"promptTokens":     "prompt_tokens",
	"completionTokens": "completion_tokens",
	"totalTokens":      "total_tokens",
	"cachedTokens":     "cached_tokens",
	"prompt_tokens":     "prompt_tokens",
	"completion_tokens": "completion_tokens",
	"total_tokens":      "total_tokens",
	"cached_tokens":     "cached_tokens",
	// Anthropic shapes
	"input_tokens":          "prompt_tokens",
	"output_tokens":         "completion_tokens",
	"cache_read_input_tokens": "cached_tokens",
}

func normalizeUsage(obj gjson.Result) *core.TokenUsage {
	usage := &core.TokenUsage{}
	obj.ForEach(func(key, value gjson.Result) bool {
		canon, ok := usageKeyAliases[key.String()]
		if !ok {
			return true
		}
		switch canon {
		case "prompt_tokens":
			usage.PromptTokens += int(value.Int())
		case "completion_tokens":
			usage.CompletionTokens += int(value.Int())
		case "total_tokens":
			usage.TotalTokens += int(value.Int())
		case "cached_tokens":
			v := int(value.Int())
			usage.CachedTokens = &v
		}
		return true
	})
	if usage.TotalTokens == 0 && (usage.PromptTokens > 0 || usage.CompletionTokens > 0) {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}
	return usage
}
