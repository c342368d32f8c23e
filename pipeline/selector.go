package pipeline

import (
	"github.com/petal-labs/conduit/jsonpath"
	"github.com/tidwall/gjson"
)

// Selector is the optional per-frame filter described in §4.2: a false
// selector drops the frame before it reaches the accumulator/event mapper.
// A nil *Selector (no selector configured) always keeps the frame.
type Selector struct {
	expr *jsonpath.Expr
}

// NewSelector compiles exprStr once at pipeline-construction time (§4.2
// "Rule precompilation"). An empty string produces a Selector that keeps
// every frame.
func NewSelector(exprStr string) (*Selector, error) {
	if exprStr == "" {
		return nil, nil
	}
	expr, err := jsonpath.Compile(exprStr)
	if err != nil {
		return nil, err
	}
	return &Selector{expr: expr}, nil
}

// Keep reports whether frame should continue through the pipeline.
func (s *Selector) Keep(frame gjson.Result) bool {
	if s == nil {
		return true
	}
	return s.expr.Eval(frame)
}
