package jsonpath

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Expr is a precompiled match expression: an OR of AND-groups, left to
// right, no parentheses (§4.2 Selector / Event mapper grammar). Compiling
// once at pipeline-construction time and evaluating the compiled form at
// runtime is required by §4.2 "Rule precompilation".
type Expr struct {
	raw      string
	orGroups [][]condition
}

type condOp int

const (
	opExists condOp = iota
	opEq
	opNeq
	opLt
	opLte
	opGt
	opGte
	opGlob
	opIn
)

type condition struct {
	op       condOp
	path     string
	strVal   string
	numVal   float64
	hasNum   bool
	isNull   bool
	listVals []string
	globRe   *regexp.Regexp
}

// Compile parses a match expression into its executable form. An empty
// string compiles to an always-true expression (used where a rule or
// selector has no filter).
func Compile(exprStr string) (*Expr, error) {
	exprStr = strings.TrimSpace(exprStr)
	if exprStr == "" {
		return &Expr{raw: exprStr, orGroups: [][]condition{{}}}, nil
	}
	e := &Expr{raw: exprStr}
	for _, orPart := range strings.Split(exprStr, "||") {
		var group []condition
		for _, andPart := range strings.Split(orPart, "&&") {
			atom := strings.TrimSpace(andPart)
			if atom == "" {
				continue
			}
			c, err := compileAtom(atom)
			if err != nil {
				return nil, fmt.Errorf("jsonpath: %q: %w", exprStr, err)
			}
			group = append(group, c)
		}
		e.orGroups = append(e.orGroups, group)
	}
	return e, nil
}

// LooksLikeCondition reports whether raw uses any of the expression
// operators, distinguishing a filter/match expression from a bare
// extraction path (mirrors the original select.rs heuristic used by the
// pipeline's Selector stage).
func LooksLikeCondition(raw string) bool {
	for _, tok := range []string{"exists(", "==", "!=", "||", "&&", "=~", " in ", "<", ">"} {
		if strings.Contains(raw, tok) {
			return true
		}
	}
	return false
}

func compileAtom(atom string) (condition, error) {
	if strings.HasPrefix(atom, "exists(") && strings.HasSuffix(atom, ")") {
		path := strings.TrimSuffix(strings.TrimPrefix(atom, "exists("), ")")
		return condition{op: opExists, path: strings.TrimSpace(path)}, nil
	}

	type opTok struct {
		tok string
		op  condOp
	}
	// Longest tokens first so "<=" doesn't get split as "<" + "=".
	ops := []opTok{
		{"!=", opNeq}, {"==", opEq}, {"<=", opLte}, {">=", opGte},
		{"=~", opGlob}, {" in ", opIn}, {"<", opLt}, {">", opGt},
	}
	for _, ot := range ops {
		idx := strings.Index(atom, ot.tok)
		if idx < 0 {
			continue
		}
		path := strings.TrimSpace(atom[:idx])
		rhs := strings.TrimSpace(atom[idx+len(ot.tok):])
		c := condition{op: ot.op, path: path}
		switch ot.op {
		case opGlob:
			pattern := strings.Trim(rhs, "/")
			re, err := regexp.Compile("^" + globToRegex(pattern) + "$")
			if err != nil {
				return condition{}, fmt.Errorf("bad glob pattern %q: %w", rhs, err)
			}
			c.globRe = re
		case opIn:
			rhs = strings.TrimPrefix(rhs, "[")
			rhs = strings.TrimSuffix(rhs, "]")
			for _, item := range strings.Split(rhs, ",") {
				c.listVals = append(c.listVals, unquote(strings.TrimSpace(item)))
			}
		default:
			if rhs == "null" {
				c.isNull = true
			} else if f, err := strconv.ParseFloat(rhs, 64); err == nil && looksNumeric(rhs) {
				c.numVal = f
				c.hasNum = true
			} else {
				c.strVal = unquote(rhs)
			}
		}
		return c, nil
	}
	return condition{}, fmt.Errorf("unrecognized atom %q", atom)
}

func looksNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '-' && i == 0 {
			continue
		}
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

func globToRegex(pattern string) string {
	var b strings.Builder
	for _, r := range pattern {
		switch r {
		case '*':
			b.WriteString(".*")
		case '?':
			b.WriteString(".")
		case '.', '+', '(', ')', '|', '^', '$', '[', ']', '{', '}', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Eval evaluates the compiled expression against frame, a parsed JSON
// value (the decoded, possibly accumulator-flushed frame).
func (e *Expr) Eval(frame gjson.Result) bool {
	for _, group := range e.orGroups {
		if evalGroup(group, frame) {
			return true
		}
	}
	return false
}

// EvalBytes is Eval for callers holding raw JSON bytes.
func (e *Expr) EvalBytes(data []byte) bool {
	return e.Eval(gjson.ParseBytes(data))
}

// String returns the original, uncompiled expression text.
func (e *Expr) String() string { return e.raw }

func evalGroup(group []condition, frame gjson.Result) bool {
	for _, c := range group {
		if !evalCondition(c, frame) {
			return false
		}
	}
	return true
}

func evalCondition(c condition, frame gjson.Result) bool {
	val := GetFromResult(frame, c.path)
	switch c.op {
	case opExists:
		return val.Exists()
	case opEq:
		return matchesEquality(c, val)
	case opNeq:
		return !matchesEquality(c, val)
	case opLt, opLte, opGt, opGte:
		if !val.Exists() || !c.hasNum {
			return false
		}
		v := val.Num
		switch c.op {
		case opLt:
			return v < c.numVal
		case opLte:
			return v <= c.numVal
		case opGt:
			return v > c.numVal
		default:
			return v >= c.numVal
		}
	case opGlob:
		return c.globRe != nil && c.globRe.MatchString(val.String())
	case opIn:
		if !val.Exists() {
			return false
		}
		s := val.String()
		for _, want := range c.listVals {
			if s == want {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func matchesEquality(c condition, val gjson.Result) bool {
	if c.isNull {
		return !val.Exists() || val.Type == gjson.Null
	}
	if c.hasNum {
		return val.Exists() && val.Num == c.numVal
	}
	return val.Exists() && val.String() == c.strVal
}
