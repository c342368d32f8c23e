// Package jsonpath is the JSON-path read/write engine used by manifest
// compilation and the streaming pipeline: dot-segment paths with
// auto-extending array indices, on top of gjson/sjson (§4.1, §4.2).
package jsonpath

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// ErrIntermediateCollision is returned by Set when a path write would need
// to replace a non-object/non-array value with a container, matching the
// "path write collides with a non-object intermediate" failure mode (§4.1).
var ErrIntermediateCollision = errors.New("jsonpath: path write collides with a non-container intermediate value")

// Normalize strips a leading "$." (or bare "$") from path, tolerating the
// JSONPath-style prefix some manifests use interchangeably with the bare
// dot-segment form (SPEC_FULL.md Supplemented Features #4).
func Normalize(path string) string {
	path = strings.TrimSpace(path)
	if path == "$" {
		return ""
	}
	return strings.TrimPrefix(path, "$.")
}

// Get reads path out of the JSON document data, returning the gjson.Result
// (whose .Exists() distinguishes "absent" from "present but null/zero").
func Get(data []byte, path string) gjson.Result {
	return gjson.GetBytes(data, Normalize(path))
}

// GetFromResult is Get for callers that already hold a gjson.Result for
// the frame (avoids re-parsing on every path lookup within one frame).
func GetFromResult(frame gjson.Result, path string) gjson.Result {
	return frame.Get(Normalize(path))
}

// Set writes value at path within data, creating intermediate objects and
// auto-extending arrays as needed, and returns the updated document. This
// is the compiler's sole write primitive (§4.1 Compile algorithm).
func Set(data []byte, path string, value interface{}) ([]byte, error) {
	norm := Normalize(path)
	if norm == "" {
		return nil, errors.New("jsonpath: empty path")
	}
	segs := strings.Split(norm, ".")
	for i := 1; i < len(segs); i++ {
		parent := gjson.GetBytes(data, strings.Join(segs[:i], "."))
		if parent.Exists() && !parent.IsObject() && !parent.IsArray() {
			return nil, ErrIntermediateCollision
		}
	}
	out, err := sjson.SetBytes(data, norm, value)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetRaw is Set for a value that is already a JSON-encoded byte slice
// (e.g. forwarding a compiled sub-object or an accumulator's flushed
// arguments verbatim, without re-marshaling it).
func SetRaw(data []byte, path string, rawJSON []byte) ([]byte, error) {
	norm := Normalize(path)
	if norm == "" {
		return nil, errors.New("jsonpath: empty path")
	}
	out, err := sjson.SetRawBytes(data, norm, rawJSON)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Exists reports whether path resolves to any value (including null) in
// data.
func Exists(data []byte, path string) bool {
	return Get(data, path).Exists()
}
