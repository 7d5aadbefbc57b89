// Package patch applies the add, replace and remove subset of RFC 6902 JSON
// Patch to decoded JSON documents.
//
// Documents are the values produced by encoding/json: map[string]any,
// []any, string, float64, bool and nil. Paths are '/'-separated segments
// with an optional leading slash. Segments are always object keys: a
// segment that looks like an integer never indexes an array, and arrays
// must be replaced wholesale. move, copy and test are not supported.
//
// Apply never mutates its input. Objects along each patched path are cloned
// as the walk descends; sibling subtrees are shared with the input.
package patch

import (
	"fmt"
	"maps"
	"strings"
)

type (
	// Op is a JSON Patch operation name.
	Op string

	// Operation is a single JSON Patch operation.
	Operation struct {
		Op    Op     `json:"op"`
		Path  string `json:"path"`
		Value any    `json:"value,omitempty"`
	}

	// SecurityError reports a path that names a forbidden segment. No
	// operation of the batch is applied.
	SecurityError struct {
		// Path is the offending operation path.
		Path string
		// Segment is the forbidden segment found in Path.
		Segment string
	}

	// Error reports an operation that cannot be applied, such as an
	// unsupported op. No operation of the batch is applied.
	Error struct {
		Index  int
		Op     Op
		Path   string
		Reason string
	}
)

const (
	OpAdd     Op = "add"
	OpReplace Op = "replace"
	OpRemove  Op = "remove"
)

var forbiddenSegments = map[string]struct{}{
	"__proto__":   {},
	"constructor": {},
	"prototype":   {},
}

// Error implements error.
func (e *SecurityError) Error() string {
	return fmt.Sprintf("patch: forbidden segment %q in path %q", e.Segment, e.Path)
}

// Error implements error.
func (e *Error) Error() string {
	return fmt.Sprintf("patch: operation %d (%s %q): %s", e.Index, e.Op, e.Path, e.Reason)
}

// IsForbidden reports whether seg may not appear in a patch path.
func IsForbidden(seg string) bool {
	_, ok := forbiddenSegments[seg]
	return ok
}

// Validate checks every operation of ops without applying any. It returns a
// *SecurityError for a forbidden path segment and an *Error for an
// unsupported operation.
func Validate(ops []Operation) error {
	for i, op := range ops {
		switch op.Op {
		case OpAdd, OpReplace, OpRemove:
		default:
			return &Error{Index: i, Op: op.Op, Path: op.Path, Reason: "unsupported operation"}
		}
		for _, seg := range ParsePath(op.Path) {
			if IsForbidden(seg) {
				return &SecurityError{Path: op.Path, Segment: seg}
			}
		}
	}
	return nil
}

// Apply returns the result of applying ops to doc in order. The batch is
// all-or-nothing: when any operation fails validation doc is returned
// unchanged along with the error.
//
// add and replace both assign the value, creating missing intermediate
// objects. remove deletes the key and is a no-op when the path does not
// exist. An empty path addresses the whole document.
func Apply(doc any, ops []Operation) (any, error) {
	if err := Validate(ops); err != nil {
		return doc, err
	}
	out := doc
	for _, op := range ops {
		segs := ParsePath(op.Path)
		if len(segs) == 0 {
			if op.Op == OpRemove {
				out = nil
			} else {
				out = op.Value
			}
			continue
		}
		out, _ = apply(out, segs, op)
	}
	return out, nil
}

// ParsePath splits a JSON Pointer style path into unescaped segments. ""
// and "/" both denote the document root.
func ParsePath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	if path == "" {
		return nil
	}
	segs := strings.Split(path, "/")
	for i, s := range segs {
		if strings.Contains(s, "~") {
			s = strings.ReplaceAll(s, "~1", "/")
			segs[i] = strings.ReplaceAll(s, "~0", "~")
		}
	}
	return segs
}

// apply returns the patched node and whether anything changed. Unchanged
// nodes are returned as is so removes of missing paths allocate nothing.
func apply(node any, segs []string, op Operation) (any, bool) {
	obj, ok := node.(map[string]any)
	if !ok {
		if op.Op == OpRemove {
			return node, false
		}
		obj = nil
	}
	key := segs[0]
	if len(segs) == 1 {
		if op.Op == OpRemove {
			if _, exists := obj[key]; !exists {
				return node, false
			}
			clone := maps.Clone(obj)
			delete(clone, key)
			return clone, true
		}
		clone := cloneObject(obj)
		clone[key] = op.Value
		return clone, true
	}
	next, changed := apply(obj[key], segs[1:], op)
	if !changed {
		return node, false
	}
	clone := cloneObject(obj)
	clone[key] = next
	return clone, true
}

func cloneObject(obj map[string]any) map[string]any {
	if obj == nil {
		return make(map[string]any, 1)
	}
	return maps.Clone(obj)
}
