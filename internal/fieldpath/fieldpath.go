// Package fieldpath resolves JSONPath-like addresses against decoded JSON
// payloads. The grammar is intentionally small: `$` for the root, `.key` for
// object members, `[n]` for array indexes. A path that steps into an array
// without an explicit index fans out over every element, which is how one rule
// addresses every entry of a repeatable intake section.
package fieldpath

import (
	"fmt"
	"strconv"
	"strings"
)

// SegmentKind discriminates parsed path segments.
type SegmentKind int

const (
	SegmentKey SegmentKind = iota
	SegmentIndex
)

// Segment is one step of a parsed path.
type Segment struct {
	Kind  SegmentKind
	Key   string
	Index int
}

// Parse turns a path string into segments. Paths must start with `$`.
func Parse(path string) ([]Segment, error) {
	if path == "" {
		return nil, fmt.Errorf("fieldpath: empty path")
	}
	if path[0] != '$' {
		return nil, fmt.Errorf("fieldpath: path %q must start with '$'", path)
	}

	var segs []Segment
	rest := path[1:]
	for len(rest) > 0 {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := len(rest)
			for i := 0; i < len(rest); i++ {
				if rest[i] == '.' || rest[i] == '[' {
					end = i
					break
				}
			}
			key := rest[:end]
			if key == "" {
				return nil, fmt.Errorf("fieldpath: empty key in path %q", path)
			}
			segs = append(segs, Segment{Kind: SegmentKey, Key: key})
			rest = rest[end:]
		case '[':
			close := strings.IndexByte(rest, ']')
			if close < 0 {
				return nil, fmt.Errorf("fieldpath: unterminated index in path %q", path)
			}
			idx, err := strconv.Atoi(rest[1:close])
			if err != nil || idx < 0 {
				return nil, fmt.Errorf("fieldpath: bad index %q in path %q", rest[1:close], path)
			}
			segs = append(segs, Segment{Kind: SegmentIndex, Index: idx})
			rest = rest[close+1:]
		default:
			return nil, fmt.Errorf("fieldpath: unexpected character %q in path %q", rest[0], path)
		}
	}
	return segs, nil
}

// Resolve evaluates path against payload and returns every match. Absent
// segments and shape mismatches yield no matches rather than an error; absence
// is a normal outcome for intake data.
func Resolve(payload interface{}, path string) ([]interface{}, error) {
	segs, err := Parse(path)
	if err != nil {
		return nil, err
	}
	return resolveSegments(payload, segs), nil
}

// MustResolve is Resolve for callers holding a pre-validated path.
func MustResolve(payload interface{}, segs []Segment) []interface{} {
	return resolveSegments(payload, segs)
}

func resolveSegments(node interface{}, segs []Segment) []interface{} {
	if len(segs) == 0 {
		return []interface{}{node}
	}
	seg := segs[0]
	rest := segs[1:]

	switch seg.Kind {
	case SegmentKey:
		switch v := node.(type) {
		case map[string]interface{}:
			child, ok := v[seg.Key]
			if !ok {
				return nil
			}
			return resolveSegments(child, rest)
		case []interface{}:
			// Fan out: apply the same key segment to every element.
			var out []interface{}
			for _, elem := range v {
				out = append(out, resolveSegments(elem, segs)...)
			}
			return out
		default:
			return nil
		}
	case SegmentIndex:
		arr, ok := node.([]interface{})
		if !ok || seg.Index >= len(arr) {
			return nil
		}
		return resolveSegments(arr[seg.Index], rest)
	}
	return nil
}
