// Package selector implements the pure predicate at the heart of spec §4.B:
// does an inbound event match a consumer's declarative selector? It also
// carries a minimal JSONPath evaluator (dot + [n] index only) since the
// source system delegates this to no external engine (spec §9).
package selector

import (
	"fmt"
	"strconv"
	"strings"
)

// segment is one step of a parsed JSONPath: either a map key or a slice index.
type segment struct {
	key      string
	index    int
	isIndex  bool
}

// parsePath parses a simple JSONPath such as "$.a.b[0].c" or "a.b[0].c" into
// a sequence of segments. The leading "$." is optional and stripped if present.
func parsePath(path string) ([]segment, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "$.")
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return nil, fmt.Errorf("selector: empty JSONPath")
	}

	var segments []segment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			continue
		}
		for part != "" {
			open := strings.IndexByte(part, '[')
			if open == -1 {
				segments = append(segments, segment{key: part})
				part = ""
				break
			}
			if open > 0 {
				segments = append(segments, segment{key: part[:open]})
			}
			close := strings.IndexByte(part[open:], ']')
			if close == -1 {
				return nil, fmt.Errorf("selector: unterminated index in %q", path)
			}
			close += open
			idxStr := part[open+1 : close]
			idx, err := strconv.Atoi(idxStr)
			if err != nil {
				return nil, fmt.Errorf("selector: invalid index %q: %w", idxStr, err)
			}
			segments = append(segments, segment{index: idx, isIndex: true})
			part = part[close+1:]
		}
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("selector: no segments parsed from %q", path)
	}
	return segments, nil
}

// Eval walks doc following path and returns the value found there, or
// (nil, false) if any segment is missing or the wrong shape.
func Eval(doc map[string]any, path string) (any, bool) {
	segments, err := parsePath(path)
	if err != nil {
		return nil, false
	}

	var cur any = doc
	for _, seg := range segments {
		if seg.isIndex {
			arr, ok := cur.([]any)
			if !ok || seg.index < 0 || seg.index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.index]
			continue
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		v, present := m[seg.key]
		if !present {
			return nil, false
		}
		cur = v
	}
	return cur, true
}
