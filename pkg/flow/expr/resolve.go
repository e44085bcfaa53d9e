// Package expr implements the state-relative expression language used by
// edge conditions and node input/output templates: dotted-path resolution,
// literal parsing, template evaluation, and boolean condition evaluation.
package expr

import (
	"fmt"
	"reflect"
	"strings"
)

// LookupError reports a strict-mode path resolution failure.
type LookupError struct {
	Path    string // the full dotted path being resolved
	Segment string // the segment that was missing
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("path %q: missing segment %q", e.Path, e.Segment)
}

// ResolvePath walks a dotted path into record. A leading "state" segment
// refers to the record root, so "state.a.b" and "a.b" are equivalent.
//
// In lenient mode (strict=false) a missing segment yields (nil, nil).
// In strict mode any missing segment returns a *LookupError naming the path.
// A value of 0, false, "" or an empty list is a real value, never "missing".
func ResolvePath(path string, record map[string]any, strict bool) (any, error) {
	segs := strings.Split(path, ".")
	if len(segs) > 0 && segs[0] == "state" {
		segs = segs[1:]
	}
	if len(segs) == 0 {
		return record, nil
	}

	var cur any = record
	for _, seg := range segs {
		next, ok := lookupSegment(cur, seg)
		if !ok {
			if strict {
				return nil, &LookupError{Path: path, Segment: seg}
			}
			return nil, nil
		}
		cur = next
	}
	return cur, nil
}

// lookupSegment resolves one path segment against a container value.
// Maps are checked by key; structured (struct) values fall back to
// attribute-style lookup by exported field name.
func lookupSegment(v any, seg string) (any, bool) {
	switch m := v.(type) {
	case map[string]any:
		out, ok := m[seg]
		return out, ok
	case map[any]any:
		// yaml.v3 produces map[string]any for string keys, but nested data
		// loaded from other sources may carry interface keys.
		out, ok := m[seg]
		return out, ok
	case nil:
		return nil, false
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	f := rv.FieldByNameFunc(func(name string) bool {
		return strings.EqualFold(name, seg)
	})
	if !f.IsValid() || !f.CanInterface() {
		return nil, false
	}
	return f.Interface(), true
}
