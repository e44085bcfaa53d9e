package state

import "sort"

// Indexed tags a fan-out contribution with its dispatch index so the
// ordered-append reducer can restore deterministic order at merge time,
// regardless of parallel completion order.
type Indexed struct {
	Index int
	Value any
}

// merge applies a field's reducer to the previous value and an incoming
// partial update value, returning the new field value.
func merge(spec FieldSpec, prev, delta any) any {
	switch spec.Reduce {
	case ReduceAppend:
		return appendLists(prev, delta)
	case ReduceOrderedAppend:
		return orderedAppend(prev, delta)
	default:
		return delta
	}
}

// appendLists concatenates prev and delta as lists, in write order.
// Non-list values are treated as single-element contributions.
func appendLists(prev, delta any) any {
	out := append([]any{}, asList(prev)...)
	return append(out, asList(delta)...)
}

// orderedAppend concatenates, stable-sorts by embedded fan-out index, and
// unwraps the Indexed markers. Elements carried over from earlier merges
// have no index and sort before any indexed contribution, preserving their
// positions. All contributions from one fan-out generation must therefore
// arrive in a single merge.
func orderedAppend(prev, delta any) any {
	combined := append([]any{}, asList(prev)...)
	combined = append(combined, asList(delta)...)

	sort.SliceStable(combined, func(i, j int) bool {
		return sortIndex(combined[i]) < sortIndex(combined[j])
	})

	out := make([]any, len(combined))
	for i, v := range combined {
		if iv, ok := v.(Indexed); ok {
			out[i] = iv.Value
		} else {
			out[i] = v
		}
	}
	return out
}

func sortIndex(v any) int {
	if iv, ok := v.(Indexed); ok {
		return iv.Index
	}
	const unindexed = -1 << 62
	return unindexed
}

func asList(v any) []any {
	switch l := v.(type) {
	case nil:
		return nil
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	default:
		return []any{v}
	}
}
